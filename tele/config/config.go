// Separate package is workaround to import cycles.
package tele_config

type Config struct { //nolint:maligned
	Enabled           bool   `hcl:"enable"`
	DeviceId          string `hcl:"device_id"`
	TopicPrefix       string `hcl:"topic_prefix"`
	Transport         string `hcl:"transport"` // paho (default) | gomqtt
	LogDebug          bool   `hcl:"log_debug"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	MqttBroker        string `hcl:"mqtt_broker"`
	MqttLogDebug      bool   `hcl:"mqtt_log_debug"`
	MqttUsername      string `hcl:"mqtt_username"`
	MqttPassword      string `hcl:"mqtt_password"` // secret
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	RetryDelaySec     int    `hcl:"retry_delay_sec"`
	TlsCaFile         string `hcl:"tls_ca_file"`

	PersistPath  string `hcl:"-"`
	BuildVersion string `hcl:"-"`
}

const (
	TransportPaho   = "paho"
	TransportGomqtt = "gomqtt"
)

func (c *Config) Prefix() string {
	if c.TopicPrefix != "" {
		return c.TopicPrefix
	}
	return "dev" + c.DeviceId
}
