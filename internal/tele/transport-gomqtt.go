package tele

import (
	"context"
	"strings"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
	"github.com/temoto/w1temp/helpers"
	"github.com/temoto/w1temp/log2"
	tele_config "github.com/temoto/w1temp/tele/config"
	"github.com/temoto/w1temp/tele/mqtt"
)

type transportGomqtt struct {
	log           *log2.Log
	m             *mqtt.Client
	topicConnect  string
	topicVariable string
	timeout       time.Duration
}

func (self *transportGomqtt) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, onVariable VariableCallback) error {
	self.log = log
	mqttLog := log.Clone(log2.LInfo)
	if teleConfig.MqttLogDebug {
		mqttLog.SetLevel(log2.LDebug)
	}
	prefix := teleConfig.Prefix()
	self.topicConnect = TopicConnect(prefix)
	self.topicVariable = TopicVariableRequest(prefix)
	tlsconf, err := loadTLS(teleConfig)
	if err != nil {
		return err
	}
	keepalive := helpers.IntSecondDefault(teleConfig.KeepaliveSec, DefaultKeepalive)
	self.timeout = helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, DefaultNetworkTimeout)

	onMessage := func(msg *packet.Message) error {
		if msg.Topic != self.topicVariable {
			self.log.Errorf("tele: MQTT received message in unexpected topic=%s payload=%x", msg.Topic, msg.Payload)
			return nil
		}
		onVariable(strings.TrimSpace(string(msg.Payload)))
		return nil
	}
	onReady := func(c *mqtt.Client) {
		msg := &packet.Message{Topic: self.topicConnect, Payload: PayloadOnline, QOS: packet.QOSAtLeastOnce, Retain: true}
		if err := c.Publish(ctx, msg); err != nil {
			self.log.Infof("mqtt publish online err=%v", err)
		}
	}
	self.m, err = mqtt.NewClient(mqtt.ClientOptions{
		Log:            mqttLog,
		BrokerURL:      teleConfig.MqttBroker,
		TLS:            tlsconf,
		KeepaliveSec:   uint16(keepalive.Seconds()),
		NetworkTimeout: self.timeout,
		ReconnectDelay: helpers.IntSecondDefault(teleConfig.RetryDelaySec, DefaultRetryDelay),
		ClientID:       prefix,
		Username:       teleConfig.MqttUsername,
		Password:       teleConfig.MqttPassword,
		Subscriptions:  []packet.Subscription{{Topic: self.topicVariable, QOS: packet.QOSAtLeastOnce}},
		Will:           &packet.Message{Topic: self.topicConnect, Payload: PayloadOffline, QOS: packet.QOSAtLeastOnce, Retain: true},
		OnMessage:      onMessage,
		OnReady:        onReady,
	})
	return errors.Annotatef(err, "tele init")
}

// Close publishes offline state, because DISCONNECT suppresses will message.
func (self *transportGomqtt) Close() {
	if self.m.Connected() {
		ctx, cancel := context.WithTimeout(context.Background(), self.timeout)
		msg := &packet.Message{Topic: self.topicConnect, Payload: PayloadOffline, QOS: packet.QOSAtLeastOnce, Retain: true}
		if err := self.m.Publish(ctx, msg); err != nil {
			self.log.Debugf("mqtt publish offline err=%v", err)
		}
		cancel()
	}
	if err := self.m.Close(); err != nil {
		self.log.Debugf("mqtt close err=%v", err)
	}
}

func (self *transportGomqtt) Send(topic string, payload []byte, retain bool) bool {
	if !self.m.Connected() {
		self.log.Debugf("mqtt send topic=%s offline", topic)
		return false
	}
	msg := &packet.Message{Topic: topic, Payload: payload, QOS: packet.QOSAtLeastOnce, Retain: retain}
	if err := self.m.Publish(context.Background(), msg); err != nil {
		self.log.Infof("mqtt publish topic=%s err=%v", topic, err)
		return false
	}
	return true
}
