package tele

import (
	"context"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/w1temp/helpers"
	"github.com/temoto/w1temp/log2"
	tele_config "github.com/temoto/w1temp/tele/config"
)

type transportPaho struct {
	alive      *alive.Alive
	log        *log2.Log
	m          mqtt.Client
	onVariable VariableCallback
	retryDelay time.Duration
	timeout    time.Duration

	topicConnect  string
	topicVariable string
}

func (self *transportPaho) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, onVariable VariableCallback) error {
	self.log = log
	mqttLog := log.Clone(log2.LInfo)
	if teleConfig.MqttLogDebug {
		mqttLog.SetLevel(log2.LDebug)
		mqtt.DEBUG = mqttLog
	}
	mqtt.ERROR = mqttLog
	mqtt.CRITICAL = mqttLog
	mqtt.WARN = mqttLog

	if teleConfig.MqttBroker == "" {
		return errors.NotValidf("tele mqtt_broker empty")
	}
	prefix := teleConfig.Prefix()
	self.onVariable = onVariable
	self.topicConnect = TopicConnect(prefix)
	self.topicVariable = TopicVariableRequest(prefix)
	self.timeout = helpers.IntSecondDefault(teleConfig.NetworkTimeoutSec, DefaultNetworkTimeout)
	self.retryDelay = helpers.IntSecondDefault(teleConfig.RetryDelaySec, DefaultRetryDelay)
	keepAlive := helpers.IntSecondDefault(teleConfig.KeepaliveSec, DefaultKeepalive)
	tlsconf, err := loadTLS(teleConfig)
	if err != nil {
		return err
	}

	mopt := mqtt.NewClientOptions().
		AddBroker(teleConfig.MqttBroker).
		SetAutoReconnect(true).
		SetBinaryWill(self.topicConnect, PayloadOffline, 1, true).
		SetCleanSession(true).
		SetClientID(prefix).
		SetConnectTimeout(self.timeout).
		SetConnectionLostHandler(self.connectLostHandler).
		SetDefaultPublishHandler(self.messageHandler).
		SetKeepAlive(keepAlive).
		SetMaxReconnectInterval(self.retryDelay).
		SetOnConnectHandler(self.onConnectHandler).
		SetOrderMatters(false).
		SetPingTimeout(self.timeout).
		SetUsername(teleConfig.MqttUsername).
		SetPassword(teleConfig.MqttPassword)
	if tlsconf != nil {
		mopt.SetTLSConfig(tlsconf)
	}
	self.m = mqtt.NewClient(mopt)
	self.alive = alive.NewAlive()
	self.alive.Add(1)
	go self.connectLoop()
	return nil
}

func (self *transportPaho) Close() {
	self.alive.Stop()
	self.alive.Wait()
	if self.m.IsConnected() {
		self.m.Publish(self.topicConnect, 1, true, PayloadOffline).WaitTimeout(self.timeout)
	}
	self.m.Disconnect(uint(self.timeout / time.Millisecond))
}

func (self *transportPaho) Send(topic string, payload []byte, retain bool) bool {
	if !self.m.IsConnected() {
		self.log.Debugf("mqtt send topic=%s offline", topic)
		return false
	}
	token := self.m.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(self.timeout) {
		self.log.Infof("mqtt publish topic=%s timeout", topic)
		return false
	}
	if err := token.Error(); err != nil {
		self.log.Infof("mqtt publish topic=%s err=%v", topic, err)
		return false
	}
	return true
}

// Initial connect is retried here, paho auto reconnect handles connections lost later.
func (self *transportPaho) connectLoop() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for self.alive.IsRunning() {
		token := self.m.Connect()
		if token.WaitTimeout(self.timeout) && token.Error() == nil {
			return
		}
		self.log.Infof("mqtt connect err=%v", token.Error())
		if !helpers.Sleep(self.retryDelay, stopch) {
			return
		}
	}
}

func (self *transportPaho) messageHandler(c mqtt.Client, msg mqtt.Message) {
	if msg.Topic() != self.topicVariable {
		self.log.Errorf("mqtt message in unexpected topic=%s payload=%x", msg.Topic(), msg.Payload())
		return
	}
	self.onVariable(strings.TrimSpace(string(msg.Payload())))
}

func (self *transportPaho) connectLostHandler(c mqtt.Client, err error) {
	self.log.Infof("mqtt disconnect err=%v", err)
}

func (self *transportPaho) onConnectHandler(c mqtt.Client) {
	self.log.Infof("mqtt connect")
	if token := c.Subscribe(self.topicVariable, 1, nil); token.WaitTimeout(self.timeout) && token.Error() != nil {
		self.log.Errorf("mqtt subscribe topic=%s err=%v", self.topicVariable, token.Error())
		return
	}
	c.Publish(self.topicConnect, 1, true, PayloadOnline)
}
