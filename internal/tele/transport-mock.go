package tele

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/temoto/w1temp/log2"
	tele_config "github.com/temoto/w1temp/tele/config"
)

type MockMessage struct {
	Topic   string
	Payload string
	Retain  bool
}

// TransportMock records sent messages, optionally failing first N sends.
type TransportMock struct {
	sync.Mutex
	FailNext   int32 // atomic
	Sent       chan MockMessage
	onVariable VariableCallback
	closed     bool
}

var _ Transporter = &TransportMock{} // compile-time interface test

func NewTransportMock() *TransportMock {
	return &TransportMock{Sent: make(chan MockMessage, 64)}
}

func (self *TransportMock) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, onVariable VariableCallback) error {
	self.Lock()
	self.onVariable = onVariable
	self.Unlock()
	return nil
}

func (self *TransportMock) Send(topic string, payload []byte, retain bool) bool {
	if atomic.AddInt32(&self.FailNext, -1) >= 0 {
		return false
	}
	atomic.StoreInt32(&self.FailNext, 0)
	self.Sent <- MockMessage{Topic: topic, Payload: string(payload), Retain: retain}
	return true
}

func (self *TransportMock) Close() {
	self.Lock()
	self.closed = true
	self.Unlock()
}

func (self *TransportMock) Closed() bool {
	self.Lock()
	defer self.Unlock()
	return self.closed
}

// RequestVariable simulates remote variable request.
func (self *TransportMock) RequestVariable(name string) {
	self.Lock()
	f := self.onVariable
	self.Unlock()
	f(name)
}
