package tele

import (
	"context"
	"strconv"
	"sync"

	"github.com/temoto/w1temp/log2"
	tele_config "github.com/temoto/w1temp/tele/config"
)

//go:generate protoc --go_out=./ event.proto

// Well known event names.
const (
	EventError = "error"
)

// VariableFunc returns current value of named remote-readable variable.
type VariableFunc func() float64

func FormatVariable(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// Teler interface is cloud channel client, device side.
// - Publish returns after event is stored, delivery is done in background, at least once
// - Variable registers value for remote polling, last registration wins
// - Init fails only with invalid config, network issues ignored
type Teler interface {
	Init(context.Context, *log2.Log, tele_config.Config) error
	Close()
	Error(error)
	Variable(name string, get VariableFunc)
	Publish(name, data string, v Visibility) error
	Stat() Stat
}

type Stat struct {
	Published        uint32
	Delivered        uint32
	Failed           uint32
	VariableRequests uint32
}

// Recorder is in-memory Teler, used in tests and console mode.
type Recorder struct {
	mu        sync.Mutex
	Events    []Event
	Errors    []error
	Variables map[string]VariableFunc
}

var _ Teler = &Recorder{} // compile-time interface test

func NewRecorder() *Recorder { return &Recorder{Variables: make(map[string]VariableFunc)} }

func (self *Recorder) Init(context.Context, *log2.Log, tele_config.Config) error { return nil }
func (self *Recorder) Close()                                                    {}

func (self *Recorder) Error(e error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Errors = append(self.Errors, e)
}

func (self *Recorder) Variable(name string, get VariableFunc) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Variables[name] = get
}

func (self *Recorder) Publish(name, data string, v Visibility) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Events = append(self.Events, Event{Name: name, Data: data, Visibility: v})
	return nil
}

func (self *Recorder) Stat() Stat {
	self.mu.Lock()
	defer self.mu.Unlock()
	n := uint32(len(self.Events))
	return Stat{Published: n, Delivered: n}
}

// Get reads registered variable, ok=false if not registered.
func (self *Recorder) Get(name string) (float64, bool) {
	self.mu.Lock()
	f, ok := self.Variables[name]
	self.mu.Unlock()
	if !ok {
		return 0, false
	}
	return f(), true
}

func (self *Recorder) Snapshot() []Event {
	self.mu.Lock()
	defer self.mu.Unlock()
	r := make([]Event, len(self.Events))
	copy(r, self.Events)
	return r
}
