package tele

import (
	"context"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
	"github.com/temoto/w1temp/helpers"
	"github.com/temoto/w1temp/log2"
	tele_api "github.com/temoto/w1temp/tele"
	tele_config "github.com/temoto/w1temp/tele/config"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultRetryDelay     = 5 * time.Second
	DefaultKeepalive      = 60 * time.Second
)

const logMsgDisabled = "tele disabled"

// Tele contract:
// - Init() fails only with invalid config, network issues ignored
// - Publish/Error block at most for disk write
//   network may be slow or absent, messages will be delivered in background
// - events delivered at least once, in order of Publish
// - variable replies are not queued, request is simply repeated by remote side
type tele struct { //nolint:maligned
	alive     *alive.Alive
	backoff   helpers.Backoff
	config    tele_config.Config
	log       *log2.Log
	prefix    string
	q         *spq.Queue
	transport Transporter

	mu   sync.Mutex
	stat tele_api.Stat
	vars map[string]tele_api.VariableFunc
}

func New() tele_api.Teler {
	return &tele{}
}
func NewWithTransporter(trans Transporter) tele_api.Teler {
	return &tele{transport: trans}
}

func (self *tele) Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config) error {
	self.config = teleConfig
	self.log = log
	if self.config.LogDebug {
		self.log.SetLevel(log2.LDebug)
	}
	self.prefix = self.config.Prefix()
	self.vars = make(map[string]tele_api.VariableFunc)
	self.alive = alive.NewAlive()
	if !self.config.Enabled {
		self.log.Infof(logMsgDisabled)
		return nil
	}
	if self.backoff.Min == 0 {
		self.backoff.Min = helpers.IntSecondDefault(self.config.RetryDelaySec, DefaultRetryDelay)
		self.backoff.Max = 12 * self.backoff.Min
		self.backoff.K = 2
	}

	// test code sets .transport
	if self.transport == nil { // production path
		var err error
		if self.transport, err = newTransport(self.config.Transport); err != nil {
			return errors.Annotate(err, "tele init")
		}
	}
	if err := self.transport.Init(ctx, log, teleConfig, self.onVariableRequest); err != nil {
		return errors.Annotate(err, "tele transport")
	}

	path := self.config.PersistPath
	if path == "" {
		path = spq.OnlyForTesting
	}
	var err error
	self.q, err = spq.Open(path)
	if err != nil {
		return errors.Annotate(err, "tele queue")
	}

	self.alive.Add(1)
	go self.qworker()
	return nil
}

// Close stops delivery, undelivered events stay in persistent queue.
func (self *tele) Close() {
	if self.alive == nil {
		return
	}
	self.alive.Stop()
	if self.q != nil {
		if err := self.q.Close(); err != nil {
			self.log.Errorf("tele queue close err=%v", err)
		}
	}
	self.alive.Wait()
	if self.transport != nil && self.config.Enabled {
		self.transport.Close()
	}
}

func (self *tele) Error(e error) {
	if e == nil {
		return
	}
	if err := self.Publish(tele_api.EventError, e.Error(), tele_api.Private); err != nil {
		self.log.Errorf("tele error publish err=%v", err)
	}
}

func (self *tele) Variable(name string, get tele_api.VariableFunc) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.vars == nil {
		self.vars = make(map[string]tele_api.VariableFunc)
	}
	self.vars[name] = get
}

func (self *tele) Publish(name, data string, v tele_api.Visibility) error {
	if !self.config.Enabled {
		self.log.Debugf("%s publish name=%s data=%s", logMsgDisabled, name, data)
		return nil
	}
	if name == "" {
		return errors.NotValidf("event name empty")
	}
	if self.q == nil {
		return errors.Errorf("code error tele Publish before Init")
	}
	ev := tele_api.Event{
		Id:         uuid.New().String(),
		Name:       name,
		Data:       data,
		Visibility: v,
		Time:       time.Now().UnixNano(),
		DeviceId:   self.config.DeviceId,
	}
	if err := self.qpushTagProto(qEvent, &ev); err != nil {
		return errors.Annotatef(err, "tele publish name=%s", name)
	}
	self.statModify(func(s *tele_api.Stat) { s.Published++ })
	return nil
}

func (self *tele) Stat() tele_api.Stat {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.stat
}

func (self *tele) statModify(fun func(*tele_api.Stat)) {
	helpers.WithLock(&self.mu, func() { fun(&self.stat) })
}

func (self *tele) onVariableRequest(name string) {
	self.statModify(func(s *tele_api.Stat) { s.VariableRequests++ })
	self.mu.Lock()
	get, ok := self.vars[name]
	self.mu.Unlock()
	if !ok {
		self.log.Infof("tele variable request unknown name=%s", name)
		return
	}
	payload := []byte(tele_api.FormatVariable(get()))
	if !self.transport.Send(TopicVariable(self.prefix, name), payload, true) {
		self.log.Infof("tele variable reply name=%s failed", name)
	}
}

// denote value type in persistent queue bytes form
const (
	qEvent byte = 1
)

func (self *tele) qworker() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			// success path
			b := box.Bytes()
			var del bool
			del, err = self.qhandle(b)
			if err != nil {
				self.log.Errorf("tele qhandle b=%x err=%v", b, err)
			}
			if del {
				self.backoff.Reset()
				if err = self.q.Delete(box); err != nil {
					self.log.Errorf("tele qhandle Delete b=%x err=%v", b, err)
				}
				continue
			}
			if err = self.q.DeletePush(box); err != nil {
				self.log.Errorf("tele qhandle DeletePush b=%x err=%v", b, err)
			}
			self.backoff.Failure()
			if !helpers.Sleep(self.backoff.DelayBefore(), stopch) {
				return
			}

		case spq.ErrClosed:
			if self.alive.IsRunning() {
				self.log.Errorf("CRITICAL tele spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL tele spq err=%v", err)
			if !helpers.Sleep(self.backoff.Min, stopch) {
				return
			}
		}
	}
}

// Returns true when record should be deleted from queue.
func (self *tele) qhandle(b []byte) (bool, error) {
	if len(b) == 0 {
		return true, errors.Errorf("tele spq peek=empty")
	}

	switch b[0] {
	case qEvent:
		var ev tele_api.Event
		if err := proto.Unmarshal(b[1:], &ev); err != nil {
			return true, err
		}
		ok := self.qsendEvent(&ev)
		self.statModify(func(s *tele_api.Stat) {
			if ok {
				s.Delivered++
			} else {
				s.Failed++
			}
		})
		return ok, nil

	default:
		return true, errors.Errorf("unknown kind=%d", b[0])
	}
}

func (self *tele) qpushTagProto(tag byte, pb proto.Message) error {
	buf := proto.NewBuffer(make([]byte, 0, 256))
	if err := buf.EncodeVarint(uint64(tag)); err != nil {
		return err
	}
	if err := buf.Marshal(pb); err != nil {
		return err
	}
	return self.q.Push(buf.Bytes())
}

func (self *tele) qsendEvent(ev *tele_api.Event) bool {
	topic := TopicEvent(self.prefix, ev.Name, ev.Visibility)
	self.log.Debugf("tele send topic=%s id=%s data=%s", topic, ev.Id, ev.Data)
	return self.transport.Send(topic, []byte(ev.Data), false)
}
