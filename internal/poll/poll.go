// Package poll reads the next sensor on the bus and republishes Celsius readings.
// One Step is one loop iteration, it returns the pause to apply before the next.
package poll

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/temoto/alive/v2"
	"github.com/temoto/w1temp/hardware/ds18"
	"github.com/temoto/w1temp/helpers"
	"github.com/temoto/w1temp/internal/history"
	"github.com/temoto/w1temp/internal/state"
	"github.com/temoto/w1temp/log2"
	tele_api "github.com/temoto/w1temp/tele"
)

const (
	DefaultSuccessDelay = 60 * time.Second
	DefaultIdleDelay    = 250 * time.Millisecond

	// history is trimmed to config keep after this many records
	trimEvery = 100
)

const MsgNoMoreAddresses = "No more addresses."

// Sensor is satisfied by *ds18.Sensor.
type Sensor interface {
	Read() bool
	SearchDone() bool
	CRCError() bool
	Type() ds18.Type
	Addr() ds18.Address
	Data() [ds18.ScratchpadLength]byte
	Celsius() float64
}

type Config struct {
	SuccessDelay time.Duration
	IdleDelay    time.Duration
	Variable     string
	Event        string
	StartEvent   string
	StartMessage string
	HistoryKeep  int
}

// Poller owns the sensor for process lifetime. Not safe for concurrent Step.
type Poller struct {
	Config
	Console  io.Writer
	History  *history.Store
	Log      *log2.Log
	Reading  *state.Reading
	Sensor   Sensor
	Tele     tele_api.Teler
	SdNotify func(string) (bool, error)

	alive        *alive.Alive
	added        int
	watchdog     time.Duration
	watchdogLast time.Time
}

// New builds Poller from state Global.
func New(ctx context.Context, sensor Sensor, console io.Writer) *Poller {
	g := state.GetGlobal(ctx)
	pc := &g.Config.Poll
	return &Poller{
		Config: Config{
			SuccessDelay: helpers.IntSecondDefault(pc.SuccessDelaySec, DefaultSuccessDelay),
			IdleDelay:    helpers.IntMillisecondDefault(pc.IdleDelayMs, DefaultIdleDelay),
			Variable:     pc.Variable,
			Event:        pc.Event,
			StartEvent:   pc.StartEvent,
			StartMessage: pc.StartMessage,
			HistoryKeep:  g.Config.History.Keep,
		},
		Console: console,
		History: g.History,
		Log:     g.Log,
		Reading: &g.Reading,
		Sensor:  sensor,
		Tele:    g.Tele,
		alive:   g.Alive,
	}
}

// Setup registers reading as remote variable and publishes startup event.
func (self *Poller) Setup(ctx context.Context) {
	self.Tele.Variable(self.Variable, self.Reading.Get)
	if err := self.Tele.Publish(self.StartEvent, self.StartMessage, tele_api.Public); err != nil {
		self.Log.Errorf("poll setup publish err=%v", err)
	}
}

// Step attempts one sensor read, writes console lines and returns pause before next Step.
func (self *Poller) Step(ctx context.Context) time.Duration {
	var pause time.Duration
	if self.Sensor.Read() {
		c := self.Sensor.Celsius()
		self.onReading(ctx, c)
		self.printf("Temperature %.2f C %.2f F ", c, ds18.CelsiusToFahrenheit(c))
		if err := self.Tele.Publish(self.Event, tele_api.FormatVariable(c), tele_api.Private); err != nil {
			self.Log.Errorf("poll publish err=%v", err)
		}
		pause = self.SuccessDelay
		self.printf("%s", Diagnostics(self.Sensor))
	} else if self.Sensor.SearchDone() {
		self.printf("%s\n", MsgNoMoreAddresses)
		pause = self.IdleDelay
	} else {
		self.printf("%s", Diagnostics(self.Sensor))
	}
	self.printf("\n")
	return pause
}

// Loop runs Step until alive stop.
func (self *Poller) Loop(ctx context.Context) {
	self.watchdogInit()
	stopch := self.alive.StopChan()
	for self.alive.IsRunning() {
		pause := self.Step(ctx)
		self.watchdogPing()
		if !self.sleep(pause, stopch) {
			return
		}
	}
}

// sleep keeps pinging watchdog through long pause, false on stop.
func (self *Poller) sleep(pause time.Duration, stopch <-chan struct{}) bool {
	for pause > 0 {
		d := pause
		if self.watchdog > 0 && d > self.watchdog {
			d = self.watchdog
		}
		if !helpers.Sleep(d, stopch) {
			return false
		}
		pause -= d
		self.watchdogPing()
	}
	return true
}

func (self *Poller) onReading(ctx context.Context, c float64) {
	if err := self.Reading.Store(c); err != nil {
		self.Log.Errorf("reading store err=%v", err)
	}
	if self.History == nil {
		return
	}
	r := history.Record{Time: time.Now(), Celsius: c, ROM: self.Sensor.Addr().String()}
	if err := self.History.Add(ctx, r); err != nil {
		self.Log.Errorf("history err=%v", err)
		return
	}
	self.added++
	if self.HistoryKeep > 0 && self.added%trimEvery == 0 {
		if n, err := self.History.Trim(ctx, self.HistoryKeep); err != nil {
			self.Log.Errorf("history trim err=%v", err)
		} else if n > 0 {
			self.Log.Debugf("history trim deleted=%d", n)
		}
	}
}

func (self *Poller) printf(format string, args ...interface{}) {
	if self.Console == nil {
		return
	}
	if err := helpers.WriteString(self.Console, fmt.Sprintf(format, args...)); err != nil {
		self.Log.Debugf("console write err=%v", err)
	}
}

func (self *Poller) watchdogInit() {
	if self.SdNotify == nil {
		self.SdNotify = func(s string) (bool, error) { return daemon.SdNotify(false, s) }
	}
	if self.watchdog != 0 {
		return
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		self.Log.Errorf("systemd watchdog err=%v", err)
		return
	}
	// ping twice per interval
	self.watchdog = d / 2
}

func (self *Poller) watchdogPing() {
	if self.watchdog <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(self.watchdogLast) < self.watchdog {
		return
	}
	self.watchdogLast = now
	if _, err := self.SdNotify(daemon.SdNotifyWatchdog); err != nil {
		self.Log.Errorf("sdnotify watchdog err=%v", err)
	}
}
