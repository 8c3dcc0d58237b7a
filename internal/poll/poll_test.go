package poll

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/w1temp/hardware/ds18"
	state_new "github.com/temoto/w1temp/internal/state/new"
	tele_api "github.com/temoto/w1temp/tele"
)

type fakeRead struct {
	ok       bool
	done     bool
	crcError bool
	typ      ds18.Type
	addr     ds18.Address
	data     [ds18.ScratchpadLength]byte
	celsius  float64
}

// fakeSensor replays scripted reads, last one repeats.
type fakeSensor struct {
	reads []fakeRead
	cur   fakeRead
	n     int
}

func (self *fakeSensor) Read() bool {
	i := self.n
	if i >= len(self.reads) {
		i = len(self.reads) - 1
	}
	self.cur = self.reads[i]
	self.n++
	return self.cur.ok
}
func (self *fakeSensor) SearchDone() bool                  { return self.cur.done }
func (self *fakeSensor) CRCError() bool                    { return self.cur.crcError }
func (self *fakeSensor) Type() ds18.Type                   { return self.cur.typ }
func (self *fakeSensor) Addr() ds18.Address                { return self.cur.addr }
func (self *fakeSensor) Data() [ds18.ScratchpadLength]byte { return self.cur.data }
func (self *fakeSensor) Celsius() float64                  { return self.cur.celsius }

var testAddr = ds18.Address{0x28, 0, 0, 0, 0, 0, 0, 0x01}

func TestFormatDebug(t *testing.T) {
	t.Parallel()

	var zero [ds18.ScratchpadLength]byte
	ff := zero
	ff[8] = 0xff
	cases := []struct {
		crc    bool
		typ    ds18.Type
		data   [ds18.ScratchpadLength]byte
		expect string
	}{
		{true, ds18.TypeDS18B20, zero, "CRC Error DS18B20 ROM=2800000000000001 data=000000000000000000"},
		{true, ds18.TypeDS18B20, ff, "CRC Error DS18B20 ROM=2800000000000001 data=0000000000000000FF"},
		{false, ds18.TypeDS1820, zero, "DS1820 ROM=2800000000000001 data=000000000000000000"},
		{false, ds18.TypeDS1822, zero, "DS1822 ROM=2800000000000001 data=000000000000000000"},
		{false, ds18.TypeDS2438, zero, "DS2438 ROM=2800000000000001 data=000000000000000000"},
		{false, ds18.TypeUnknown, zero, "UNKNOWN ROM=2800000000000001 data=000000000000000000"},
		{false, ds18.Type(200), zero, "UNKNOWN ROM=2800000000000001 data=000000000000000000"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.expect, func(t *testing.T) {
			assert.Equal(t, c.expect, FormatDebug(c.crc, c.typ, testAddr, c.data))
		})
	}
}

func TestFormatDebugWidth(t *testing.T) {
	t.Parallel()
	addr := ds18.Address{0xab, 0x0c, 0xff, 0x10, 0x01, 0x00, 0x7e, 0x9a}
	data := [ds18.ScratchpadLength]byte{0x0a, 0xb0, 0x01, 0x02, 0x03, 0x04, 0x05, 0xde, 0xad}
	s := FormatDebug(false, ds18.TypeDS18B20, addr, data)
	parts := strings.Split(s, " ")
	require.Len(t, parts, 3)
	rom := strings.TrimPrefix(parts[1], "ROM=")
	hex := strings.TrimPrefix(parts[2], "data=")
	assert.Equal(t, "AB0CFF1001007E9A", rom)
	assert.Equal(t, "0AB00102030405DEAD", hex)
	assert.Len(t, rom, 16)
	assert.Len(t, hex, 18)
	assert.Equal(t, strings.ToUpper(hex), hex)
}

func newTestPoller(t testing.TB, conf string, sensor Sensor) (context.Context, *Poller, *bytes.Buffer, *tele_api.Recorder) {
	ctx, g := state_new.NewTestContext(t, conf)
	buf := &bytes.Buffer{}
	if sensor == nil {
		s, err := g.Sensor()
		require.NoError(t, err)
		sensor = s
	}
	p := New(ctx, sensor, buf)
	return ctx, p, buf, state_new.Recorder(t, g)
}

func TestStepSuccess(t *testing.T) {
	t.Parallel()
	s := &fakeSensor{reads: []fakeRead{{ok: true, typ: ds18.TypeDS18B20, addr: testAddr, celsius: 23.456}}}
	ctx, p, buf, rec := newTestPoller(t, "", s)

	pause := p.Step(ctx)
	assert.Equal(t, DefaultSuccessDelay, pause)
	assert.Equal(t, "Temperature 23.46 C 74.22 F DS18B20 ROM=2800000000000001 data=000000000000000000\n", buf.String())
	assert.Equal(t, 23.456, p.Reading.Get())
	assert.True(t, p.Reading.Valid())

	events := rec.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "temperature", events[0].Name)
	assert.Equal(t, "23.456000", events[0].Data)
	assert.Equal(t, tele_api.Private, events[0].Visibility)
}

func TestStepSameSource(t *testing.T) {
	t.Parallel()
	values := []float64{-55, -0.0625, 0, 0.5, 21.9999, 85, 125}
	reads := make([]fakeRead, len(values))
	for i, v := range values {
		reads[i] = fakeRead{ok: true, typ: ds18.TypeDS18B20, celsius: v}
	}
	ctx, p, buf, rec := newTestPoller(t, "", &fakeSensor{reads: reads})
	for _, v := range values {
		buf.Reset()
		p.Step(ctx)
		expect := fmt.Sprintf("Temperature %.2f C %.2f F ", v, v*1.8+32)
		assert.True(t, strings.HasPrefix(buf.String(), expect), "console=%q expected prefix=%q", buf.String(), expect)
	}
	events := rec.Snapshot()
	require.Len(t, events, len(values))
	for i, v := range values {
		assert.Equal(t, tele_api.FormatVariable(v), events[i].Data)
	}
}

func TestStepSearchDone(t *testing.T) {
	t.Parallel()
	s := &fakeSensor{reads: []fakeRead{{ok: false, done: true}}}
	ctx, p, buf, rec := newTestPoller(t, "poll { idle_delay_ms = 100 }", s)

	assert.Equal(t, 100*time.Millisecond, p.Step(ctx))
	assert.Equal(t, "No more addresses.\n\n", buf.String())
	assert.Len(t, rec.Snapshot(), 0)
	assert.False(t, p.Reading.Valid())
}

func TestStepReadError(t *testing.T) {
	t.Parallel()
	s := &fakeSensor{reads: []fakeRead{{ok: false, crcError: true, typ: ds18.TypeDS18B20, addr: testAddr}}}
	ctx, p, buf, rec := newTestPoller(t, "", s)

	assert.Equal(t, time.Duration(0), p.Step(ctx))
	assert.Equal(t, "CRC Error DS18B20 ROM=2800000000000001 data=000000000000000000\n", buf.String())
	assert.Len(t, rec.Snapshot(), 0)
}

func TestSetup(t *testing.T) {
	t.Parallel()
	s := &fakeSensor{reads: []fakeRead{{ok: true, celsius: 19.5}}}
	ctx, p, _, rec := newTestPoller(t, "", s)

	p.Setup(ctx)
	v, ok := rec.Get("temp")
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
	events := rec.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "status", events[0].Name)
	assert.Equal(t, "Starting temp sensor", events[0].Data)
	assert.Equal(t, tele_api.Public, events[0].Visibility)

	p.Step(ctx)
	v, _ = rec.Get("temp")
	assert.Equal(t, 19.5, v)
}

func TestMockBusCycle(t *testing.T) {
	t.Parallel()
	const conf = `
hardware { onewire { conversion_ms = 1 } }
history { enable = true path = ":memory:" }
poll { success_delay_sec = 1 }
`
	ctx, p, buf, rec := newTestPoller(t, conf, nil)
	bus := p.Sensor.(*ds18.Sensor).Bus().(*ds18.MockBus)
	rom1 := ds18.MockROM(ds18.FamilyDS18B20, 1)
	rom2 := ds18.MockROM(ds18.FamilyDS1822, 2)
	bus.Devices = []ds18.MockDevice{
		{ROM: rom1, Scratchpad: ds18.MockScratchpad(0x70, 0x01, 0, 0, 0x7f)}, // 23
		{ROM: rom2, Scratchpad: ds18.MockScratchpad(0x08, 0x00, 0, 0, 0x7f)}, // 0.5
	}

	assert.Equal(t, time.Second, p.Step(ctx))
	assert.True(t, strings.HasPrefix(buf.String(), "Temperature 23.00 C 73.40 F DS18B20 ROM="+rom1.String()), buf.String())
	buf.Reset()
	assert.Equal(t, time.Second, p.Step(ctx))
	assert.True(t, strings.HasPrefix(buf.String(), "Temperature 0.50 C 32.90 F DS1822 ROM="+rom2.String()), buf.String())
	buf.Reset()
	assert.Equal(t, DefaultIdleDelay, p.Step(ctx))
	assert.Equal(t, "No more addresses.\n\n", buf.String())
	buf.Reset()
	// scan restarts from first device
	p.Step(ctx)
	assert.True(t, strings.HasPrefix(buf.String(), "Temperature 23.00 C"), buf.String())

	events := rec.Snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "23.000000", events[0].Data)
	assert.Equal(t, "0.500000", events[1].Data)

	rs, err := p.History.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.Equal(t, rom1.String(), rs[0].ROM)
	assert.Equal(t, 23.0, rs[0].Celsius)
}

func TestLoopStop(t *testing.T) {
	t.Parallel()
	s := &fakeSensor{reads: []fakeRead{{ok: false, done: true}}}
	ctx, p, _, _ := newTestPoller(t, "poll { idle_delay_ms = 1 }", s)

	done := make(chan struct{})
	go func() {
		p.Loop(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	p.alive.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Loop did not stop")
	}
	assert.Greater(t, s.n, 1)
}

func TestLoopWatchdogDuringPause(t *testing.T) {
	t.Parallel()
	s := &fakeSensor{reads: []fakeRead{{ok: true, typ: ds18.TypeDS18B20, celsius: 20}}}
	ctx, p, _, _ := newTestPoller(t, "", s)
	p.SuccessDelay = 2 * time.Second
	p.watchdog = 50 * time.Millisecond
	var pings int32
	p.SdNotify = func(state string) (bool, error) {
		if state == daemon.SdNotifyWatchdog {
			atomic.AddInt32(&pings, 1)
		}
		return true, nil
	}

	done := make(chan struct{})
	go func() {
		p.Loop(ctx)
		close(done)
	}()
	time.Sleep(500 * time.Millisecond)
	p.alive.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Loop did not stop")
	}
	assert.Equal(t, 1, s.n, "single read within success delay")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&pings), int32(5))
}
