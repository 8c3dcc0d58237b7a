package ds18

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/w1temp/log2"
	"periph.io/x/periph/conn/onewire"
)

func newTestSensor(t testing.TB, bus *MockBus, parasite bool) *Sensor {
	s := NewConfig(bus, Config{Parasite: parasite, Log: log2.NewTest(t, log2.LDebug)})
	s.sleep = func(time.Duration) {}
	return s
}

func TestTypeString(t *testing.T) {
	t.Parallel()
	cases := []struct {
		family byte
		expect string
	}{
		{0x10, "DS1820"},
		{0x28, "DS18B20"},
		{0x22, "DS1822"},
		{0x26, "DS2438"},
		{0x00, "UNKNOWN"},
		{0x01, "UNKNOWN"},
		{0x3b, "UNKNOWN"},
		{0xff, "UNKNOWN"},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, TypeFromFamily(c.family).String(), "family=%02x", c.family)
	}
	assert.Equal(t, "UNKNOWN", Type(200).String())
}

func TestAddressOnewire(t *testing.T) {
	t.Parallel()
	a := Address{0x28, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	ow := a.Onewire()
	assert.Equal(t, onewire.Address(0x0100000000000028), ow)
	assert.Equal(t, a, AddressFrom(ow))
	assert.Equal(t, "2800000000000001", a.String())
	assert.Equal(t, byte(0x28), a.Family())
}

func TestDecode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		typ    Type
		data   [9]byte
		expect float64
	}{
		{"ds18b20/power-on", TypeDS18B20, [9]byte{0x50, 0x05, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10, 0x1c}, 85},
		{"ds18b20/25.0625", TypeDS18B20, [9]byte{0x91, 0x01, 0, 0, 0x7f}, 25.0625},
		{"ds18b20/negative", TypeDS18B20, [9]byte{0x5e, 0xff, 0, 0, 0x7f}, -10.125},
		{"ds18b20/9bit-mask", TypeDS18B20, [9]byte{0x97, 0x01, 0, 0, 0x1f}, 25.0},
		{"ds18b20/10bit-mask", TypeDS18B20, [9]byte{0x97, 0x01, 0, 0, 0x3f}, 25.25},
		{"ds18b20/11bit-mask", TypeDS18B20, [9]byte{0x97, 0x01, 0, 0, 0x5f}, 25.375},
		{"ds1822/zero", TypeDS1822, [9]byte{0x00, 0x00, 0, 0, 0x7f}, 0},
		{"ds1820/half", TypeDS1820, [9]byte{0x32, 0x00, 0, 0, 0, 0, 0x0c, 0x00}, 25.0},
		{"ds1820/count-remain", TypeDS1820, [9]byte{0x32, 0x00, 0, 0, 0, 0, 0x10, 0x10}, 24.75},
		{"ds2438/25.03125", TypeDS2438, [9]byte{0x00, 0x08, 0x19}, 25.03125},
		{"ds2438/negative", TypeDS2438, [9]byte{0x00, 0x00, 0xff}, -1},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, Decode(c.typ, c.data))
		})
	}
}

func TestReadWalksBusThenRestarts(t *testing.T) {
	t.Parallel()
	rom1 := MockROM(FamilyDS18B20, 1)
	rom2 := MockROM(FamilyDS1822, 2)
	bus := &MockBus{Devices: []MockDevice{
		{ROM: rom1, Scratchpad: MockScratchpad(0x70, 0x01, 0, 0, 0x7f)}, // 23
		{ROM: rom2, Scratchpad: MockScratchpad(0x08, 0x00, 0, 0, 0x7f)}, // 0.5
	}}
	s := newTestSensor(t, bus, false)

	for cycle := 1; cycle <= 2; cycle++ {
		require.True(t, s.Read(), "cycle=%d first", cycle)
		assert.Equal(t, rom1, s.Addr())
		assert.Equal(t, TypeDS18B20, s.Type())
		assert.Equal(t, 23.0, s.Celsius())
		assert.InDelta(t, 73.4, s.Fahrenheit(), 1e-9)
		assert.False(t, s.SearchDone())

		require.True(t, s.Read(), "cycle=%d second", cycle)
		assert.Equal(t, rom2, s.Addr())
		assert.Equal(t, TypeDS1822, s.Type())
		assert.Equal(t, 0.5, s.Celsius())

		assert.False(t, s.Read(), "cycle=%d exhausted", cycle)
		assert.True(t, s.SearchDone())
		assert.False(t, s.CRCError())
		assert.Equal(t, Address{}, s.Addr())
		assert.Equal(t, cycle, bus.Searches)
	}
	assert.Equal(t, []onewire.Pullup{onewire.WeakPullup, onewire.WeakPullup, onewire.WeakPullup, onewire.WeakPullup}, bus.Converts)
}

func TestReadEmptyBus(t *testing.T) {
	t.Parallel()
	bus := &MockBus{}
	s := newTestSensor(t, bus, true)
	for i := 1; i <= 3; i++ {
		assert.False(t, s.Read())
		assert.True(t, s.SearchDone())
	}
	assert.Equal(t, 3, bus.Searches)
}

func TestReadSearchError(t *testing.T) {
	t.Parallel()
	bus := &MockBus{SearchErr: fmt.Errorf("netlink gone")}
	s := NewConfig(bus, Config{})
	s.sleep = func(time.Duration) {}
	assert.False(t, s.Read())
	assert.True(t, s.SearchDone())
}

func TestReadFailures(t *testing.T) {
	t.Parallel()
	good := MockScratchpad(0x70, 0x01, 0, 0, 0x7f)
	badScratch := good
	badScratch[8] ^= 0xff
	badROM := MockROM(FamilyDS18B20, 7)
	badROM[7] ^= 0x01

	cases := []struct {
		name      string
		dev       MockDevice
		expectCRC bool
		expectTyp Type
	}{
		{"rom-crc", MockDevice{ROM: badROM, Scratchpad: good}, true, TypeUnknown},
		{"unknown-family", MockDevice{ROM: MockROM(0x01, 3), Scratchpad: good}, false, TypeUnknown},
		{"scratchpad-crc", MockDevice{ROM: MockROM(FamilyDS18B20, 4), Scratchpad: badScratch}, true, TypeDS18B20},
		{"tx-error", MockDevice{ROM: MockROM(FamilyDS18B20, 5), TxErr: fmt.Errorf("short circuit")}, false, TypeDS18B20},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			bus := &MockBus{Devices: []MockDevice{c.dev}}
			s := newTestSensor(t, bus, false)
			assert.False(t, s.Read())
			assert.False(t, s.SearchDone())
			assert.Equal(t, c.expectCRC, s.CRCError())
			assert.Equal(t, c.expectTyp, s.Type())
			assert.Equal(t, c.dev.ROM, s.Addr())

			// device failure does not end cycle early
			assert.False(t, s.Read())
			assert.True(t, s.SearchDone())
		})
	}
}

func TestParasiteStrongPullup(t *testing.T) {
	t.Parallel()
	rom := MockROM(FamilyDS2438, 9)
	bus := &MockBus{Devices: []MockDevice{{ROM: rom, Scratchpad: MockScratchpad(0x00, 0x08, 0x19)}}}
	s := newTestSensor(t, bus, true)
	require.True(t, s.ReadAddress(rom))
	assert.Equal(t, 25.03125, s.Celsius())
	assert.Equal(t, []onewire.Pullup{onewire.StrongPullup}, bus.Converts)
	// ReadAddress does not start search
	assert.Equal(t, 0, bus.Searches)
}

func TestScan(t *testing.T) {
	t.Parallel()
	calls := 0
	search := func() ([]Address, error) {
		calls++
		return []Address{{1}, {2}}, nil
	}
	var s Scan
	assert.Equal(t, 0, s.Remaining())
	a, ok, err := s.Next(search)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Address{1}, a)
	assert.Equal(t, 1, s.Remaining())
	_, ok, _ = s.Next(search)
	assert.True(t, ok)
	_, ok, _ = s.Next(search)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
	s.Reset()
	a, ok, _ = s.Next(search)
	assert.True(t, ok)
	assert.Equal(t, Address{1}, a)
	assert.Equal(t, 2, calls)
}
