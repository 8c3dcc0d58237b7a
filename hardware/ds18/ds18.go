// Package ds18 reads DS18x20/DS1822/DS2438 thermometers on a shared 1-Wire bus.
// Each Read() takes the next device of the current bus search cycle,
// so consecutive calls walk all sensors then report SearchDone once.
// Sensor is not safe for concurrent use, last-read fields are valid until next Read.
package ds18

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/w1temp/crc"
	"github.com/temoto/w1temp/log2"
	"periph.io/x/periph/conn/onewire"
)

const (
	cmdMatchROM       byte = 0x55
	cmdConvertT       byte = 0x44
	cmdReadScratchpad byte = 0xbe
	cmdRecallMemory   byte = 0xb8
)

const DefaultConversion = 1000 * time.Millisecond
const ScratchpadLength = 9

type Config struct {
	Parasite   bool
	Conversion time.Duration
	Log        *log2.Log
}

type Sensor struct {
	bus        onewire.Bus
	parasite   bool
	conversion time.Duration
	log        *log2.Log
	sleep      func(time.Duration)
	scan       Scan

	// last read
	typ        Type
	addr       Address
	data       [ScratchpadLength]byte
	celsius    float64
	crcError   bool
	searchDone bool
}

func New(bus onewire.Bus, parasite bool) *Sensor {
	return NewConfig(bus, Config{Parasite: parasite})
}

func NewConfig(bus onewire.Bus, c Config) *Sensor {
	if c.Conversion <= 0 {
		c.Conversion = DefaultConversion
	}
	return &Sensor{
		bus:        bus,
		parasite:   c.Parasite,
		conversion: c.Conversion,
		log:        c.Log,
		sleep:      time.Sleep,
	}
}

// Read measures next sensor of bus search cycle.
// false with SearchDone()=true means cycle exhausted, next Read starts from first device again.
// false with SearchDone()=false means this device failed, see CRCError(), Type().
func (self *Sensor) Read() bool {
	self.clear()
	addr, ok, err := self.scan.Next(self.search)
	if err != nil {
		self.log.Errorf("ds18 bus=%s search err=%v", self.bus, err)
	}
	if !ok {
		self.searchDone = true
		self.scan.Reset()
		return false
	}
	return self.read(addr)
}

// ReadAddress measures one known sensor, scan state is not changed.
func (self *Sensor) ReadAddress(addr Address) bool {
	self.clear()
	return self.read(addr)
}

// ResetSearch drops current search cycle.
func (self *Sensor) ResetSearch() { self.scan.Reset() }

// Search lists all devices on the bus, scan state is not changed.
func (self *Sensor) Search() ([]Address, error) { return self.search() }

func (self *Sensor) SearchDone() bool          { return self.searchDone }
func (self *Sensor) CRCError() bool            { return self.crcError }
func (self *Sensor) Type() Type                { return self.typ }
func (self *Sensor) Addr() Address             { return self.addr }
func (self *Sensor) Data() [9]byte             { return self.data }
func (self *Sensor) Celsius() float64          { return self.celsius }
func (self *Sensor) Fahrenheit() float64       { return CelsiusToFahrenheit(self.celsius) }
func (self *Sensor) Bus() onewire.Bus          { return self.bus }
func (self *Sensor) Conversion() time.Duration { return self.conversion }

func CelsiusToFahrenheit(c float64) float64 { return c*1.8 + 32 }

func (self *Sensor) clear() {
	self.typ = TypeUnknown
	self.addr = Address{}
	self.data = [ScratchpadLength]byte{}
	self.celsius = 0
	self.crcError = false
	self.searchDone = false
}

func (self *Sensor) search() ([]Address, error) {
	found, err := self.bus.Search(false)
	if err != nil {
		return nil, errors.Annotate(err, "onewire search")
	}
	addrs := make([]Address, len(found))
	for i, a := range found {
		addrs[i] = AddressFrom(a)
	}
	return addrs, nil
}

func (self *Sensor) read(addr Address) bool {
	self.addr = addr
	if !crc.Valid(addr[:]) {
		self.crcError = true
		return false
	}
	self.typ = TypeFromFamily(addr.Family())
	if self.typ == TypeUnknown {
		return false
	}

	if err := self.convert(addr); err != nil {
		self.log.Debugf("ds18 rom=%s convert err=%v", addr, err)
		return false
	}
	if err := self.readScratchpad(addr); err != nil {
		self.log.Debugf("ds18 rom=%s read scratchpad err=%v", addr, err)
		return false
	}
	if !crc.Valid(self.data[:]) {
		self.crcError = true
		return false
	}
	self.celsius = Decode(self.typ, self.data)
	return true
}

func (self *Sensor) convert(addr Address) error {
	power := onewire.WeakPullup
	if self.parasite {
		power = onewire.StrongPullup
	}
	if err := self.bus.Tx(request(addr, cmdConvertT), nil, power); err != nil {
		return errors.Annotate(err, "convert")
	}
	self.sleep(self.conversion)
	return nil
}

func (self *Sensor) readScratchpad(addr Address) error {
	var w []byte
	if self.typ == TypeDS2438 {
		// copy page 0 into scratchpad, then read page 0
		if err := self.bus.Tx(request(addr, cmdRecallMemory, 0x00), nil, onewire.WeakPullup); err != nil {
			return errors.Annotate(err, "recall memory")
		}
		w = request(addr, cmdReadScratchpad, 0x00)
	} else {
		w = request(addr, cmdReadScratchpad)
	}
	if err := self.bus.Tx(w, self.data[:], onewire.WeakPullup); err != nil {
		return errors.Annotate(err, "read scratchpad")
	}
	return nil
}

func request(addr Address, cmd ...byte) []byte {
	w := make([]byte, 0, 1+len(addr)+len(cmd))
	w = append(w, cmdMatchROM)
	w = append(w, addr[:]...)
	return append(w, cmd...)
}

// Decode converts scratchpad to Celsius according to device type.
func Decode(t Type, data [9]byte) float64 {
	if t == TypeDS2438 {
		raw := int16(uint16(data[2])<<5 | uint16(data[1])>>3)
		if raw&0x1000 != 0 {
			raw -= 0x2000
		}
		return float64(raw) * 0.03125
	}

	raw := int16(uint16(data[1])<<8 | uint16(data[0]))
	if t == TypeDS1820 {
		raw <<= 3 // 9 bit resolution default
		if data[7] == 0x10 {
			// "count remain" gives full 12 bit resolution
			raw = (raw &^ 0x000f) + 12 - int16(data[6])
		}
	} else {
		// at lower resolution, the low bits are undefined
		switch data[4] & 0x60 {
		case 0x00:
			raw &^= 7 // 9 bit
		case 0x20:
			raw &^= 3 // 10 bit
		case 0x40:
			raw &^= 1 // 11 bit
		}
	}
	return float64(raw) / 16
}
