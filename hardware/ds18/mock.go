package ds18

import (
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/w1temp/crc"
	"periph.io/x/periph/conn/onewire"
)

// MockBus is in-memory onewire.Bus with devices answering Convert T and Read Scratchpad.
type MockBus struct {
	sync.Mutex
	Devices   []MockDevice
	SearchErr error

	Searches int
	Converts []onewire.Pullup
}

type MockDevice struct {
	ROM        Address
	Scratchpad [ScratchpadLength]byte
	TxErr      error
}

var _ onewire.Bus = &MockBus{} // compile-time interface test

func (self *MockBus) String() string { return "mock" }

func (self *MockBus) Search(alarmOnly bool) ([]onewire.Address, error) {
	self.Lock()
	defer self.Unlock()
	self.Searches++
	if self.SearchErr != nil {
		return nil, self.SearchErr
	}
	as := make([]onewire.Address, len(self.Devices))
	for i, d := range self.Devices {
		as[i] = d.ROM.Onewire()
	}
	return as, nil
}

func (self *MockBus) Tx(w, r []byte, power onewire.Pullup) error {
	self.Lock()
	defer self.Unlock()
	if len(w) < 10 || w[0] != cmdMatchROM {
		return errors.NotSupportedf("mock tx=%x", w)
	}
	var addr Address
	copy(addr[:], w[1:9])
	var dev *MockDevice
	for i := range self.Devices {
		if self.Devices[i].ROM == addr {
			dev = &self.Devices[i]
			break
		}
	}
	if dev == nil {
		return errors.NotFoundf("mock rom=%s", addr)
	}
	if dev.TxErr != nil {
		return dev.TxErr
	}
	switch w[9] {
	case cmdConvertT:
		self.Converts = append(self.Converts, power)
	case cmdRecallMemory:
	case cmdReadScratchpad:
		copy(r, dev.Scratchpad[:])
	default:
		return fmt.Errorf("mock unknown command=%02x", w[9])
	}
	return nil
}

// MockROM builds address with valid CRC.
func MockROM(family byte, serial ...byte) Address {
	var a Address
	a[0] = family
	copy(a[1:7], serial)
	a[7] = crc.CRC8_8c_n(0, a[:7])
	return a
}

// MockScratchpad builds 9 byte scratchpad with valid CRC.
func MockScratchpad(b ...byte) [ScratchpadLength]byte {
	var s [ScratchpadLength]byte
	copy(s[:8], b)
	s[8] = crc.CRC8_8c_n(0, s[:8])
	return s
}
