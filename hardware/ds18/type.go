package ds18

import (
	"encoding/hex"
	"fmt"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/onewire"
)

// Type is closed set of supported 1-Wire thermometers, selected by ROM family code.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeDS1820
	TypeDS18B20
	TypeDS1822
	TypeDS2438
)

const (
	FamilyDS1820  byte = 0x10
	FamilyDS18B20 byte = 0x28
	FamilyDS1822  byte = 0x22
	FamilyDS2438  byte = 0x26
)

func (t Type) String() string {
	switch t {
	case TypeDS1820:
		return "DS1820"
	case TypeDS18B20:
		return "DS18B20"
	case TypeDS1822:
		return "DS1822"
	case TypeDS2438:
		return "DS2438"
	default:
		return "UNKNOWN"
	}
}

func TypeFromFamily(family byte) Type {
	switch family {
	case FamilyDS1820:
		return TypeDS1820
	case FamilyDS18B20:
		return TypeDS18B20
	case FamilyDS1822:
		return TypeDS1822
	case FamilyDS2438:
		return TypeDS2438
	}
	return TypeUnknown
}

// Address is 64 bit ROM code in bus order: family code first, CRC last.
type Address [8]byte

func AddressFrom(a onewire.Address) Address {
	var r Address
	for i := range r {
		r[i] = byte(a >> (8 * uint(i)))
	}
	return r
}

func (a Address) Onewire() onewire.Address {
	var r onewire.Address
	for i := range a {
		r |= onewire.Address(a[i]) << (8 * uint(i))
	}
	return r
}

func (a Address) Family() byte { return a[0] }

func (a Address) String() string { return fmt.Sprintf("%X", a[:]) }

// ParseAddress accepts ROM as printed by String, 16 hex digits.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != 2*len(a) {
		return a, errors.NotValidf("onewire address=%s length", s)
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, errors.Annotatef(err, "onewire address=%s", s)
	}
	return a, nil
}
