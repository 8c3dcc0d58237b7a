package crc

import (
	"testing"

	"github.com/temoto/w1temp/helpers"
)

func makeCheckN(fun func(byte, []byte) byte, tag string) func(t *testing.T, v1 byte, vs []byte, expect byte) {
	return func(t *testing.T, v1 byte, vs []byte, expect byte) {
		t.Helper()
		if fun(v1, vs) != expect {
			t.Errorf("%s(%02x, %x) != %02x", tag, v1, vs, expect)
		}
	}
}

func TestReference(t *testing.T) {
	checkN := makeCheckN(CRC8_8c_n, "CRC8_8c_n")
	checkN(t, 0, nil, 0x00)
	checkN(t, 0, []byte{0x00}, 0x00)
	// Maxim application note 27 ROM example
	checkN(t, 0, []byte{0x02, 0x1c, 0xb8, 0x01, 0x00, 0x00, 0x00}, 0xa2)
	// DS18B20 power-on scratchpad, 85C
	checkN(t, 0, []byte{0x50, 0x05, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10}, 0x1c)
}

func TestValid(t *testing.T) {
	t.Parallel()
	if !Valid([]byte{0x02, 0x1c, 0xb8, 0x01, 0x00, 0x00, 0x00, 0xa2}) {
		t.Error("expected valid ROM")
	}
	if Valid([]byte{0x02, 0x1c, 0xb8, 0x01, 0x00, 0x00, 0x00, 0xa3}) {
		t.Error("expected invalid ROM")
	}
	if Valid([]byte{0x00}) {
		t.Error("single byte must be invalid")
	}
}

func TestAppendedCRCIsZero(t *testing.T) {
	t.Parallel()
	rand := helpers.RandUnix()
	for i := 0; i < 100; i++ {
		b := make([]byte, 1+rand.Intn(16))
		rand.Read(b)
		c := CRC8_8c_n(0, b)
		if CRC8_8c_n(0, append(b, c)) != 0 {
			t.Fatalf("crc(%x || %02x) != 0", b, c)
		}
	}
}
