package poll

import (
	"fmt"
	"strings"

	"github.com/temoto/w1temp/hardware/ds18"
)

// FormatDebug renders last read state:
// `[CRC Error ]<TYPE> ROM=<16 hex> data=<18 hex>`
func FormatDebug(crcError bool, typ ds18.Type, addr ds18.Address, data [ds18.ScratchpadLength]byte) string {
	var b strings.Builder
	b.Grow(64)
	if crcError {
		b.WriteString("CRC Error ")
	}
	b.WriteString(typ.String())
	fmt.Fprintf(&b, " ROM=%X data=%X", addr[:], data[:])
	return b.String()
}

func Diagnostics(s Sensor) string {
	return FormatDebug(s.CRCError(), s.Type(), s.Addr(), s.Data())
}
