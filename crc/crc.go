// Package crc implements Dallas/Maxim 1-Wire CRC8, used by ROM codes and scratchpads.
package crc

// x^8 + x^5 + x^4 + 1, reflected
const CRC_POLY_8C byte = 0x8c

func CRC8_8c(crc, data byte) byte {
	crc ^= data
	var i byte = 0
	for ; i < 8; i++ {
		if (crc & 0x01) != 0 {
			crc >>= 1
			crc ^= CRC_POLY_8C
		} else {
			crc >>= 1
		}
	}
	return crc
}

func CRC8_8c_n(crc byte, data []byte) byte {
	for _, b := range data {
		crc = CRC8_8c(crc, b)
	}
	return crc
}

// Valid reports whether last byte of b is CRC of preceding bytes.
func Valid(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	n := len(b) - 1
	return CRC8_8c_n(0, b[:n]) == b[n]
}
