package callback

import (
	"encoding/binary"
	"math/bits"
)

// appendCompact appends n in SCALE compact form, the length prefix native
// destinations expect.
//
//	n < 2^6:  one byte, n<<2
//	n < 2^14: two bytes LE, n<<2 | 0b01
//	n < 2^30: four bytes LE, n<<2 | 0b10
//	else:     (len-4)<<2 | 0b11, then len bytes LE
func appendCompact(dst []byte, n uint64) []byte {
	switch {
	case n < 1<<6:
		return append(dst, byte(n<<2))
	case n < 1<<14:
		return binary.LittleEndian.AppendUint16(dst, uint16(n<<2|0b01))
	case n < 1<<30:
		return binary.LittleEndian.AppendUint32(dst, uint32(n<<2|0b10))
	default:
		size := (bits.Len64(n) + 7) / 8
		dst = append(dst, byte((size-4)<<2|0b11))
		for i := 0; i < size; i++ {
			dst = append(dst, byte(n>>(8*i)))
		}
		return dst
	}
}
