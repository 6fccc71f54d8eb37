package posting

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
	"unicode/utf8"
)

// The string encoding is the one Java's DataOutput.writeUTF produces: a big-endian uint16 byte count, then UTF-16 code units each encoded in one to three bytes, with NUL as the two byte sequence C0 80.

const maxUTFLen = 0xffff

var (
	errUTFTooLong = errors.New("encoded string longer than 65535 bytes")
	errBadUTF8    = errors.New("string is not valid UTF-8")
)

// appendUTF refuses invalid UTF-8 rather than replacing it: distinct strings must stay distinct once encoded.
func appendUTF(buf []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, errBadUTF8
	}
	units := utf16.Encode([]rune(s))
	n := 0
	for _, u := range units {
		switch {
		case u >= 0x0001 && u <= 0x007f:
			n++
		case u <= 0x07ff:
			n += 2
		default:
			n += 3
		}
	}
	if n > maxUTFLen {
		return buf, errUTFTooLong
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	for _, u := range units {
		switch {
		case u >= 0x0001 && u <= 0x007f:
			buf = append(buf, byte(u))
		case u <= 0x07ff:
			buf = append(buf, byte(0xc0|(u>>6)&0x1f), byte(0x80|u&0x3f))
		default:
			buf = append(buf, byte(0xe0|(u>>12)&0x0f), byte(0x80|(u>>6)&0x3f), byte(0x80|u&0x3f))
		}
	}
	return buf, nil
}

func readUTF(r io.Reader) (string, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return "", err
	}
	b := make([]byte, binary.BigEndian.Uint16(lb[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return decodeUTF(b)
}

func decodeUTF(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c&0x80 == 0:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 {
				return "", fmt.Errorf("malformed string input around byte %d", i)
			}
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return "", fmt.Errorf("malformed string input around byte %d", i)
			}
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return "", fmt.Errorf("malformed string input around byte %d", i)
		}
	}
	s := string(utf16.Decode(units))
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("string does not decode to valid text")
	}
	return s, nil
}
