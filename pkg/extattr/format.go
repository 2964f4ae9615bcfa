package extattr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

// FormatValue renders a raw attribute value for display.
//
// Printable text is returned with a trailing newline added when missing.
// Binary values of 1, 2, 4 or 8 bytes are printed as unsigned decimal
// (little-endian). Anything else is printed as upper-case hex prefixed with
// "0x", with a dot after every four bytes.
func FormatValue(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}

	text := raw
	if text[len(text)-1] == 0 {
		text = text[:len(text)-1]
	}
	if len(text) > 0 && isText(text) {
		out := make([]byte, 0, len(text)+1)
		out = append(out, text...)
		if out[len(out)-1] != '\n' {
			out = append(out, '\n')
		}
		return out
	}

	var n uint64
	switch len(raw) {
	case 1:
		n = uint64(raw[0])
	case 2:
		n = uint64(binary.LittleEndian.Uint16(raw))
	case 4:
		n = uint64(binary.LittleEndian.Uint32(raw))
	case 8:
		n = binary.LittleEndian.Uint64(raw)
	default:
		return formatHex(raw)
	}
	return []byte(strconv.FormatUint(n, 10) + "\n")
}

func formatHex(raw []byte) []byte {
	var b bytes.Buffer
	b.Grow(3*len(raw) + 3)
	b.WriteString("0x")
	for i, c := range raw {
		fmt.Fprintf(&b, "%02X", c)
		if i%4 == 3 && i != len(raw)-1 {
			b.WriteByte('.')
		}
	}
	b.WriteByte('\n')
	return b.Bytes()
}

func isText(p []byte) bool {
	for _, c := range p {
		printable := c >= 0x20 && c < 0x7f
		space := c == ' ' || (c >= '\t' && c <= '\r')
		if !printable && !space {
			return false
		}
	}
	return true
}

// ChompValue removes one trailing newline.
func ChompValue(value []byte) []byte {
	if n := len(value); n > 0 && value[n-1] == '\n' {
		return value[:n-1]
	}
	return value
}
