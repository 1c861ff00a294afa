package tags

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrEncoding is returned when hex input cannot be decoded.
var ErrEncoding = errors.New("tags: invalid hex data")

// FormatHex renders data as uppercase hex byte pairs separated by
// single spaces, e.g. "30 08 33 B2".
func FormatHex(data []byte) string {
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}

// ParseHex decodes a string of hex byte pairs, ignoring spaces.
func ParseHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "")
	if len(s)%2 != 0 {
		return nil, ErrEncoding
	}
	data := make([]byte, 0, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		v, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			return nil, ErrEncoding
		}
		data = append(data, byte(v))
	}
	return data, nil
}

// WriteCSV dumps the given history to w with the mandated column
// order. Every field is rendered with FormatHex.
func WriteCSV(w io.Writer, history []*Tag) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Tag ID", "EPC", "User Data", "Reserved Data"}); err != nil {
		return err
	}
	for _, t := range history {
		row := []string{
			FormatHex(t.TID),
			FormatHex(t.EPC),
			FormatHex(t.UserData()),
			FormatHex(t.RFU),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MemoryMap renders all of a tag's banks as a text dump: per-section
// headers with the byte length, then hex lines with an ASCII gutter.
func MemoryMap(t *Tag) string {
	var b strings.Builder
	section := func(name string, data []byte) {
		fmt.Fprintf(&b, "# %s (%d bytes)\n", name, len(data))
		b.WriteString(hexDump(data))
		b.WriteByte('\n')
	}
	section("Tag ID", t.TID)
	section("EPC", t.EPC)
	section("User data", t.UserData())
	section("RFU", t.RFU)
	return b.String()
}

// hexDump formats data as 16-byte lines of hex pairs with an extra gap
// after the eighth byte and a gutter showing printable ASCII.
func hexDump(data []byte) string {
	var b strings.Builder
	var ascii [16]byte

	for i, c := range data {
		fmt.Fprintf(&b, "%02X ", c)
		if c >= 0x20 && c <= 0x7E {
			ascii[i%16] = c
		} else {
			ascii[i%16] = '.'
		}

		atEnd := i+1 == len(data)
		if (i+1)%8 != 0 && !atEnd {
			continue
		}
		b.WriteByte(' ')

		switch {
		case (i+1)%16 == 0:
			fmt.Fprintf(&b, "|  %s \n", ascii[:])
		case atEnd:
			used := (i + 1) % 16
			if used <= 8 {
				b.WriteByte(' ')
			}
			for j := used; j < 16; j++ {
				b.WriteString("   ")
			}
			fmt.Fprintf(&b, "|  %s \n", ascii[:used])
		}
	}
	return b.String()
}
