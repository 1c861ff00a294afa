package tags

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormatHex(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{nil, ""},
		{[]byte{0x0A}, "0A"},
		{[]byte{0x30, 0x08, 0x33, 0xB2}, "30 08 33 B2"},
	}
	for _, tt := range tests {
		if got := FormatHex(tt.in); got != tt.want {
			t.Errorf("FormatHex(% X) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"plain", "aabb", []byte{0xAA, 0xBB}, false},
		{"spaced", "AA BB CC", []byte{0xAA, 0xBB, 0xCC}, false},
		{"odd length", "ABC", nil, true},
		{"not hex", "zz", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHex(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHex: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ParseHex(%q) = % X, want % X", tt.in, got, tt.want)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	tag := &Tag{
		TID: []byte{0x01, 0x02},
		EPC: []byte{0xE1},
		RFU: []byte{0xFF},
	}
	tag.User[0] = []byte{0xAB, 0xCD}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, []*Tag{tag}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv has %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if lines[0] != "Tag ID,EPC,User Data,Reserved Data" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "01 02,E1,AB CD,FF" {
		t.Errorf("row = %q", lines[1])
	}
}

func TestMemoryMapSections(t *testing.T) {
	tag := &Tag{
		TID: []byte{0x01, 0x02, 0x03},
		EPC: []byte("ABC"),
	}

	dump := MemoryMap(tag)

	for _, header := range []string{
		"# Tag ID (3 bytes)",
		"# EPC (3 bytes)",
		"# User data (0 bytes)",
		"# RFU (0 bytes)",
	} {
		if !strings.Contains(dump, header) {
			t.Errorf("dump missing %q:\n%s", header, dump)
		}
	}
	// Printable bytes show in the ASCII gutter.
	if !strings.Contains(dump, "|  ABC") {
		t.Errorf("dump missing ASCII gutter for EPC:\n%s", dump)
	}
	// Non-printables are replaced with dots.
	if !strings.Contains(dump, "|  ...") {
		t.Errorf("dump missing dotted gutter for TID:\n%s", dump)
	}
}

func TestHexDumpLayout(t *testing.T) {
	// A full 16-byte line: gap after byte 8, gutter at the end.
	data := []byte("0123456789ABCDEF")
	got := hexDump(data)
	want := "30 31 32 33 34 35 36 37  38 39 41 42 43 44 45 46  |  0123456789ABCDEF \n"
	if got != want {
		t.Errorf("hexDump full line:\ngot  %q\nwant %q", got, want)
	}

	// A short line is padded so the gutter stays aligned.
	got = hexDump([]byte{0x41, 0x00})
	if !strings.HasSuffix(got, "|  A. \n") {
		t.Errorf("hexDump short line gutter: %q", got)
	}
	if hexDump(nil) != "" {
		t.Error("hexDump(nil) should be empty")
	}
}
