package frame

import (
	"bytes"
	"testing"
)

// buildResponse assembles a bank-read response frame the way the
// SM-6210 emits it: E0 <len> <op> <label> <wordStart> <n> <data> <cksum>.
func buildResponse(op byte, bank Bank, wordStart byte, data []byte) []byte {
	label := bank.Label()
	f := []byte{ResponseCode, byte(7 + len(data)/2), op, label[0], label[1], wordStart, byte(len(data))}
	f = append(f, data...)
	return append(f, Checksum(f))
}

func TestChecksumLaw(t *testing.T) {
	frames := map[string][]byte{
		"stop":        EncodeStop(),
		"ack-single":  EncodeAckSingle(),
		"single-para": EncodeSingleParamRequest(),
		"read-epc":    EncodeRead(BankEPC, 2, 6),
		"read-tid":    EncodeRead(BankTID, 0, 6),
		"read-rfu":    EncodeRead(BankRFU, 0, 4),
		"read-usr":    EncodeRead(BankUSR, 16, 8),
		"write-epc":   EncodeWrite(BankEPC, 2, 6, make([]byte, 12)),
		"write-usr":   EncodeWrite(BankUSR, 8, 8, []byte{0xDE, 0xAD, 0xBE, 0xEF}),
	}
	for name, f := range frames {
		var sum byte
		for _, b := range f {
			sum += b
		}
		if sum != 0 {
			t.Errorf("%s: sum(frame) = %#02x, want 0", name, sum)
		}
	}
}

func TestEncodeRead(t *testing.T) {
	got := EncodeRead(BankEPC, 2, 6)
	want := []byte{0xA0, 0x06, 0x80, 0x00, 0x01, 0x02, 0x06, 0xD1}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRead(EPC, 2, 6) = % X, want % X", got, want)
	}
}

func TestEncodeWriteLength(t *testing.T) {
	payload := make([]byte, 12)
	got := EncodeWrite(BankEPC, 2, 6, payload)

	if len(got) != 20 {
		t.Fatalf("frame length = %d, want 20", len(got))
	}
	// The write-frame length byte excludes itself and the checksum:
	// header + opcode + label + addressing + payload = 6 + 12.
	if got[1] != 18 {
		t.Errorf("length byte = %d, want 18", got[1])
	}
	if got[0] != StartCode || got[2] != OpWriteBank {
		t.Errorf("header/opcode = %#02x %#02x", got[0], got[2])
	}
	if got[5] != 2 || got[6] != 6 {
		t.Errorf("wordStart/wordCount = %d %d, want 2 6", got[5], got[6])
	}
	if !bytes.Equal(got[7:19], payload) {
		t.Errorf("payload = % X", got[7:19])
	}
}

func TestEncodeStop(t *testing.T) {
	want := []byte{0xA0, 0x03, 0xA8, 0x00, 0xB5}
	if got := EncodeStop(); !bytes.Equal(got, want) {
		t.Errorf("EncodeStop() = % X, want % X", got, want)
	}
}

func TestEncodeAckSingle(t *testing.T) {
	want := []byte{0xA0, 0x03, 0x82, 0x00, 0xDB}
	if got := EncodeAckSingle(); !bytes.Equal(got, want) {
		t.Errorf("EncodeAckSingle() = % X, want % X", got, want)
	}
}

func TestDecodeAck(t *testing.T) {
	ack := []byte{0xE0, 0x06, 0x61, 0x00, 0x00, 0x64, 0x00, 0x55}

	var b Buffer
	b.Append(ack)
	if !DecodeAck(&b) {
		t.Fatal("DecodeAck did not match a valid ack")
	}
	if b.Len() != 0 {
		t.Errorf("buffer holds %d bytes after ack, want 0", b.Len())
	}
}

func TestDecodeAckLeadingGarbage(t *testing.T) {
	var b Buffer
	b.Append([]byte{0x12, 0x34})
	b.Append([]byte{0xE0, 0x06, 0x61, 0x00, 0x00, 0x64, 0x00, 0x55})
	if !DecodeAck(&b) {
		t.Fatal("DecodeAck did not match ack behind garbage")
	}
	if b.Len() != 0 {
		t.Errorf("buffer holds %d bytes, want 0", b.Len())
	}
}

func TestDecodeAckIncomplete(t *testing.T) {
	var b Buffer
	b.Append([]byte{0xE0, 0x06, 0x61, 0x00})
	if DecodeAck(&b) {
		t.Fatal("DecodeAck matched a truncated ack")
	}
	if b.Len() != 4 {
		t.Errorf("truncated ack was consumed, %d bytes left", b.Len())
	}
}

func TestDecodeBankReadEPC(t *testing.T) {
	// E0 0A 80 00 01 02 06 AA BB CC DD EE FF <cksum>
	f := []byte{0xE0, 0x0A, 0x80, 0x00, 0x01, 0x02, 0x06, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	f = append(f, Checksum(f))

	var b Buffer
	b.Append(f)
	r, ok := DecodeBankRead(&b, BankEPC, false, true)
	if !ok {
		t.Fatal("DecodeBankRead did not match a valid EPC frame")
	}
	if r.WordStart != 2 {
		t.Errorf("wordStart = %d, want 2", r.WordStart)
	}
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	if !bytes.Equal(r.Data, want) {
		t.Errorf("data = % X, want % X", r.Data, want)
	}
	if b.Len() != 0 {
		t.Errorf("buffer holds %d bytes, want 0", b.Len())
	}
}

func TestDecodeBankReadRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		op        byte
		bank      Bank
		singleTag bool
		wordStart byte
		data      []byte
	}{
		{"tid", OpReadBank, BankTID, false, 0, []byte{0x01, 0x02, 0x03, 0x04}},
		{"rfu", OpReadBank, BankRFU, false, 0, []byte{0xCA, 0xFE}},
		{"usr datagram 2", OpReadBank, BankUSR, false, 16, bytes.Repeat([]byte{0x5A}, 16)},
		{"epc from scan", OpReadSingleTag, BankEPC, true, 2, []byte{0x30, 0x08, 0x33, 0xB2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Buffer
			b.Append(buildResponse(tt.op, tt.bank, tt.wordStart, tt.data))
			r, ok := DecodeBankRead(&b, tt.bank, tt.singleTag, true)
			if !ok {
				t.Fatal("decode failed")
			}
			if r.Bank != tt.bank {
				t.Errorf("bank = %v, want %v", r.Bank, tt.bank)
			}
			if r.WordStart != int(tt.wordStart) {
				t.Errorf("wordStart = %d, want %d", r.WordStart, tt.wordStart)
			}
			if !bytes.Equal(r.Data, tt.data) {
				t.Errorf("data = % X, want % X", r.Data, tt.data)
			}
			if b.Len() != 0 {
				t.Errorf("buffer holds %d bytes, want 0", b.Len())
			}
		})
	}
}

func TestDecodeBankReadResync(t *testing.T) {
	// Garbage without a header byte, then a valid TID frame, then more
	// garbage: the decoder must extract the frame and drop exactly the
	// garbage prefix plus the frame.
	garbage := []byte{0xFF, 0xFF, 0xFF}
	tail := []byte{0x11, 0x22}
	f := buildResponse(OpReadBank, BankTID, 0, []byte{0xDE, 0xAD})

	var b Buffer
	b.Append(garbage)
	b.Append(f)
	b.Append(tail)

	r, ok := DecodeBankRead(&b, BankTID, false, true)
	if !ok {
		t.Fatal("decode failed behind garbage")
	}
	if !bytes.Equal(r.Data, []byte{0xDE, 0xAD}) {
		t.Errorf("data = % X", r.Data)
	}
	if !bytes.Equal(b.Bytes(), tail) {
		t.Errorf("remaining = % X, want % X", b.Bytes(), tail)
	}
}

func TestDecodeBankReadWrongBankLeavesBuffer(t *testing.T) {
	f := buildResponse(OpReadBank, BankTID, 0, []byte{0xDE, 0xAD})
	var b Buffer
	b.Append(f)
	if _, ok := DecodeBankRead(&b, BankEPC, false, true); ok {
		t.Fatal("EPC decoder matched a TID frame")
	}
	if b.Len() != len(f) {
		t.Errorf("mismatch consumed bytes: %d left, want %d", b.Len(), len(f))
	}
}

func TestDecodeBankReadBadChecksum(t *testing.T) {
	f := buildResponse(OpReadBank, BankEPC, 2, []byte{0xAA, 0xBB})
	f[len(f)-1] ^= 0xFF

	var b Buffer
	b.Append(f)
	if _, ok := DecodeBankRead(&b, BankEPC, false, true); ok {
		t.Fatal("decoder accepted a corrupt checksum")
	}
	if b.Len() != len(f) {
		t.Error("corrupt frame was consumed")
	}

	// With verification disabled the same frame decodes.
	r, ok := DecodeBankRead(&b, BankEPC, false, false)
	if !ok {
		t.Fatal("unverified decode failed")
	}
	if !bytes.Equal(r.Data, []byte{0xAA, 0xBB}) {
		t.Errorf("data = % X", r.Data)
	}
}

func TestDecodeBankReadSkipsCorruptFrame(t *testing.T) {
	// A checksum-corrupt frame must not shadow the valid frame behind
	// it: the scan advances to the next header anchor.
	bad := buildResponse(OpReadBank, BankEPC, 2, []byte{0xAA, 0xBB})
	bad[len(bad)-1] ^= 0xFF
	good := buildResponse(OpReadBank, BankEPC, 2, []byte{0xCC, 0xDD})

	var b Buffer
	b.Append(bad)
	b.Append(good)

	r, ok := DecodeBankRead(&b, BankEPC, false, true)
	if !ok {
		t.Fatal("valid frame behind corruption not decoded")
	}
	if !bytes.Equal(r.Data, []byte{0xCC, 0xDD}) {
		t.Errorf("data = % X, want CC DD", r.Data)
	}
	if b.Len() != 0 {
		t.Errorf("buffer holds %d bytes, want 0", b.Len())
	}
}

func TestDecodeBankReadNeedMore(t *testing.T) {
	f := buildResponse(OpReadBank, BankEPC, 2, bytes.Repeat([]byte{0x42}, 12))

	var b Buffer
	for i := 0; i < len(f)-1; i++ {
		b.Clear()
		b.Append(f[:i])
		if _, ok := DecodeBankRead(&b, BankEPC, false, true); ok {
			t.Fatalf("decoded a frame truncated to %d bytes", i)
		}
		if b.Len() != i {
			t.Fatalf("truncated frame partially consumed at %d bytes", i)
		}
	}
}

func TestDecodeResponseShort(t *testing.T) {
	var b Buffer
	b.Append([]byte{0xE0, 0x03, 0x01, 0x99})
	if !DecodeResponseShort(&b) {
		t.Fatal("short response not dropped")
	}
	// Drops shift+size bytes from the front.
	if !bytes.Equal(b.Bytes(), []byte{0x99}) {
		t.Errorf("remaining = % X, want 99", b.Bytes())
	}
}

func TestDecodeResponseShortIgnoresLong(t *testing.T) {
	var b Buffer
	b.Append([]byte{0xE0, 0x0A, 0x80})
	if DecodeResponseShort(&b) {
		t.Fatal("long response dropped by short-response decoder")
	}
	if b.Len() != 3 {
		t.Error("buffer modified on non-match")
	}
}

func TestDecodeResultShort(t *testing.T) {
	var b Buffer
	b.Append([]byte{0x55, 0xE4, 0x04, 0x00, 0x01, 0xAA})
	if !DecodeResultShort(&b) {
		t.Fatal("result frame not dropped")
	}
	if !bytes.Equal(b.Bytes(), []byte{0xAA}) {
		t.Errorf("remaining = % X, want AA", b.Bytes())
	}
}

func TestBufferDropFront(t *testing.T) {
	var b Buffer
	b.Append([]byte{1, 2, 3, 4, 5})
	b.DropFront(2)
	if !bytes.Equal(b.Bytes(), []byte{3, 4, 5}) {
		t.Errorf("after DropFront(2): % X", b.Bytes())
	}
	b.DropFront(10)
	if b.Len() != 0 {
		t.Errorf("over-drop left %d bytes", b.Len())
	}
}
