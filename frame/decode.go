package frame

// The decoders below all follow the same discipline: scan the buffer
// for the earliest header byte, try to validate a frame anchored there,
// and on success drop everything from the buffer front through the end
// of the matched frame (leading garbage included). A failed match
// leaves the buffer untouched so that a competing decoder can try the
// same bytes.

// Reading is a decoded bank-read response.
type Reading struct {
	Bank      Bank
	WordStart int
	Data      []byte
}

// findHeader returns the index of the first occurrence of code, or -1.
func findHeader(data []byte, code byte) int {
	for i, b := range data {
		if b == code {
			return i
		}
	}
	return -1
}

// DecodeAck matches the single-tag session offer: a six-byte-length
// GET_SINGLE_PARAM response carrying the ADD_USERCODE parameter. On
// match the frame (and any garbage before it) is consumed.
func DecodeAck(b *Buffer) bool {
	data := b.Bytes()
	shift := findHeader(data, ResponseCode)
	if shift < 0 || shift+8 > len(data) {
		return false
	}

	ok := data[shift+1] == 0x06 &&
		data[shift+2] == OpGetSingleParam &&
		data[shift+3] == 0x00 &&
		data[shift+4] == 0x00 &&
		data[shift+5] == ParamAddUsercode &&
		data[shift+6] == 0x00 &&
		data[shift+7] == Checksum(data[shift:shift+7])
	if !ok {
		return false
	}

	b.DropFront(shift + 8)
	return true
}

// DecodeBankRead scans for a bank-read response for the given bank.
// With singleTag set it matches READ_SINGLE_TAG responses instead of
// READ_BANK ones; with verifyChecksum unset a checksum mismatch is
// accepted (quick-scan EPC frames arrive with unreliable checksums).
//
// The frame is laid out as
//
//	E0 <len> <op> <label0> <label1> <wordStart> <n> <n data bytes> <cksum>
//
// and the whole frame plus any garbage before it is consumed on match.
//
// A checksum mismatch at one anchor moves the scan to the next header
// byte, so a corrupted frame does not shadow a valid one behind it. A
// label or opcode mismatch stops the scan instead: those bytes belong
// to a different frame family and a competing decoder must get them.
func DecodeBankRead(b *Buffer, bank Bank, singleTag, verifyChecksum bool) (Reading, bool) {
	data := b.Bytes()
	label := bank.Label()
	opcode := byte(OpReadBank)
	if singleTag {
		opcode = OpReadSingleTag
	}

	shift := 0
	for {
		idx := findHeader(data[shift:], ResponseCode)
		if idx < 0 {
			return Reading{}, false
		}
		shift += idx

		if len(data) < shift+7 {
			return Reading{}, false
		}
		size := int(data[shift+1])
		if len(data) <= shift+size {
			return Reading{}, false
		}

		if data[shift+3] != label[0] || data[shift+4] != label[1] {
			return Reading{}, false
		}
		if data[shift+2] != opcode {
			return Reading{}, false
		}

		wordStart := int(data[shift+5])
		n := int(data[shift+6])
		if len(data) < shift+7+n+1 {
			return Reading{}, false
		}

		cksum := data[shift+7+n]
		if verifyChecksum && cksum != Checksum(data[shift:shift+7+n]) {
			shift++
			continue
		}

		payload := make([]byte, n)
		copy(payload, data[shift+7:shift+7+n])
		b.DropFront(shift + 7 + n + 1)

		return Reading{Bank: bank, WordStart: wordStart, Data: payload}, true
	}
}

// DecodeResponseShort drops an ignored status response: a 0xE0-led
// frame whose length byte is under six. Longer responses are left for
// the bank-read decoders.
func DecodeResponseShort(b *Buffer) bool {
	data := b.Bytes()
	shift := findHeader(data, ResponseCode)
	if shift < 0 || len(data) <= shift+1 {
		return false
	}

	size := int(data[shift+1])
	if size >= 6 {
		return false
	}
	b.DropFront(shift + size)
	return true
}

// DecodeResultShort drops any 0xE4-led result frame by its length byte.
func DecodeResultShort(b *Buffer) bool {
	data := b.Bytes()
	shift := findHeader(data, ResultCode)
	if shift < 0 || len(data) <= shift+1 {
		return false
	}

	size := int(data[shift+1])
	b.DropFront(shift + size)
	return true
}
