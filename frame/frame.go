// Package frame implements the SM-6210 wire protocol: request frame
// encoding, response frame scanning and the checksum shared by both.
//
// Frame layout: [header] [length] [opcode] [payload...] [checksum].
// The exact meaning of the length byte differs between frame families
// (read requests, write requests and responses each count slightly
// different spans); the encoders below reproduce each construction
// field by field. There are no sync markers beyond the header codes,
// so the decoder has to scan for a header byte and validate whatever
// is anchored there.
package frame

// Header codes.
const (
	StartCode    = 0xA0 // host -> reader requests
	ResponseCode = 0xE0 // reader -> host responses
	ResultCode   = 0xE4 // reader -> host results (ignored)
)

// Communication mode byte used in short command frames.
const CommRS232 = 0x03

// Opcodes.
const (
	OpStopSearch     = 0xA8
	OpWriteBank      = 0xAB
	OpGetSingleParam = 0x61
	OpReadSingleTag  = 0x82
	OpReadBank       = 0x80
)

// ParamAddUsercode is the GET_SINGLE_PARAM parameter that asks the
// reader to acquire a single-tag session.
const ParamAddUsercode = 0x64

// Bank identifies a tag memory bank on the wire.
type Bank int

const (
	BankRFU Bank = iota
	BankEPC
	BankTID
	BankUSR
)

// Label returns the two-byte wire tag for the bank.
func (b Bank) Label() [2]byte {
	switch b {
	case BankEPC:
		return [2]byte{0x00, 0x01}
	case BankTID:
		return [2]byte{0x00, 0x02}
	case BankUSR:
		return [2]byte{0x00, 0x03}
	default:
		return [2]byte{0x00, 0x00}
	}
}

func (b Bank) String() string {
	switch b {
	case BankRFU:
		return "RFU"
	case BankEPC:
		return "EPC"
	case BankTID:
		return "TID"
	case BankUSR:
		return "USR"
	}
	return "???"
}

// Checksum is the two's-complement negation of the unsigned byte sum,
// so that sum(frame) + checksum == 0 (mod 256).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}

// EncodeRead builds a READ_BANK request for wordCount words starting at
// wordStart in the given bank.
func EncodeRead(bank Bank, wordStart, wordCount byte) []byte {
	label := bank.Label()
	data := []byte{
		StartCode,
		0x06,
		OpReadBank,
		label[0],
		label[1],
		wordStart,
		wordCount,
	}
	return append(data, Checksum(data))
}

// EncodeWrite builds a WRITE_BANK request carrying payload. The length
// byte is filled in after the payload is appended: it counts every
// frame byte except itself and the trailing checksum.
func EncodeWrite(bank Bank, wordStart, wordCount byte, payload []byte) []byte {
	label := bank.Label()
	data := make([]byte, 0, len(payload)+8)
	data = append(data,
		StartCode,
		OpWriteBank,
		label[0],
		label[1],
		wordStart,
		wordCount,
	)
	data = append(data, payload...)

	framed := make([]byte, 0, len(data)+2)
	framed = append(framed, data[0], byte(len(data)))
	framed = append(framed, data[1:]...)
	return append(framed, Checksum(framed))
}

// EncodeStop builds the stop-and-reset command.
func EncodeStop() []byte {
	data := []byte{StartCode, CommRS232, OpStopSearch, 0x00}
	return append(data, Checksum(data))
}

// EncodeAckSingle builds the acknowledgement the host sends after the
// reader offers a single-tag session.
func EncodeAckSingle() []byte {
	data := []byte{StartCode, CommRS232, OpReadSingleTag, 0x00}
	return append(data, Checksum(data))
}

// EncodeSingleParamRequest builds the GET_SINGLE_PARAM request that asks
// the reader to pick up a tag and report it.
func EncodeSingleParamRequest() []byte {
	data := []byte{StartCode, 0x05, OpGetSingleParam, 0x00, 0x00, ParamAddUsercode}
	return append(data, Checksum(data))
}
