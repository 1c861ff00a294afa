package reader

import (
	"rfidprog/frame"
	"rfidprog/tags"
)

const (
	// The SM-6210 only speaks 9600 baud.
	sm6210Baud = 9600

	// maxBufferSize caps the parse buffer; overflow discards all
	// buffered bytes.
	maxBufferSize = 16 * 1024

	// shitThreshold is how many consecutive unparsed ingress batches
	// the driver tolerates before sending a stop/reset command.
	shitThreshold = 10

	// writeRepeat is the protocol's reliability primitive: the device
	// is lossy and parses no write acknowledgement, so every write
	// frame is transmitted this many times.
	writeRepeat = 10
)

// Word addressing per bank: where each bank's data starts and how many
// 16-bit words one request covers.
const (
	epcWordStart = 2
	epcWordCount = 6
	tidWordStart = 0
	tidWordCount = 6
	rfuWordStart = 0
	rfuWordCount = 4
	usrWordCount = 8
)

// SM6210 drives the SM-6210 USB UHF programmer. It owns the parse
// buffer for the serial byte stream and schedules read requests across
// the four memory banks of whatever tag is in the field.
type SM6210 struct {
	tr         Transport
	events     Events
	tagPresent func() bool

	buf       frame.Buffer
	selector  int
	shitCount int
	userStart int
}

// NewSM6210 builds the driver. All Deps fields must be set.
func NewSM6210(deps Deps) *SM6210 {
	return &SM6210{
		tr:         deps.Transport,
		events:     deps.Events,
		tagPresent: deps.TagPresent,
	}
}

// Loaded reports whether the transport is connected at the model's
// mandatory baud rate. Ingress is dropped otherwise. The write methods
// do not check it; the facade refuses writes to a driver that is not
// loaded.
func (d *SM6210) Loaded() bool {
	return d.tr.Connected() && d.tr.BaudRate() == sm6210Baud
}

// Scan performs one transmit decision. With no current tag it asks the
// reader to acquire one, or resets the device once more than
// shitThreshold consecutive ingress batches went unparsed. With a tag
// current it cycles TID, RFU, USER, EPC.
func (d *SM6210) Scan() {
	if !d.tagPresent() {
		d.selector = 0

		if d.shitCount > shitThreshold {
			d.shitCount = 0
			d.tr.Write(frame.EncodeStop())
			return
		}
		d.tr.Write(frame.EncodeSingleParamRequest())
		return
	}

	switch d.selector {
	case 0:
		d.readTID()
	case 1:
		d.readRFU()
	case 2:
		d.readUser()
	default:
		d.readEPC()
		d.selector = -1
	}
	d.selector++
}

func (d *SM6210) readEPC() {
	d.tr.Write(frame.EncodeRead(frame.BankEPC, epcWordStart, epcWordCount))
}

func (d *SM6210) readTID() {
	d.tr.Write(frame.EncodeRead(frame.BankTID, tidWordStart, tidWordCount))
}

func (d *SM6210) readRFU() {
	d.tr.Write(frame.EncodeRead(frame.BankRFU, rfuWordStart, rfuWordCount))
}

// readUser requests one 16-byte datagram and advances the word cursor,
// wrapping after the fourth datagram.
func (d *SM6210) readUser() {
	d.tr.Write(frame.EncodeRead(frame.BankUSR, byte(d.userStart), usrWordCount))
	d.userStart += usrWordCount
	if d.userStart > 24 {
		d.userStart = 0
	}
}

// HandleData appends p to the parse buffer and attempts the decoders
// in priority order, accepting the first that matches. Unmatched
// batches accrue the shit count and a matched batch resets it; a
// buffer past its cap is discarded wholesale.
func (d *SM6210) HandleData(p []byte) {
	if len(p) == 0 {
		return
	}
	if !d.Loaded() {
		return
	}

	d.buf.Append(p)

	matched := true
	defer func() {
		if matched {
			d.shitCount = 0
		}
	}()

	if d.readAck() {
		return
	}
	if r, ok := frame.DecodeBankRead(&d.buf, frame.BankEPC, true, false); ok {
		d.events.EPCFound(r.Data)
		return
	}
	if r, ok := frame.DecodeBankRead(&d.buf, frame.BankEPC, false, true); ok {
		d.events.EPCFound(r.Data)
		return
	}
	if r, ok := frame.DecodeBankRead(&d.buf, frame.BankTID, false, true); ok {
		d.events.TIDFound(r.Data)
		return
	}
	if r, ok := frame.DecodeBankRead(&d.buf, frame.BankRFU, false, true); ok {
		d.events.RFUFound(r.Data)
		return
	}
	if r, ok := frame.DecodeBankRead(&d.buf, frame.BankUSR, false, true); ok {
		datagram := r.WordStart / usrWordCount
		if datagram >= 0 && datagram < tags.NumUserDatagrams {
			d.events.UserFound(r.Data, datagram)
		}
		return
	}
	if frame.DecodeResponseShort(&d.buf) {
		return
	}
	if frame.DecodeResultShort(&d.buf) {
		return
	}

	matched = false
	d.shitCount++
	if d.buf.Len() > maxBufferSize {
		d.buf.Clear()
	}
}

// readAck matches the reader's single-tag session offer and answers it
// so tag reporting can begin.
func (d *SM6210) readAck() bool {
	if !frame.DecodeAck(&d.buf) {
		return false
	}
	d.tr.Write(frame.EncodeAckSingle())
	return true
}

// WriteEPC writes the EPC bank. Short payloads are zero-padded to the
// full bank size.
func (d *SM6210) WriteEPC(epc []byte) error {
	if len(epc) > tags.EPCLength {
		return ErrPayloadSize
	}
	if !d.tagPresent() {
		return ErrNoCurrentTag
	}
	return d.writeBank(pad(epc, tags.EPCLength), frame.BankEPC, epcWordStart, epcWordCount)
}

// WriteRFU writes the reserved bank, zero-padded to the bank size.
func (d *SM6210) WriteRFU(rfu []byte) error {
	if len(rfu) > tags.RFULength {
		return ErrPayloadSize
	}
	if !d.tagPresent() {
		return ErrNoCurrentTag
	}
	return d.writeBank(pad(rfu, tags.RFULength), frame.BankRFU, rfuWordStart, rfuWordCount)
}

// WriteUser writes the user bank, zero-padded to 64 bytes and split
// into four 16-byte segments at word offsets 0, 8, 16 and 24.
func (d *SM6210) WriteUser(data []byte) error {
	if len(data) > tags.UserLength {
		return ErrPayloadSize
	}
	if !d.tagPresent() {
		return ErrNoCurrentTag
	}
	return d.writeUserSegments(pad(data, tags.UserLength))
}

// EraseTag zero-fills the writable banks: 12 bytes to EPC, 8 to RFU
// and 13 to USER. The 13-byte user write matches the reader's shipped
// behaviour even though the bank holds 64 bytes; most of the user bank
// is left untouched.
func (d *SM6210) EraseTag() error {
	if err := d.WriteEPC(make([]byte, tags.EPCLength)); err != nil {
		return err
	}
	if err := d.WriteRFU(make([]byte, tags.RFULength)); err != nil {
		return err
	}
	if !d.tagPresent() {
		return ErrNoCurrentTag
	}
	return d.writeUserSegments(make([]byte, 13))
}

// KillTag is not implemented by the SM-6210.
func (d *SM6210) KillTag() error {
	return ErrUnsupported
}

// LockTag is not implemented by the SM-6210.
func (d *SM6210) LockTag() error {
	return ErrUnsupported
}

// writeUserSegments splits data across the four user word offsets.
// Segments beyond the data length are sent with empty payloads. All
// segments are attempted; the first failure is reported.
func (d *SM6210) writeUserSegments(data []byte) error {
	var firstErr error
	for i := 0; i < tags.NumUserDatagrams; i++ {
		seg := sliceSegment(data, i*16, 16)
		if err := d.writeBank(seg, frame.BankUSR, byte(i*usrWordCount), usrWordCount); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// writeBank transmits one write frame writeRepeat times. Success means
// every transmission placed the complete frame on the wire; there is
// no acknowledgement to parse.
func (d *SM6210) writeBank(data []byte, bank frame.Bank, wordStart, wordCount byte) error {
	pkt := frame.EncodeWrite(bank, wordStart, wordCount, data)

	var firstErr error
	for i := 0; i < writeRepeat; i++ {
		n, err := d.tr.Write(pkt)
		switch {
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		case n != len(pkt):
			if firstErr == nil {
				firstErr = ErrWriteShort
			}
		}
	}
	return firstErr
}

func pad(data []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, data)
	return out
}

func sliceSegment(data []byte, off, n int) []byte {
	if off >= len(data) {
		return nil
	}
	end := off + n
	if end > len(data) {
		end = len(data)
	}
	return data[off:end]
}
