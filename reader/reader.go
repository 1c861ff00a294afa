// Package reader defines the interface every RFID reader driver
// implements, and the registry of supported models. A driver is a
// cooperative state machine: the facade ticks it, the serial transport
// feeds it raw bytes, and it lifts decoded bank payloads into events.
package reader

import "errors"

var (
	// ErrNotLoaded means the driver preconditions are not met (no
	// connection, or the wrong baud rate for the model).
	ErrNotLoaded = errors.New("reader: driver not loaded")

	// ErrUnsupported means the selected model does not implement the
	// requested operation.
	ErrUnsupported = errors.New("reader: operation not supported by this model")

	// ErrWriteShort means the transport accepted fewer bytes than the
	// frame holds.
	ErrWriteShort = errors.New("reader: short write")

	// ErrNoCurrentTag means a write was requested with no tag in the
	// field.
	ErrNoCurrentTag = errors.New("reader: no current tag")

	// ErrPayloadSize means a write payload exceeds the bank size.
	ErrPayloadSize = errors.New("reader: payload exceeds bank size")

	// ErrUnknownModel means the model index is out of range.
	ErrUnknownModel = errors.New("reader: unknown reader model")
)

// Events receives decoded bank observations. Implementations must not
// call back into the driver.
type Events interface {
	EPCFound(epc []byte)
	TIDFound(tid []byte)
	RFUFound(rfu []byte)
	UserFound(data []byte, datagram int)
}

// Transport is the slice of the serial manager the drivers depend on.
type Transport interface {
	Write(p []byte) (int, error)
	Connected() bool
	BaudRate() int
}

// Driver is the model-independent reader surface.
type Driver interface {
	// Scan performs one transmit decision: request a tag when none is
	// current, or cycle through the bank reads of the current tag.
	Scan()

	// Loaded reports whether the driver can talk to its device.
	Loaded() bool

	// HandleData feeds raw serial bytes into the driver's parse buffer
	// and processes whatever frames it admits.
	HandleData(p []byte)

	WriteEPC(epc []byte) error
	WriteRFU(rfu []byte) error
	WriteUser(data []byte) error
	EraseTag() error
	KillTag() error
	LockTag() error
}

// Deps carries what a driver needs from its surroundings.
type Deps struct {
	Transport  Transport
	Events     Events
	TagPresent func() bool
}

// Models lists the supported reader models in registry order.
func Models() []string {
	return []string{"SM-6210 USB UHF RFID Programmer"}
}

// New instantiates the driver at the given registry index.
func New(index int, deps Deps) (Driver, error) {
	switch index {
	case 0:
		return NewSM6210(deps), nil
	default:
		return nil, ErrUnknownModel
	}
}
