// Package rfid is the command facade over the RFID core: it wires the
// serial transport, the model driver and the tag aggregator together,
// runs the scan loop, and exposes the operations a host drives.
package rfid

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rfidprog/reader"
	"rfidprog/serial"
	"rfidprog/tags"
)

// ErrCancelled means the host declined a requested confirmation.
var ErrCancelled = errors.New("rfid: operation cancelled")

// scanInterval is how often the driver is ticked.
const scanInterval = tags.CurrentTagTimeout / 50

// devicePollInterval is the serial device enumeration cadence.
const devicePollInterval = time.Second

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Operation names a user-initiated tag operation for confirmation and
// result reporting.
type Operation string

const (
	OpWriteEPC  Operation = "write-epc"
	OpWriteRFU  Operation = "write-rfu"
	OpWriteUser Operation = "write-user"
	OpErase     Operation = "erase"
	OpKill      Operation = "kill"
	OpLock      Operation = "lock"
)

// Handlers carries every host-facing callback. Nil funcs are skipped.
// Confirm gates the destructive operations; a nil Confirm accepts.
type Handlers struct {
	Confirm func(op Operation) bool

	OnStateChanged      func(s State)
	OnCurrentTagChanged func(t *tags.Tag)
	OnTagCountChanged   func(count int)
	OnTagUpdated        func()
	OnDevicesChanged    func(devices []serial.Device)
	OnBaudRateChanged   func(baud int)
	OnDisconnectNotice  func(port string)
	OnDataSent          func(p []byte)
	OnDataReceived      func(p []byte)
}

// Facade is the single process-level holder of the RFID core. All
// exported methods are safe for concurrent use; internally one mutex
// serialises the driver, the aggregator and the state machine.
type Facade struct {
	log *logrus.Logger

	mu           sync.Mutex
	handlers     Handlers
	serial       *serial.Manager
	agg          *tags.Aggregator
	driver       reader.Driver
	model        int
	selectedPort int
	state        State
}

// New builds the facade and its subcomponents. The default reader
// model is selected; no connection is opened until Connect or
// ToggleConnection.
func New(cfg serial.Config, handlers Handlers, log *logrus.Logger) *Facade {
	if log == nil {
		log = logrus.New()
	}
	f := &Facade{
		log:          log,
		handlers:     handlers,
		selectedPort: -1,
	}

	f.agg = tags.NewAggregator(tags.Notifier{
		CurrentTagChanged: func() { f.callCurrentTagChanged() },
		TagCountChanged:   func(n int) { f.callTagCountChanged(n) },
		TagUpdated:        func() { f.callTagUpdated() },
	})

	f.serial = serial.NewManager(cfg, serial.Handlers{
		OnData:              f.handleData,
		OnDataSent:          handlers.OnDataSent,
		OnConnectionChanged: f.handleConnectionChanged,
		OnBaudRateChanged:   handlers.OnBaudRateChanged,
		OnDevicesChanged:    handlers.OnDevicesChanged,
		OnDisconnectNotice:  handlers.OnDisconnectNotice,
	}, log)

	if err := f.SelectReaderModel(0); err != nil {
		// Model 0 always exists; this cannot happen.
		log.WithError(err).Error("rfid: default model selection failed")
	}
	return f
}

// Run drives the event loop: the 20 ms driver tick, the watchdog and
// the 1 s device poll, until ctx is done. The connection is closed on
// exit.
func (f *Facade) Run(ctx context.Context) {
	scanTicker := time.NewTicker(scanInterval)
	defer scanTicker.Stop()
	deviceTicker := time.NewTicker(devicePollInterval)
	defer deviceTicker.Stop()

	f.serial.RefreshDevices()

	for {
		select {
		case <-ctx.Done():
			f.Disconnect(true)
			return
		case <-scanTicker.C:
			f.tick()
		case <-deviceTicker.C:
			f.serial.RefreshDevices()
		}
	}
}

// tick performs one scheduler cycle: the watchdog first, then at most
// one driver transmit decision.
func (f *Facade) tick() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.agg.Tick()
	if f.state == StateConnected && f.driver != nil && f.driver.Loaded() {
		f.driver.Scan()
	}
}

// handleData feeds serial bytes to the driver and mirrors them to the
// host tap.
func (f *Facade) handleData(p []byte) {
	if f.handlers.OnDataReceived != nil {
		f.handlers.OnDataReceived(p)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.driver != nil {
		f.driver.HandleData(p)
	}
}

// handleConnectionChanged tracks connection loss from the transport
// side (read errors) and resolves the state machine accordingly.
func (f *Facade) handleConnectionChanged(connected bool) {
	f.mu.Lock()
	switch {
	case connected:
		f.setStateLocked(StateConnected)
	case f.state != StateIdle:
		f.setStateLocked(StateDisconnecting)
		f.agg.Clear()
		f.setStateLocked(StateIdle)
	}
	f.mu.Unlock()
}

func (f *Facade) setStateLocked(s State) {
	if f.state == s {
		return
	}
	f.state = s
	f.log.WithField("state", s.String()).Debug("rfid: state change")
	if f.handlers.OnStateChanged != nil {
		f.handlers.OnStateChanged(s)
	}
}

// ReaderModels lists the supported reader models.
func (f *Facade) ReaderModels() []string {
	return reader.Models()
}

// SelectReaderModel swaps the active driver. History is cleared: the
// records were produced by the outgoing driver.
func (f *Facade) SelectReaderModel(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	drv, err := reader.New(index, reader.Deps{
		Transport:  f.serial,
		Events:     aggregatorEvents{f.agg},
		TagPresent: f.agg.HasCurrentTag,
	})
	if err != nil {
		return err
	}
	f.driver = drv
	f.model = index
	f.agg.Clear()
	return nil
}

// Devices returns the latest serial device snapshot.
func (f *Facade) Devices() []serial.Device {
	return f.serial.Devices()
}

// BaudRates lists the selectable baud rates.
func (f *Facade) BaudRates() []string {
	return serial.StandardBaudRates()
}

// SetPort selects the device index used by the next connection
// attempt. A live connection is re-established on the new port.
func (f *Facade) SetPort(index int) error {
	f.mu.Lock()
	f.selectedPort = index
	reconnect := f.state == StateConnected
	f.mu.Unlock()

	if reconnect {
		f.Disconnect(true)
		return f.Connect()
	}
	return nil
}

// SetBaudRate applies a rate from BaudRates to the transport.
func (f *Facade) SetBaudRate(index int) error {
	return f.serial.SetBaudRate(index)
}

// ToggleConnection connects when idle and disconnects when connected.
func (f *Facade) ToggleConnection() error {
	f.mu.Lock()
	connected := f.state == StateConnected || f.state == StateConnecting
	f.mu.Unlock()

	if connected {
		f.Disconnect(false)
		return nil
	}
	return f.Connect()
}

// Connect opens the selected port, passing through Connecting; a
// failed open falls back to Idle. No subscription is armed or detached
// by the state machine: handleData forwards ingress to the driver in
// every state, and the driver drops it while not loaded.
func (f *Facade) Connect() error {
	f.mu.Lock()
	if f.state != StateIdle {
		f.mu.Unlock()
		return nil
	}
	f.setStateLocked(StateConnecting)
	port := f.selectedPort
	f.mu.Unlock()

	if err := f.serial.Open(port); err != nil {
		f.mu.Lock()
		f.setStateLocked(StateIdle)
		f.mu.Unlock()
		return err
	}
	// handleConnectionChanged moved the state to Connected.
	return nil
}

// Disconnect closes the connection and clears the history. Idempotent.
func (f *Facade) Disconnect(silent bool) {
	f.mu.Lock()
	if f.state == StateIdle {
		f.mu.Unlock()
		return
	}
	f.setStateLocked(StateDisconnecting)
	f.mu.Unlock()

	f.serial.Close(silent)

	f.mu.Lock()
	f.agg.Clear()
	f.setStateLocked(StateIdle)
	f.mu.Unlock()
}

// State returns the connection state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// CurrentTag returns the tag in the field, or nil.
func (f *Facade) CurrentTag() *tags.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agg.CurrentTag()
}

// History returns the observed tags in insertion order.
func (f *Facade) History() []*tags.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agg.History()
}

// TagCount returns the number of observed tags.
func (f *Facade) TagCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agg.TagCount()
}

// ClearHistory drops all observed tags and the current tag.
func (f *Facade) ClearHistory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agg.Clear()
}

// ExportCSV dumps the history to w in the mandated column order.
func (f *Facade) ExportCSV(w io.Writer) error {
	return tags.WriteCSV(w, f.History())
}

// MemoryMap renders a tag's banks as a text dump.
func (f *Facade) MemoryMap(t *tags.Tag) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return tags.MemoryMap(t)
}

// WriteEPC writes the EPC bank of the current tag.
func (f *Facade) WriteEPC(epc []byte) error {
	return f.write(func(d reader.Driver) error { return d.WriteEPC(epc) })
}

// WriteRFU writes the reserved bank of the current tag.
func (f *Facade) WriteRFU(rfu []byte) error {
	return f.write(func(d reader.Driver) error { return d.WriteRFU(rfu) })
}

// WriteUser writes the user bank of the current tag.
func (f *Facade) WriteUser(data []byte) error {
	return f.write(func(d reader.Driver) error { return d.WriteUser(data) })
}

// EraseTag zero-fills the current tag's writable banks after host
// confirmation.
func (f *Facade) EraseTag() error {
	if !f.confirm(OpErase) {
		return ErrCancelled
	}
	return f.write(func(d reader.Driver) error { return d.EraseTag() })
}

// KillTag permanently disables the current tag after host
// confirmation. The SM-6210 does not implement it.
func (f *Facade) KillTag() error {
	if !f.confirm(OpKill) {
		return ErrCancelled
	}
	return f.write(func(d reader.Driver) error { return d.KillTag() })
}

// LockTag locks the current tag after host confirmation. The SM-6210
// does not implement it.
func (f *Facade) LockTag() error {
	if !f.confirm(OpLock) {
		return ErrCancelled
	}
	return f.write(func(d reader.Driver) error { return d.LockTag() })
}

func (f *Facade) confirm(op Operation) bool {
	if f.handlers.Confirm == nil {
		return true
	}
	return f.handlers.Confirm(op)
}

// write runs op against a loaded driver.
func (f *Facade) write(op func(reader.Driver) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.driver == nil || !f.driver.Loaded() {
		return reader.ErrNotLoaded
	}
	return op(f.driver)
}

// callCurrentTagChanged and friends forward aggregator notifications
// to the host. They fire while f.mu is held; handlers must not call
// back into the facade.
func (f *Facade) callCurrentTagChanged() {
	if f.handlers.OnCurrentTagChanged != nil {
		f.handlers.OnCurrentTagChanged(f.agg.CurrentTag())
	}
}

func (f *Facade) callTagCountChanged(n int) {
	if f.handlers.OnTagCountChanged != nil {
		f.handlers.OnTagCountChanged(n)
	}
}

func (f *Facade) callTagUpdated() {
	if f.handlers.OnTagUpdated != nil {
		f.handlers.OnTagUpdated()
	}
}

// aggregatorEvents adapts the aggregator to the driver's event sink.
type aggregatorEvents struct {
	agg *tags.Aggregator
}

func (e aggregatorEvents) EPCFound(epc []byte) { e.agg.OnEPC(epc) }
func (e aggregatorEvents) TIDFound(tid []byte) { e.agg.OnTID(tid) }
func (e aggregatorEvents) RFUFound(rfu []byte) { e.agg.OnRFU(rfu) }
func (e aggregatorEvents) UserFound(data []byte, datagram int) {
	e.agg.OnUser(data, datagram)
}
