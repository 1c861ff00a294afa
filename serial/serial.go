// Package serial owns the one serial connection to the RFID reader:
// it enumerates candidate devices, opens and closes the port, pumps
// raw byte chunks in both directions and reports status changes
// through handler callbacks. No framing happens here.
package serial

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	bserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var (
	// ErrPortUnavailable means the selected device index no longer
	// matches an attached device.
	ErrPortUnavailable = errors.New("serial: selected port is not available")

	// ErrNotConnected means there is no open connection to write to.
	ErrNotConnected = errors.New("serial: not connected")

	// ErrBadBaudRate means the baud rate index is out of range.
	ErrBadBaudRate = errors.New("serial: invalid baud rate selection")
)

// Device describes one enumerated serial device.
type Device struct {
	Description string
	Port        string
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Description, d.Port)
}

// Config holds serial transport settings.
type Config struct {
	// Baud is the initial baud rate. Defaults to 9600, the rate the
	// SM-6210 requires.
	Baud int `yaml:"baud"`
}

// Handlers carries the manager's callbacks. Nil funcs are skipped.
// OnData, and OnConnectionChanged(false) after a read error, are
// invoked from the read goroutine; everything else fires synchronously
// from the mutating call.
type Handlers struct {
	OnData              func(p []byte)
	OnDataSent          func(p []byte)
	OnConnectionChanged func(connected bool)
	OnBaudRateChanged   func(baud int)
	OnDevicesChanged    func(devices []Device)
	OnDisconnectNotice  func(port string)
}

// Manager owns the open port handle. All methods are safe for
// concurrent use.
type Manager struct {
	handlers Handlers
	log      *logrus.Logger

	mu       sync.Mutex
	baud     int
	port     bserial.Port
	portName string
	devices  []Device
	gen      int

	// replaced in tests
	listPorts func() ([]*enumerator.PortDetails, error)
	openPort  func(name string, mode *bserial.Mode) (bserial.Port, error)
}

// NewManager builds a manager. No connection is opened.
func NewManager(cfg Config, handlers Handlers, log *logrus.Logger) *Manager {
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		handlers:  handlers,
		log:       log,
		baud:      cfg.Baud,
		listPorts: enumerator.GetDetailedPortsList,
		openPort:  bserial.Open,
	}
}

// StandardBaudRates returns the selectable baud rates as strings.
func StandardBaudRates() []string {
	return []string{"1200", "2400", "4800", "9600", "19200", "38400", "57600", "115200"}
}

// RefreshDevices re-enumerates the attached serial devices. When the
// set differs from the previous snapshot the OnDevicesChanged handler
// fires. Devices without a description are skipped.
func (m *Manager) RefreshDevices() []Device {
	ports, err := m.listPorts()
	if err != nil {
		m.log.WithError(err).Warn("serial: device enumeration failed")
		return m.Devices()
	}

	var devices []Device
	for _, p := range ports {
		if p.Product == "" {
			continue
		}
		devices = append(devices, Device{Description: p.Product, Port: p.Name})
	}

	m.mu.Lock()
	changed := !sameDevices(m.devices, devices)
	if changed {
		m.devices = devices
	}
	m.mu.Unlock()

	if changed && m.handlers.OnDevicesChanged != nil {
		m.handlers.OnDevicesChanged(devices)
	}
	return devices
}

// Devices returns the last enumeration snapshot.
func (m *Manager) Devices() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, len(m.devices))
	copy(out, m.devices)
	return out
}

// Open connects to the device at index in the last snapshot, closing
// any prior connection first. On success the read pump starts and
// OnConnectionChanged(true) fires.
func (m *Manager) Open(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.devices) {
		m.mu.Unlock()
		return ErrPortUnavailable
	}
	dev := m.devices[index]

	m.closeLocked()

	mode := &bserial.Mode{
		BaudRate: m.baud,
		DataBits: 8,
		Parity:   bserial.NoParity,
		StopBits: bserial.OneStopBit,
	}
	port, err := m.openPort(dev.Port, mode)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("serial: open %s: %w", dev.Port, err)
	}

	m.port = port
	m.portName = dev.Port
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.log.WithField("port", dev.Port).Info("serial: connected")
	go m.readLoop(port, gen)

	if m.handlers.OnConnectionChanged != nil {
		m.handlers.OnConnectionChanged(true)
	}
	return nil
}

// Close disconnects the current device, if any. Idempotent. With
// silent unset the OnDisconnectNotice handler fires so the host can
// surface a notice to the user.
func (m *Manager) Close(silent bool) {
	m.mu.Lock()
	wasOpen := m.port != nil
	portName := m.portName
	m.closeLocked()
	m.mu.Unlock()

	if !wasOpen {
		return
	}
	m.log.WithField("port", portName).Info("serial: disconnected")
	if !silent && m.handlers.OnDisconnectNotice != nil {
		m.handlers.OnDisconnectNotice(portName)
	}
	if m.handlers.OnConnectionChanged != nil {
		m.handlers.OnConnectionChanged(false)
	}
}

// closeLocked tears down the port without firing handlers. Callers
// hold m.mu.
func (m *Manager) closeLocked() {
	if m.port != nil {
		m.port.Close()
		m.port = nil
		m.portName = ""
		m.gen++
	}
}

// SetBaudRate selects a rate from StandardBaudRates and applies it to
// the live connection if there is one. OnBaudRateChanged always fires
// on a valid selection.
func (m *Manager) SetBaudRate(index int) error {
	rates := StandardBaudRates()
	if index < 0 || index >= len(rates) {
		return ErrBadBaudRate
	}
	baud, _ := strconv.Atoi(rates[index])

	m.mu.Lock()
	m.baud = baud
	port := m.port
	m.mu.Unlock()

	var err error
	if port != nil {
		if serr := port.SetMode(&bserial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   bserial.NoParity,
			StopBits: bserial.OneStopBit,
		}); serr != nil {
			err = fmt.Errorf("serial: set baud rate: %w", serr)
		}
	}

	if m.handlers.OnBaudRateChanged != nil {
		m.handlers.OnBaudRateChanged(baud)
	}
	return err
}

// Write submits p to the open connection and returns the number of
// bytes the kernel accepted. The OnDataSent handler receives the slice
// actually accepted.
func (m *Manager) Write(p []byte) (int, error) {
	m.mu.Lock()
	port := m.port
	m.mu.Unlock()

	if port == nil {
		return 0, ErrNotConnected
	}

	n, err := port.Write(p)
	if n > 0 && m.handlers.OnDataSent != nil {
		m.handlers.OnDataSent(p[:n])
	}
	if err != nil {
		return n, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// Connected reports whether a device is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port != nil
}

// BaudRate returns the configured baud rate.
func (m *Manager) BaudRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baud
}

// PortName returns the open port's name, or "".
func (m *Manager) PortName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.portName
}

// readLoop pumps incoming bytes until the port errors out. A read
// error on the live generation terminates the connection and fires
// OnConnectionChanged(false); a stale generation exits quietly because
// the port was closed on purpose.
func (m *Manager) readLoop(port bserial.Port, gen int) {
	buf := make([]byte, 4096)
	for {
		n, err := port.Read(buf)
		if n > 0 && m.handlers.OnData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			m.handlers.OnData(chunk)
		}
		if err != nil {
			m.mu.Lock()
			live := m.gen == gen && m.port != nil
			portName := m.portName
			if live {
				m.closeLocked()
			}
			m.mu.Unlock()

			if live {
				m.log.WithError(err).WithField("port", portName).Warn("serial: read error, closing")
				if m.handlers.OnConnectionChanged != nil {
					m.handlers.OnConnectionChanged(false)
				}
			}
			return
		}
	}
}

func sameDevices(a, b []Device) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
