// Package serial provides serial port communication functionality
package serial

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate is the fixed bit rate the macropad firmware talks at
const DefaultBaudRate = 115200

// DefaultReadTimeout bounds a single blocking read so readers can observe
// stop requests promptly
const DefaultReadTimeout = 200 * time.Millisecond

// SerialConfig defines the configuration for serial port communication
type SerialConfig struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	DataBits    int           `json:"data_bits"`
	StopBits    int           `json:"stop_bits"`
	Parity      string        `json:"parity"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Validate checks if the serial configuration is valid
func (c SerialConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}

	validBaudRates := []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}
	validBaud := false
	for _, rate := range validBaudRates {
		if c.BaudRate == rate {
			validBaud = true
			break
		}
	}
	if !validBaud {
		return fmt.Errorf("invalid baud rate: %d", c.BaudRate)
	}

	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("data bits must be between 5 and 8, got: %d", c.DataBits)
	}

	if c.StopBits < 1 || c.StopBits > 2 {
		return fmt.Errorf("stop bits must be 1 or 2, got: %d", c.StopBits)
	}

	validParity := []string{"none", "odd", "even", "mark", "space"}
	validParityFound := false
	for _, p := range validParity {
		if c.Parity == p {
			validParityFound = true
			break
		}
	}
	if !validParityFound {
		return fmt.Errorf("invalid parity: %s", c.Parity)
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}

	return nil
}

// WithPort returns a copy of the configuration targeting port
func (c SerialConfig) WithPort(port string) SerialConfig {
	c.Port = port
	return c
}

// DefaultConfig returns the macropad's serial configuration: 115200 8N1
// with a short read timeout. Port is left empty.
func DefaultConfig() SerialConfig {
	return SerialConfig{
		BaudRate:    DefaultBaudRate,
		DataBits:    8,
		StopBits:    1,
		Parity:      "none",
		ReadTimeout: DefaultReadTimeout,
	}
}

// Port is the subset of an open serial port the link and prober need.
// Read returns 0, nil when the read timeout elapses with no data.
type Port interface {
	Read(buffer []byte) (int, error)
	Close() error
	SetReadTimeout(timeout time.Duration) error
}

// OpenFunc opens a port. Tests replace it with scripted fakes.
type OpenFunc func(config SerialConfig) (Port, error)

// Open opens the port named in config using go.bug.st/serial. On Unix the
// port is opened exclusively so a second owner cannot steal lines.
func Open(config SerialConfig) (Port, error) {
	if err := config.Validate(); err != nil {
		return nil, NewSerialError("open", config.Port, fmt.Errorf("invalid configuration: %w", err))
	}

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: convertStopBits(config.StopBits),
		Parity:   convertParity(config.Parity),
	}

	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, NewSerialError("open", config.Port, err)
	}

	if err := port.SetReadTimeout(config.ReadTimeout); err != nil {
		port.Close()
		return nil, NewSerialError("set read timeout", config.Port, err)
	}

	return &portHandle{port: port, name: config.Port}, nil
}

// portHandle wraps errors from the driver in SerialError
type portHandle struct {
	port serial.Port
	name string
}

func (p *portHandle) Read(buffer []byte) (int, error) {
	n, err := p.port.Read(buffer)
	if err != nil {
		return n, NewSerialError("read", p.name, err)
	}
	return n, nil
}

func (p *portHandle) Close() error {
	if err := p.port.Close(); err != nil {
		return NewSerialError("close", p.name, err)
	}
	return nil
}

func (p *portHandle) SetReadTimeout(timeout time.Duration) error {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return NewSerialError("set read timeout", p.name, err)
	}
	return nil
}

// convertStopBits converts our stop bits format to go.bug.st/serial format
func convertStopBits(stopBits int) serial.StopBits {
	switch stopBits {
	case 1:
		return serial.OneStopBit
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// convertParity converts our parity format to go.bug.st/serial format
func convertParity(parity string) serial.Parity {
	switch parity {
	case "none":
		return serial.NoParity
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	case "mark":
		return serial.MarkParity
	case "space":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

// PortInfo contains information about a serial port
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	Product      string `json:"product,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// ListPorts returns the names of the serial ports on the system in
// enumeration order
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get ports list: %w", err)
	}
	return ports, nil
}

// GetDetailedPortsList returns USB details for each serial port when the
// platform enumerator can provide them
func GetDetailedPortsList() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get detailed ports list: %w", err)
	}

	portInfos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		portInfos = append(portInfos, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
		})
	}

	return portInfos, nil
}

// IsPortAvailable checks if a specific port is available
func IsPortAvailable(portName string) bool {
	ports, err := serial.GetPortsList()
	if err != nil {
		return false
	}

	for _, port := range ports {
		if port == portName {
			return true
		}
	}

	return false
}

// SerialError represents a device I/O failure: the handle is invalid, the
// device was unplugged or the port could not be opened
type SerialError struct {
	Operation string
	Port      string
	Cause     error
}

// Error implements the error interface
func (e *SerialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("serial %s operation failed on port %s: %v", e.Operation, e.Port, e.Cause)
	}
	return fmt.Sprintf("serial %s operation failed on port %s", e.Operation, e.Port)
}

// Unwrap returns the driver error
func (e *SerialError) Unwrap() error {
	return e.Cause
}

// NewSerialError creates a new serial error
func NewSerialError(operation, port string, cause error) *SerialError {
	return &SerialError{
		Operation: operation,
		Port:      port,
		Cause:     cause,
	}
}

// IsPortBusy reports whether err says the port is held by another process
func IsPortBusy(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PortBusy
	}
	return false
}

// ConnectionState represents the lifecycle of the serial link
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateScanning
	StateConnected
	StateDisconnecting
)

// String returns the string representation of ConnectionState
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}
