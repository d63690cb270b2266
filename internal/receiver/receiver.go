// Package receiver wraps the serial connection to the GNSS receiver (spec
// §6.1): an ASCII NMEA 0183 line stream in, and an opaque correction
// back-channel out.
//
// Adapted from the teacher's internal/port.GNSSSerialPort: the interface is
// narrowed to the read/write contract the rest of the system actually needs
// (io.ReadWriteCloser plus baud switching), and TOPGNSS-specific defaults
// are replaced with spec §6.5's receiver.baud default of 115200 8N1.
package receiver

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ReadTimeout is the serial reader's per-read timeout (spec §5: "serial
// reader read timeout is 1 s; each timeout increments a liveness counter").
const ReadTimeout = 1 * time.Second

// Port is the narrow contract the rest of the system depends on: a framed
// byte stream that can be read (NMEA in) and written (correction bytes
// out), with its baud rate adjustable at runtime.
type Port interface {
	Read(buffer []byte) (int, error)
	Write(data []byte) (int, error)
	Close() error
	ChangeBaudRate(baud int) error
}

// SerialReceiver implements Port over go.bug.st/serial.
type SerialReceiver struct {
	port     serial.Port
	portName string
	baud     int

	// Timeouts increments every time a Read call returns context.DeadlineExceeded-
	// equivalent behavior (the underlying driver's read timeout firing with zero
	// bytes), giving the supervisor a liveness counter per spec §5.
	Timeouts int
}

// Open connects to portName at baud, 8N1, with ReadTimeout applied.
func Open(portName string, baud int) (*SerialReceiver, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("receiver: open %s: %w", portName, err)
	}
	if err := p.SetReadTimeout(ReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("receiver: set read timeout: %w", err)
	}

	return &SerialReceiver{port: p, portName: portName, baud: baud}, nil
}

// Read implements io.Reader; a zero-byte, nil-error return from the
// underlying driver (its read-timeout signal) is counted as a liveness
// timeout and surfaced to the caller as (0, nil) — so a bufio.Scanner loop
// over it never errors out on an ordinary quiet period.
func (r *SerialReceiver) Read(buffer []byte) (int, error) {
	n, err := r.port.Read(buffer)
	if n == 0 && err == nil {
		r.Timeouts++
	}
	return n, err
}

// Write sends correction bytes (or any command) to the receiver.
func (r *SerialReceiver) Write(data []byte) (int, error) {
	return r.port.Write(data)
}

// Close releases the serial handle.
func (r *SerialReceiver) Close() error {
	if r.port == nil {
		return nil
	}
	return r.port.Close()
}

// ChangeBaudRate closes and reopens the port at a new baud rate.
func (r *SerialReceiver) ChangeBaudRate(baud int) error {
	if err := r.Close(); err != nil {
		return fmt.Errorf("receiver: close before rebaud: %w", err)
	}
	reopened, err := Open(r.portName, baud)
	if err != nil {
		return err
	}
	*r = *reopened
	return nil
}

// ListPorts enumerates serial devices, for cmd/rover's port prompt when no
// receiver port is configured.
func ListPorts() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("receiver: list ports: %w", err)
	}
	names := make([]string, 0, len(details))
	for _, d := range details {
		names = append(names, d.Name)
	}
	return names, nil
}
