package modbus

/*
RTU master transport. One process owns the serial bus, so there is no frame
demultiplexing here: a transaction is an exclusive write followed by one
framed response. Exclusivity is a mutex; every transaction runs

    reset input buffer -> write frame -> inter-frame guard -> read until idle

and the response is complete when the wire goes quiet for the idle gap.
*/

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the slice of a serial port the transactor needs. go.bug.st/serial
// ports satisfy it directly.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// RTUConfig describes the serial line and the bus timing.
type RTUConfig struct {
	// Device is the platform name of the serial port, e.g. /dev/ttyUSB0.
	Device string
	// Baud is the line speed in bits per second.
	Baud int
	// DataBits per character, usually 8.
	DataBits int
	// Parity is one of none, even or odd (n/e/o also accepted).
	Parity string
	// StopBits is 1 or 2.
	StopBits int
	// ReadTimeout bounds how long a transaction waits for the first
	// response byte. Zero means 1s.
	ReadTimeout time.Duration
	// InterFrame is the quiet time enforced between the request and
	// listening for the response. Zero means 20ms.
	InterFrame time.Duration
	// IdleGap is the silence that marks the end of a response. Zero
	// means 30ms.
	IdleGap time.Duration
	// ReopenEvery rate-limits reopen attempts after the port drops.
	// Zero means 2s.
	ReopenEvery time.Duration
}

func (c *RTUConfig) withDefaults() RTUConfig {
	out := *c
	if out.DataBits == 0 {
		out.DataBits = 8
	}
	if out.StopBits == 0 {
		out.StopBits = 1
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = time.Second
	}
	if out.InterFrame == 0 {
		out.InterFrame = 20 * time.Millisecond
	}
	if out.IdleGap == 0 {
		out.IdleGap = 30 * time.Millisecond
	}
	if out.ReopenEvery == 0 {
		out.ReopenEvery = 2 * time.Second
	}
	return out
}

func (c *RTUConfig) mode() (*serial.Mode, error) {
	m := &serial.Mode{BaudRate: c.Baud, DataBits: c.DataBits}
	switch strings.ToLower(c.Parity) {
	case "", "none", "n":
		m.Parity = serial.NoParity
	case "even", "e":
		m.Parity = serial.EvenParity
	case "odd", "o":
		m.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unknown parity %q", c.Parity)
	}
	switch c.StopBits {
	case 1:
		m.StopBits = serial.OneStopBit
	case 2:
		m.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %v", c.StopBits)
	}
	return m, nil
}

// RTU is a Modbus RTU master on a serial line. It implements Modbus. The
// port is opened lazily and reopened after transport errors, so a gateway
// can start before its USB adapter is plugged in.
type RTU struct {
	cfg  RTUConfig
	open func() (Port, error)

	mu       sync.Mutex
	port     Port
	lastOpen time.Time
	closed   bool

	diag *busDiagnosticManager
}

// NewRTU validates the line configuration and returns a master for it. An
// unreachable device is not an error here: transactions fail with
// ErrDisconnected until the port can be opened.
func NewRTU(cfg RTUConfig) (*RTU, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("rtu: no serial device configured")
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("rtu: invalid baud rate %v", cfg.Baud)
	}
	cfg = cfg.withDefaults()
	mode, err := cfg.mode()
	if err != nil {
		return nil, fmt.Errorf("rtu: %w", err)
	}
	r := &RTU{
		cfg: cfg,
		open: func() (Port, error) {
			return serial.Open(cfg.Device, mode)
		},
		diag: newBusDiagnosticManager(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.ensureOpen(); err != nil {
		mlog.Warnf("Serial device %v not available yet, will retry: %v", cfg.Device, err)
	}
	return r, nil
}

// GetClient returns a typed client for one unit on the bus.
func (r *RTU) GetClient(unit int) Client {
	return client{unit: unit, bus: r}
}

// Diagnostics returns a copy of the bus counters.
func (r *RTU) Diagnostics() BusDiagnostics {
	return r.diag.getDiagnostics()
}

// Close shuts the port. Later transactions fail with ErrDisconnected.
func (r *RTU) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	return err
}

// ensureOpen returns the open port, opening it if the reopen backoff allows.
// Callers hold r.mu.
func (r *RTU) ensureOpen() (Port, error) {
	if r.closed {
		return nil, ErrDisconnected
	}
	if r.port != nil {
		return r.port, nil
	}
	if !r.lastOpen.IsZero() && time.Since(r.lastOpen) < r.cfg.ReopenEvery {
		return nil, ErrDisconnected
	}
	r.lastOpen = time.Now()
	port, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("open %v: %v: %w", r.cfg.Device, err, ErrDisconnected)
	}
	if err := port.SetReadTimeout(r.cfg.IdleGap); err != nil {
		port.Close()
		return nil, fmt.Errorf("configure %v: %v: %w", r.cfg.Device, err, ErrDisconnected)
	}
	mlog.Infof("Serial port %v open at %v baud", r.cfg.Device, r.cfg.Baud)
	r.port = port
	return port, nil
}

// dropPort closes the port after a transport error so the next transaction
// attempts a fresh open. Callers hold r.mu.
func (r *RTU) dropPort(cause error) {
	if r.port == nil {
		return
	}
	r.port.Close()
	r.port = nil
	mlog.Warnf("Serial port %v dropped: %v", r.cfg.Device, cause)
}

// Transact sends one raw RTU frame and returns the raw response frame, CRC
// and all. The bus lock makes request/response pairs on the shared line
// atomic. A tout of zero uses the configured ReadTimeout.
func (r *RTU) Transact(frame []byte, tout time.Duration) ([]byte, error) {
	if tout <= 0 {
		tout = r.cfg.ReadTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	port, err := r.ensureOpen()
	if err != nil {
		return nil, err
	}
	if err := port.ResetInputBuffer(); err != nil {
		r.dropPort(err)
		r.diag.commError()
		return nil, fmt.Errorf("flush: %v: %w", err, ErrDisconnected)
	}
	mlog.Debugf("RTU TX %v", hex.EncodeToString(frame))
	for off := 0; off < len(frame); {
		n, err := port.Write(frame[off:])
		if err != nil {
			r.dropPort(err)
			r.diag.commError()
			return nil, fmt.Errorf("write: %v: %w", err, ErrDisconnected)
		}
		off += n
	}
	// Give the slave's line driver time to turn around before listening.
	time.Sleep(r.cfg.InterFrame)

	deadline := time.Now().Add(tout)
	buf := make([]byte, 256)
	var resp []byte
	for {
		n, err := port.Read(buf)
		if err != nil {
			r.dropPort(err)
			r.diag.commError()
			return nil, fmt.Errorf("read: %v: %w", err, ErrDisconnected)
		}
		if n > 0 {
			resp = append(resp, buf[:n]...)
			if len(resp) >= 512 {
				break
			}
			continue
		}
		// Read returned empty: the line was idle for the full gap.
		if len(resp) > 0 {
			break
		}
		if time.Now().After(deadline) {
			r.diag.commError()
			return nil, ErrNoResponse
		}
	}
	mlog.Debugf("RTU RX %v", hex.EncodeToString(resp))
	r.diag.message()
	return resp, nil
}

// roundTrip implements transactor for the typed client layer.
func (r *RTU) roundTrip(unit byte, tx pdu, tout time.Duration) (pdu, error) {
	frame := buildRTUFrame(unit, tx)
	raw, err := r.Transact(frame, tout)
	if err != nil {
		return pdu{}, err
	}
	got, rx, err := VerifyRTUFrame(raw)
	if err != nil {
		if _, ok := err.(*Error); ok {
			r.diag.exception()
		} else {
			r.diag.commError()
		}
		return pdu{}, err
	}
	if got != int(unit) {
		r.diag.commError()
		return pdu{}, fmt.Errorf("Response from unit %v when expecting unit %v", got, unit)
	}
	return rx, nil
}

// buildRTUFrame wraps a pdu for the serial wire: unit, function, data, and
// the CRC16 appended low byte first.
func buildRTUFrame(unit byte, p pdu) []byte {
	frame := make([]byte, len(p.data)+4)
	frame[0] = unit
	frame[1] = p.function
	copy(frame[2:], p.data)
	crc := computeCRC16(frame[:len(frame)-2])
	setWordLE(frame, len(frame)-2, crc)
	return frame
}

// VerifyRTUFrame validates a raw RTU frame and unwraps it. Short frames and
// CRC mismatches return errors wrapping ErrBadFrame. Exception responses
// return the matching *Error with the slave's exception code.
func VerifyRTUFrame(frame []byte) (unit int, p pdu, err error) {
	if len(frame) < 5 {
		return 0, pdu{}, fmt.Errorf("frame of %v bytes is too short: %w", len(frame), ErrBadFrame)
	}
	want := computeCRC16(frame[:len(frame)-2])
	got := getWordLE(frame, len(frame)-2)
	if want != got {
		return 0, pdu{}, fmt.Errorf("CRC mismatch: computed %04x but frame carries %04x: %w", want, got, ErrBadFrame)
	}
	unit = int(frame[0])
	function := frame[1]
	data := frame[2 : len(frame)-2]
	if function&0x80 != 0 {
		if len(data) < 1 {
			return unit, pdu{}, fmt.Errorf("exception response without code: %w", ErrBadFrame)
		}
		return unit, pdu{}, exceptionError(function&0x7F, data[0])
	}
	return unit, pdu{function, data}, nil
}

// BuildReadHoldings builds a complete RTU frame for function 0x03.
func BuildReadHoldings(unit, from, count int) []byte {
	p := dataBuilder{}
	p.word(from)
	p.word(count)
	return buildRTUFrame(bytePanic(unit), pdu{fnReadHoldings, p.payload()})
}

// BuildReadInputs builds a complete RTU frame for function 0x04.
func BuildReadInputs(unit, from, count int) []byte {
	p := dataBuilder{}
	p.word(from)
	p.word(count)
	return buildRTUFrame(bytePanic(unit), pdu{fnReadInputs, p.payload()})
}

// BuildWriteSingleHolding builds a complete RTU frame for function 0x06.
func BuildWriteSingleHolding(unit, address, value int) []byte {
	p := dataBuilder{}
	p.word(address)
	p.word(value)
	return buildRTUFrame(bytePanic(unit), pdu{fnWriteSingleHolding, p.payload()})
}

// BuildWriteMultipleHoldings builds a complete RTU frame for function 0x10.
func BuildWriteMultipleHoldings(unit, address int, values []int) []byte {
	p := dataBuilder{}
	p.word(address)
	p.word(len(values))
	p.byte(len(values) * 2)
	p.words(values...)
	return buildRTUFrame(bytePanic(unit), pdu{fnWriteMultiHoldings, p.payload()})
}
