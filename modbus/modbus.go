// Package modbus implements the subset of the Modbus protocol spoken by the
// fieldgate gateway: an RTU master transactor for a shared serial bus, a TCP
// client for talking to an upstream gateway, and a TCP server fronting a
// register cache of holding and input registers.
//
// Function codes 0x03 (read holdings), 0x04 (read inputs), 0x06 (write single
// holding) and 0x10 (write multiple holdings) are supported end to end. The
// server answers every other function code with exception 01.
//
// The public API deals in int values for registers and addresses. Values that
// do not fit the wire representation panic via bytePanic/wordPanic rather
// than silently truncating.
package modbus

import (
	"time"

	"go.uber.org/zap"
)

// Function codes understood by the gateway.
const (
	fnReadHoldings       = 0x03
	fnReadInputs         = 0x04
	fnWriteSingleHolding = 0x06
	fnWriteMultiHoldings = 0x10
)

// mlog is the package logger. It discards everything until SetLogger is
// called by the embedding application.
var mlog *zap.SugaredLogger = zap.NewNop().Sugar()

// SetLogger installs a logger for protocol-level events (framing errors,
// reconnects, exception responses). Pass nil to silence the package again.
func SetLogger(logger *zap.SugaredLogger) {
	if logger == nil {
		mlog = zap.NewNop().Sugar()
		return
	}
	mlog = logger
}

// pdu is a Modbus protocol data unit: a function code and its payload,
// without any transport framing (no unit, CRC, or MBAP header).
type pdu struct {
	function byte
	data     []byte
}

// adu wraps a pdu with the addressing a transport needs: the unit (slave) id
// and, for TCP, the transaction id used to correlate the reply.
type adu struct {
	txid uint16
	unit byte
	pdu
}

// Modbus is a bus from the client perspective. Both transports implement it:
// NewRTU returns a serial master and NewTCP a connected TCP client.
type Modbus interface {
	// GetClient returns a Client bound to the given unit (slave) id.
	GetClient(unit int) Client
	// Diagnostics returns a copy of the bus counters.
	Diagnostics() BusDiagnostics
	// Close releases the underlying port or socket. Blocked transactions
	// fail with ErrDisconnected.
	Close() error
}

// Client exposes typed operations against a single unit on a bus. All calls
// block for at most the supplied timeout.
type Client interface {
	// UnitID identifies which unit this client queries.
	UnitID() int
	// ReadHoldings reads count holding registers starting at from (function 0x03).
	ReadHoldings(from, count int, tout time.Duration) (*X03xReadHolding, error)
	// ReadInputs reads count input registers starting at from (function 0x04).
	ReadInputs(from, count int, tout time.Duration) (*X04xReadInputs, error)
	// WriteSingleHolding sets one holding register (function 0x06).
	WriteSingleHolding(address, value int, tout time.Duration) (*X06xWriteSingleHolding, error)
	// WriteMultipleHoldings sets a run of holding registers starting at
	// address (function 0x10).
	WriteMultipleHoldings(address int, values []int, tout time.Duration) (*X10xWriteMultipleHoldings, error)
}
