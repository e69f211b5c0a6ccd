package modbus

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// tcpModbus is the client end of a Modbus TCP connection. Requests from any
// number of goroutines are correlated with responses by MBAP transaction id,
// so a slow poll does not block a command write.
type tcpModbus struct {
	name string
	conn *net.TCPConn

	mu      sync.Mutex
	txid    uint16
	pending map[uint16]chan pdu

	closed    chan struct{}
	closeOnce sync.Once

	diag *busDiagnosticManager
}

// NewTCP connects to a Modbus TCP server ("host:port") and returns the bus
// handle for it.
func NewTCP(hostport string) (Modbus, error) {
	addr, err := net.ResolveTCPAddr("tcp", hostport)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		return nil, err
	}
	if err := setupConn(conn); err != nil {
		conn.Close()
		return nil, err
	}
	t := &tcpModbus{
		name:    conn.RemoteAddr().String(),
		conn:    conn,
		pending: make(map[uint16]chan pdu),
		closed:  make(chan struct{}),
		diag:    newBusDiagnosticManager(),
	}
	go t.wireReader()
	return t, nil
}

// GetClient returns a typed client for one unit behind the server.
func (t *tcpModbus) GetClient(unit int) Client {
	return client{unit: unit, bus: t}
}

// Diagnostics returns a copy of the bus counters.
func (t *tcpModbus) Diagnostics() BusDiagnostics {
	return t.diag.getDiagnostics()
}

// Close shuts the socket down. Outstanding and later transactions fail with
// ErrDisconnected.
func (t *tcpModbus) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.conn.Close()
	})
	return nil
}

func (t *tcpModbus) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// wireReader takes frames off the wire and hands each to the goroutine
// waiting on its transaction id.
func (t *tcpModbus) wireReader() {
	for {
		a, err := readTCPFrame(t.conn)
		if err != nil {
			if !t.isClosed() && !errors.Is(err, io.EOF) {
				mlog.Warnf("Terminating tcp reader %s: %v", t.name, err)
			}
			t.Close()
			return
		}
		t.diag.message()
		t.mu.Lock()
		waiter, ok := t.pending[a.txid]
		delete(t.pending, a.txid)
		t.mu.Unlock()
		if !ok {
			t.diag.overrun()
			mlog.Warnf("Unexpected transaction %v from %s, no request outstanding", a.txid, t.name)
			continue
		}
		waiter <- a.pdu
	}
}

func (t *tcpModbus) forget(id uint16) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// roundTrip implements transactor: one request frame out, the matching
// response in, or a timeout.
func (t *tcpModbus) roundTrip(unit byte, tx pdu, tout time.Duration) (pdu, error) {
	if tout <= 0 {
		tout = 3 * time.Second
	}
	waiter := make(chan pdu, 1)
	t.mu.Lock()
	if t.isClosed() {
		t.mu.Unlock()
		return pdu{}, ErrDisconnected
	}
	t.txid++
	id := t.txid
	t.pending[id] = waiter
	frame := buildTCPFrame(adu{txid: id, unit: unit, pdu: tx})
	t.conn.SetWriteDeadline(time.Now().Add(tout))
	_, err := t.conn.Write(frame)
	t.mu.Unlock()
	if err != nil {
		t.forget(id)
		t.Close()
		return pdu{}, fmt.Errorf("write %s: %v: %w", t.name, err, ErrDisconnected)
	}

	timer := time.NewTimer(tout)
	defer timer.Stop()
	var rx pdu
	select {
	case rx = <-waiter:
	case <-t.closed:
		t.forget(id)
		return pdu{}, ErrDisconnected
	case <-timer.C:
		t.forget(id)
		t.diag.commError()
		return pdu{}, ErrNoResponse
	}
	if rx.function&0x80 != 0 {
		t.diag.exception()
		code := uint8(0)
		if len(rx.data) > 0 {
			code = rx.data[0]
		}
		return pdu{}, exceptionError(rx.function&0x7F, code)
	}
	return rx, nil
}
