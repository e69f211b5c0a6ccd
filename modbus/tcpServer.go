package modbus

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// TCPServer is a listener that fronts a register cache Server. Every
// accepted connection is serviced by its own goroutine, so one stalled
// client cannot block another.
type TCPServer interface {
	io.Closer
	// Addr is the bound listen address, useful when listening on :0.
	Addr() net.Addr
	// WaitClosed blocks until the listener and all client connections
	// have terminated.
	WaitClosed()
}

type tcpServer struct {
	listener *net.TCPListener
	server   Server

	mu    sync.Mutex
	conns map[*net.TCPConn]bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewTCPServer listens on the given address ("host:port", host may be empty)
// and answers Modbus TCP requests from the supplied Server. The error covers
// bind failures only; accept problems after that are logged.
func NewTCPServer(listen string, server Server) (TCPServer, error) {
	addr, err := net.ResolveTCPAddr("tcp", listen)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}
	t := &tcpServer{
		listener: listener,
		server:   server,
		conns:    make(map[*net.TCPConn]bool),
	}
	t.wg.Add(1)
	go t.monitor()
	mlog.Infof("Modbus TCP server listening on %v", listener.Addr())
	return t, nil
}

func (t *tcpServer) Addr() net.Addr {
	return t.listener.Addr()
}

func (t *tcpServer) Close() error {
	t.closeOnce.Do(func() {
		t.listener.Close()
		t.mu.Lock()
		for conn := range t.conns {
			conn.Close()
		}
		t.mu.Unlock()
	})
	return nil
}

func (t *tcpServer) WaitClosed() {
	t.wg.Wait()
}

func (t *tcpServer) track(conn *net.TCPConn) {
	t.mu.Lock()
	t.conns[conn] = true
	t.mu.Unlock()
}

func (t *tcpServer) untrack(conn *net.TCPConn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// monitor accepts connections until the listener closes.
func (t *tcpServer) monitor() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.AcceptTCP()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				mlog.Warnf("Modbus TCP accept failed: %v", err)
			}
			return
		}
		if err := setupConn(conn); err != nil {
			mlog.Warnf("Modbus TCP client %v setup failed: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}
		t.track(conn)
		t.wg.Add(1)
		go t.serve(conn)
	}
}

// serve handles one client connection: read a frame, run it against the
// cache, write the response or the matching exception. Framing errors drop
// the connection since an MBAP stream cannot be resynchronized.
func (t *tcpServer) serve(conn *net.TCPConn) {
	name := conn.RemoteAddr().String()
	mlog.Infof("Modbus TCP client %v connected", name)
	defer func() {
		t.untrack(conn)
		conn.Close()
		t.wg.Done()
		mlog.Infof("Modbus TCP client %v disconnected", name)
	}()

	for {
		rq, err := readTCPFrame(conn)
		if err != nil {
			if errors.Is(err, ErrBadFrame) {
				mlog.Warnf("Modbus TCP client %v sent a bad frame, dropping connection: %v", name, err)
			}
			return
		}

		data, err := t.server.request(rq.function, rq.data)
		var rp pdu
		if err != nil {
			var me *Error
			if !errors.As(err, &me) {
				me = ServerFailureErrorF("Request failed: %v", err)
			}
			mlog.Debugf("Modbus TCP client %v function %02x: exception %02x: %v", name, rq.function, me.Code(), me)
			rp = me.asPDU(rq.function)
		} else {
			rp = pdu{rq.function, data}
		}

		frame := buildTCPFrame(adu{txid: rq.txid, unit: rq.unit, pdu: rp})
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write(frame); err != nil {
			mlog.Warnf("Modbus TCP client %v write failed: %v", name, err)
			return
		}
	}
}
