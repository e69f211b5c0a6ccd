// Package jsonapi is the operator-facing line protocol: newline-delimited
// JSON over TCP. One client at a time sends command envelopes and receives
// a status object for every device poll.
package jsonapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldgate/fieldgate/internal/command"
	"github.com/fieldgate/fieldgate/internal/telemetry"
)

const (
	maxLineBytes = 4096
	writeTimeout = 2 * time.Second
)

// CommandSink is where parsed envelopes go. The field controller's router
// and the supervisor's relay both satisfy it.
type CommandSink interface {
	Submit(env command.Envelope) error
	SetMode(mode int, src command.Source) error
	SetTarget(target int, src command.Source) error
}

// Server accepts one JSON client at a time on a TCP listener. A second
// connection replaces the first; the replaced socket is closed with a log
// line, matching how the legacy operator tier expects to take over.
type Server struct {
	listener net.Listener
	sink     CommandSink
	bus      *telemetry.Bus
	log      *zap.SugaredLogger

	mu     sync.Mutex
	client *client

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer binds the listener and starts accepting. Commands flow to sink,
// snapshots from bus flow to the attached client.
func NewServer(listen string, sink CommandSink, bus *telemetry.Bus, log *zap.SugaredLogger) (*Server, error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: listener,
		sink:     sink,
		bus:      bus,
		log:      log,
		closed:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.monitor()
	log.Infof("JSON server listening on %v", listener.Addr())
	return s, nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting, drops the attached client and waits for the
// connection goroutines to drain.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.listener.Close()
		s.mu.Lock()
		active := s.client
		s.mu.Unlock()
		if active != nil {
			active.close("server shutting down")
		}
	})
	s.wg.Wait()
	return nil
}

func (s *Server) monitor() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.log.Warnf("JSON accept failed: %v", err)
			}
			return
		}
		s.attach(conn)
	}
}

func (s *Server) attach(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(time.Second * 60)
	}
	c := &client{
		id:   uuid.NewString()[:8],
		conn: conn,
		srv:  s,
		done: make(chan struct{}),
	}
	s.mu.Lock()
	old := s.client
	s.client = c
	s.mu.Unlock()
	if old != nil {
		old.close("replaced by a newer client")
	}
	s.log.Infof("JSON client %v connected from %v", c.id, conn.RemoteAddr())
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.read()
	}()
	go func() {
		defer s.wg.Done()
		c.write()
	}()
}

type client struct {
	id   string
	conn net.Conn
	srv  *Server

	done      chan struct{}
	closeOnce sync.Once

	// reader-goroutine local
	heartbeats int
}

func (c *client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.srv.log.Infof("JSON client %v closed: %v", c.id, reason)
		c.srv.mu.Lock()
		if c.srv.client == c {
			c.srv.client = nil
		}
		c.srv.mu.Unlock()
	})
}

func (c *client) read() {
	defer c.close("connection ended")
	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 0, 1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		c.srv.handleLine(c, line)
	}
	if err := sc.Err(); err != nil {
		select {
		case <-c.done:
		default:
			c.srv.log.Debugf("JSON client %v read error: %v", c.id, err)
		}
	}
}

// write pushes a status line per published snapshot, starting with the most
// recent one so a fresh client does not wait out a poll interval.
func (c *client) write() {
	defer c.close("connection ended")
	snaps, cancel := c.srv.bus.Subscribe()
	defer cancel()
	if last, ok := c.srv.bus.Last(); ok {
		if !c.send(last) {
			return
		}
	}
	for {
		select {
		case <-c.done:
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if !c.send(snap) {
				return
			}
		}
	}
}

func (c *client) send(snap telemetry.Snapshot) bool {
	line, err := json.Marshal(telemetry.NewStatus(snap))
	if err != nil {
		c.srv.log.Warnf("Status marshal failed: %v", err)
		return true
	}
	line = append(line, '\n')
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(line); err != nil {
		c.srv.log.Warnf("JSON client %v write failed: %v", c.id, err)
		return false
	}
	return true
}
