// Package server implements the reactor loop: a single-threaded,
// non-blocking epoll readiness loop that multiplexes many connections,
// computes the next timer deadline, dispatches ready file descriptors
// to per-connection state machines, and reaps idle connections and
// expired keys between iterations. Ported from the book's main()/
// connection_io/next_timer_ms/process_timers family in server.cpp
// (sections 13/14), with poll(2) replaced by epoll per DESIGN.md.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zond/keyd/internal/conn"
	"github.com/zond/keyd/internal/idlelist"
	"github.com/zond/keyd/internal/proto"
	"github.com/zond/keyd/internal/stats"
	"github.com/zond/keyd/internal/store"
)

// client bundles a live connection with its idle-list linkage and
// audit identity.
type client struct {
	*conn.Conn
	idleNode  *idlelist.Node[*client]
	sessionID string
	remote    string
}

// Server owns the listener, the epoll instance, and all reactor state:
// the keyspace, the idle list, and every live connection.
type Server struct {
	config Config

	listenFD int
	epollFD  int

	conns map[int]*client
	idle  *idlelist.List[*client]

	keyspace *store.Keyspace
	stats    *stats.Stats
	audit    *AuditLogger

	log *log.Logger
}

// New binds the listener and creates the epoll instance, ready for
// Start.
func New(config Config) (*Server, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.WithStack(err)
	}

	sa, err := resolveSockaddr(config.Addr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.WithStack(err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, errors.WithStack(err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.WithStack(err)
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(fd)
		return nil, errors.WithStack(err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
		unix.Close(epfd)
		unix.Close(fd)
		return nil, errors.WithStack(err)
	}

	return &Server{
		config:   config,
		listenFD: fd,
		epollFD:  epfd,
		conns:    map[int]*client{},
		idle:     idlelist.New[*client](),
		keyspace: store.New(),
		stats:    stats.New(),
		audit:    NewAuditLogger(config.AuditLogPath),
		log:      log.Default(),
	}, nil
}

// Start runs the reactor loop until ctx is cancelled or a fatal error
// occurs (an epoll_wait failure, matching the book's die() on poll
// error). The listener and every live connection are closed on return.
func (s *Server) Start(ctx context.Context) error {
	defer s.shutdown()

	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeout := s.nextTimeoutMs()
		n, err := unix.EpollWait(s.epollFD, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.WithStack(err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == s.listenFD {
				s.acceptAll()
				continue
			}
			s.serviceConn(fd)
		}

		s.reapIdle()
		s.reapExpired()
	}
}

func (s *Server) shutdown() {
	for fd, c := range s.conns {
		s.closeConn(fd, c, "shutdown")
	}
	unix.Close(s.listenFD)
	unix.Close(s.epollFD)
	s.audit.Close()
}

func (s *Server) acceptAll() {
	for {
		connFD, sa, err := unix.Accept(s.listenFD)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			s.log.Printf("accept() error: %v", err)
			return
		}
		if err := unix.SetNonblock(connFD, true); err != nil {
			unix.Close(connFD)
			continue
		}
		if err := unix.EpollCtl(s.epollFD, unix.EPOLL_CTL_ADD, connFD, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(connFD)}); err != nil {
			unix.Close(connFD)
			continue
		}

		now := time.Now().UnixMilli()
		c := &client{
			Conn:      conn.New(connFD),
			sessionID: uuid.NewString(),
			remote:    sockaddrString(sa),
		}
		c.IdleStart = now
		c.idleNode = s.idle.PushBack(c)
		s.conns[connFD] = c
		s.audit.Log(c.sessionID, "connect", AuditConnect{Remote: c.remote})
	}
}

func (s *Server) serviceConn(fd int) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}

	c.IdleStart = time.Now().UnixMilli()
	s.idle.MoveToBack(c.idleNode)

	c.Process(dispatcherFunc(s.dispatch))

	if c.State == conn.StateEnd {
		s.closeConn(fd, c, "")
		return
	}
	s.updateInterest(fd, c)
}

// dispatcherFunc adapts a plain function to conn.Dispatcher.
type dispatcherFunc func(args []string, w *proto.Writer)

func (f dispatcherFunc) Dispatch(args []string, w *proto.Writer) { f(args, w) }

// dispatch runs one command. "stats" is a server-level diagnostic
// command answered directly from the stats tracker, outside the
// keyspace's own command table, so it is never counted as a keyspace
// call itself.
func (s *Server) dispatch(args []string, w *proto.Writer) {
	cmd := "(empty)"
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
	}
	if cmd == "stats" {
		s.writeStats(w)
		return
	}

	s.keyspace.Dispatch(args, w)
	isErr := w.Len() > 0 && proto.Tag(w.Bytes()[0]) == proto.TagErr
	s.stats.Observe(cmd, isErr)
}

// writeStats serializes the current command/error-rate snapshot as a
// flat array of (command, calls, errors, call-rate-per-second) tuples,
// the bin/admin diagnostics path for internal/stats.
func (s *Server) writeStats(w *proto.Writer) {
	snaps := s.stats.Snapshot()
	mark := w.BeginArr()
	var n uint32
	for _, snap := range snaps {
		w.Str(snap.Command)
		w.Int(int64(snap.Calls))
		w.Int(int64(snap.Errors))
		w.Dbl(snap.CallRate.SecondRate)
		n += 4
	}
	w.EndArr(mark, n)
}

func (s *Server) updateInterest(fd int, c *client) {
	events := uint32(unix.EPOLLERR)
	if c.WantWrite() {
		events |= unix.EPOLLOUT
	} else {
		events |= unix.EPOLLIN
	}
	_ = unix.EpollCtl(s.epollFD, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

// closeConn tears down fd's connection and audits why. A connection
// that ended because the client sent an oversize or malformed frame
// (conn.ReasonOversizeFrame/ReasonMalformedFrame) is logged as a
// protocol error rather than a generic disconnect; reason is used as
// the disconnect reason for every other case, falling back to the
// connection's own EndReason (set by conn.Conn) when reason is empty.
func (s *Server) closeConn(fd int, c *client, reason string) {
	delete(s.conns, fd)
	unix.EpollCtl(s.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
	s.idle.Remove(c.idleNode)

	if c.EndReason == conn.ReasonOversizeFrame || c.EndReason == conn.ReasonMalformedFrame {
		s.audit.Log(c.sessionID, "protocol_error", AuditProtocolError{Remote: c.remote, Reason: c.EndReason})
		return
	}
	if reason == "" {
		reason = c.EndReason
	}
	s.audit.Log(c.sessionID, "disconnect", AuditDisconnect{Remote: c.remote, Reason: reason})
}

// reapIdle evicts every connection that has gone at least IdleTimeoutMs
// without activity, oldest first, matching process_timers' idle loop.
func (s *Server) reapIdle() {
	timeout := s.config.idleTimeout().Milliseconds()
	now := time.Now().UnixMilli()
	for {
		front := s.idle.Front()
		if front == nil {
			return
		}
		c := front.Value
		if now-c.IdleStart < timeout {
			return
		}
		idleMs := now - c.IdleStart
		fd := c.FD
		s.audit.Log(c.sessionID, "idle_evict", AuditIdleEvict{Remote: c.remote, IdleMs: idleMs})
		s.closeConn(fd, c, "idle_timeout")
	}
}

func (s *Server) reapExpired() {
	s.keyspace.ReapExpired(s.config.MaxTTLReapPerTick)
}

// nextTimeoutMs computes the epoll_wait timeout: the sooner of the
// oldest idle connection's remaining time, the nearest TTL deadline,
// and the configured poll ceiling, with the 1ms fudge the book applies
// for multiplexer-resolution slack.
func (s *Server) nextTimeoutMs() int {
	ceiling := s.config.pollCeiling().Milliseconds()
	next := ceiling

	if front := s.idle.Front(); front != nil {
		timeout := s.config.idleTimeout().Milliseconds()
		remaining := front.Value.IdleStart + timeout - time.Now().UnixMilli()
		if remaining < next {
			next = remaining
		}
	}

	if ttlMs := s.keyspace.NextDeadlineMs(); ttlMs >= 0 && ttlMs < next {
		next = ttlMs
	}

	if next < 0 {
		return 0
	}
	return int(next) + 1
}

// resolveSockaddr parses a "host:port" listen address into a raw
// IPv4 sockaddr suitable for unix.Bind.
func resolveSockaddr(addr string) (unix.Sockaddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip := tcpAddr.IP.To4(); ip != nil {
		copy(sa.Addr[:], ip)
	}
	return sa, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3], v.Port)
	default:
		return "unknown"
	}
}
