// Package conn implements the per-connection state machine: fixed-size
// read/write buffers driven through REQ/RES/END states by non-blocking
// reads and writes. Ported from the book's Conn/try_fill_buffer/
// try_one_request/try_flush_buffer/state_req/state_res family in
// server.cpp (sections 13/14).
package conn

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/zond/keyd"
	"github.com/zond/keyd/internal/proto"
)

// State is a connection's place in the REQ/RES/END state machine.
type State int

const (
	StateReq State = iota
	StateRes
	StateEnd
)

// End reasons recorded in EndReason when a connection reaches StateEnd,
// distinguishing a protocol violation from a clean or errored close so
// the reactor can audit-log each case differently.
const (
	ReasonEOF            = "eof"
	ReasonReadError      = "read_error"
	ReasonWriteError     = "write_error"
	ReasonOversizeFrame  = "oversize_frame"
	ReasonMalformedFrame = "malformed_frame"
)

// bufSize is the fixed buffer capacity: the wire max payload plus the
// 4-byte length prefix plus slack, matching the book's 4 + k_max_msg
// sizing philosophy.
const bufSize = 4 + proto.MaxMsg + 128

// Dispatcher executes one parsed command, writing exactly one typed
// reply to w.
type Dispatcher interface {
	Dispatch(args []string, w *proto.Writer)
}

// Conn is one live client connection.
type Conn struct {
	FD    int
	State State

	rbuf     []byte
	rbufSize int

	wbuf     []byte
	wbufSize int
	wbufSent int

	// IdleStart is the unix-millisecond timestamp of the connection's
	// last activity; owned by the reactor, not this package.
	IdleStart int64

	// EndReason explains why State became StateEnd; one of the Reason*
	// constants above. Empty until the connection ends.
	EndReason string
}

// New returns a freshly accepted connection in state REQ.
func New(fd int) *Conn {
	return &Conn{
		FD:   fd,
		rbuf: make([]byte, bufSize),
		wbuf: make([]byte, bufSize),
	}
}

// WantWrite reports whether the connection should currently be polled
// for write-readiness rather than read-readiness.
func (c *Conn) WantWrite() bool { return c.State == StateRes }

// tryOneRequest attempts to parse and execute exactly one complete
// framed request sitting at the front of the read buffer. It returns
// true if the connection should keep trying to read more requests
// (still in REQ after flushing the reply).
func (c *Conn) tryOneRequest(d Dispatcher) bool {
	if c.rbufSize < 4 {
		return false
	}
	length := binary.LittleEndian.Uint32(c.rbuf[0:4])
	if length > proto.MaxMsg {
		c.State = StateEnd
		c.EndReason = ReasonOversizeFrame
		return false
	}
	if 4+int(length) > c.rbufSize {
		return false
	}

	args, err := proto.ParseRequest(c.rbuf[4 : 4+int(length)])
	if err != nil {
		c.State = StateEnd
		c.EndReason = ReasonMalformedFrame
		return false
	}

	w := proto.NewWriter()
	d.Dispatch(args, w)
	body := w.Bytes()
	if len(body) > proto.MaxMsg {
		w.Reset()
		w.Err(keyd.ErrTooBig, "response is too big")
		body = w.Bytes()
	}

	frame := proto.Frame(body)
	copy(c.wbuf, frame)
	c.wbufSize = len(frame)

	remain := c.rbufSize - 4 - int(length)
	if remain > 0 {
		copy(c.rbuf, c.rbuf[4+int(length):4+int(length)+remain])
	}
	c.rbufSize = remain

	c.State = StateRes
	c.stateRes()
	return c.State == StateReq
}

// tryFillBuffer reads as much as is available without blocking and
// processes every complete request found, returning true if the
// connection is still in REQ and should read again. On EAGAIN it returns
// false and the connection stays parked in REQ.
func (c *Conn) tryFillBuffer(d Dispatcher) bool {
	var n int
	var err error
	for {
		n, err = unix.Read(c.FD, c.rbuf[c.rbufSize:])
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err == unix.EAGAIN {
		return false
	}
	if err != nil {
		c.State = StateEnd
		c.EndReason = ReasonReadError
		return false
	}
	if n == 0 {
		c.State = StateEnd
		c.EndReason = ReasonEOF
		return false
	}

	c.rbufSize += n
	for c.tryOneRequest(d) {
	}
	return c.State == StateReq
}

func (c *Conn) stateReq(d Dispatcher) {
	for c.tryFillBuffer(d) {
	}
}

// tryFlushBuffer writes as much of the pending response as possible
// without blocking, returning true if more remains and another write
// should be tried at once. On EAGAIN it returns false and the
// connection stays in RES with the rest unsent.
func (c *Conn) tryFlushBuffer() bool {
	var n int
	var err error
	for {
		n, err = unix.Write(c.FD, c.wbuf[c.wbufSent:c.wbufSize])
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err == unix.EAGAIN {
		// Parked: stay in RES and wait for the next write-readiness wake.
		return false
	}
	if err != nil {
		c.State = StateEnd
		c.EndReason = ReasonWriteError
		return false
	}

	c.wbufSent += n
	if c.wbufSent == c.wbufSize {
		c.State = StateReq
		c.wbufSent = 0
		c.wbufSize = 0
		return false
	}
	return true
}

func (c *Conn) stateRes() {
	for c.tryFlushBuffer() {
	}
}

// Process runs the connection's current state to completion (until it
// parks on EAGAIN or reaches END).
func (c *Conn) Process(d Dispatcher) {
	switch c.State {
	case StateReq:
		c.stateReq(d)
	case StateRes:
		c.stateRes()
	}
}
