// Package keyd holds helpers shared across the server: error wrapping with
// stack traces, and the typed error codes used by the wire protocol.
package keyd

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

// Error codes carried in ERR replies (spec §6).
const (
	ErrUnknown int32 = 1
	ErrTooBig  int32 = 2
	ErrType    int32 = 3
	ErrArg     int32 = 4
)

// CmdError pairs a wire error code with a message. The protocol codec
// does not consume it: command handlers write ERR replies directly with
// proto.Writer.Err.
type CmdError struct {
	Code int32
	Msg  string
}

func (e *CmdError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Msg)
}

func NewCmdError(code int32, msg string) *CmdError {
	return &CmdError{Code: code, Msg: msg}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// WithStack wraps err with a stack trace unless it already carries one.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(stackTracer); ok {
		return err
	}
	return errors.WithStack(err)
}

// StackTrace renders the stack trace attached to err, if any.
func StackTrace(err error) string {
	buf := &bytes.Buffer{}
	if st, ok := err.(stackTracer); ok {
		for _, f := range st.StackTrace() {
			fmt.Fprintf(buf, "%+v\n", f)
		}
	}
	return buf.String()
}
