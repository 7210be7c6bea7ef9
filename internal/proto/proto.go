// Package proto implements the wire codec: request frame parsing and
// typed response serialization. Ported from the book's server.cpp
// parse_req/out_* family (sections 13/14).
package proto

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// MaxMsg is the largest permitted payload, in bytes, of a single framed
// request or response body (excluding the 4-byte length prefix).
const MaxMsg = 4096

// MaxArgs is the largest permitted argument count of a single request.
const MaxArgs = 1024

// Tag identifies the type of a serialized response value.
type Tag byte

const (
	TagNil Tag = 0
	TagErr Tag = 1
	TagStr Tag = 2
	TagInt Tag = 3
	TagDbl Tag = 4
	TagArr Tag = 5
)

// ErrBadFrame is returned by ParseRequest when the supplied bytes are
// not a well-formed request body. The caller must treat this as fatal
// to the connection.
var ErrBadFrame = errors.New("malformed request frame")

// ParseRequest decodes a request body (the bytes following the
// total_len prefix) into its argument strings.
func ParseRequest(data []byte) ([]string, error) {
	if len(data) < 4 {
		return nil, errors.WithStack(ErrBadFrame)
	}
	n := binary.LittleEndian.Uint32(data[0:4])
	if n > MaxArgs {
		return nil, errors.WithStack(ErrBadFrame)
	}
	pos := 4
	args := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		if pos+4 > len(data) {
			return nil, errors.WithStack(ErrBadFrame)
		}
		sz := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		if pos+int(sz) > len(data) {
			return nil, errors.WithStack(ErrBadFrame)
		}
		args = append(args, string(data[pos:pos+int(sz)]))
		pos += int(sz)
	}
	if pos != len(data) {
		return nil, errors.WithStack(ErrBadFrame)
	}
	return args, nil
}

// Writer accumulates a single response value's serialized bytes.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty response writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the serialized response body built so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Len reports the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Reset discards any bytes written so far.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) putU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) putI32(v int32) { w.putU32(uint32(v)) }

func (w *Writer) putI64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) putU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Nil writes a NIL value.
func (w *Writer) Nil() { w.buf = append(w.buf, byte(TagNil)) }

// Str writes a STR value.
func (w *Writer) Str(s string) {
	w.buf = append(w.buf, byte(TagStr))
	w.putU32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Int writes an INT value.
func (w *Writer) Int(v int64) {
	w.buf = append(w.buf, byte(TagInt))
	w.putI64(v)
}

// Dbl writes a DBL value.
func (w *Writer) Dbl(v float64) {
	w.buf = append(w.buf, byte(TagDbl))
	w.putU64(math.Float64bits(v))
}

// Err writes an ERR value.
func (w *Writer) Err(code int32, msg string) {
	w.buf = append(w.buf, byte(TagErr))
	w.putI32(code)
	w.putU32(uint32(len(msg)))
	w.buf = append(w.buf, msg...)
}

// ArrMark is a placeholder returned by BeginArr to be passed to EndArr
// once the element count is known.
type ArrMark int

// BeginArr reserves space for an array's element count, to be filled in
// later by EndArr, and writes the ARR tag immediately.
func (w *Writer) BeginArr() ArrMark {
	w.buf = append(w.buf, byte(TagArr), 0, 0, 0, 0)
	return ArrMark(len(w.buf) - 4)
}

// EndArr back-patches the element count recorded at mark.
func (w *Writer) EndArr(mark ArrMark, n uint32) {
	binary.LittleEndian.PutUint32(w.buf[mark:mark+4], n)
}

// Arr writes a complete ARR header for a fixed element count; callers
// append n values immediately after.
func (w *Writer) Arr(n uint32) {
	w.buf = append(w.buf, byte(TagArr))
	w.putU32(n)
}

// Frame prepends a 4-byte little-endian length to body, producing a
// complete wire frame.
func Frame(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// EncodeRequest builds a request body (nstr + repeated len/bytes) from
// command arguments, the client-side mirror of ParseRequest.
func EncodeRequest(args []string) []byte {
	w := &Writer{}
	w.putU32(uint32(len(args)))
	for _, a := range args {
		w.putU32(uint32(len(a)))
		w.buf = append(w.buf, a...)
	}
	return w.buf
}

// Value is a decoded response value, as produced by DecodeResponse.
// Exactly the fields matching Tag are meaningful.
type Value struct {
	Tag     Tag
	Str     string
	Int     int64
	Dbl     float64
	ErrCode int32
	ErrMsg  string
	Arr     []Value
}

// ErrDecode is returned by DecodeResponse when the supplied bytes are
// not a well-formed response value.
var ErrDecode = errors.New("malformed response value")

// DecodeResponse decodes a single response body (the bytes following
// the total_len prefix) into a Value, recursing into ARR elements. The
// client-side mirror of the book's on_response.
func DecodeResponse(data []byte) (Value, error) {
	v, rest, err := decodeValue(data)
	if err != nil {
		return Value{}, err
	}
	if len(rest) != 0 {
		return Value{}, errors.WithStack(ErrDecode)
	}
	return v, nil
}

func decodeValue(data []byte) (Value, []byte, error) {
	if len(data) < 1 {
		return Value{}, nil, errors.WithStack(ErrDecode)
	}
	tag := Tag(data[0])
	data = data[1:]
	switch tag {
	case TagNil:
		return Value{Tag: tag}, data, nil
	case TagStr:
		if len(data) < 4 {
			return Value{}, nil, errors.WithStack(ErrDecode)
		}
		n := binary.LittleEndian.Uint32(data[0:4])
		data = data[4:]
		if uint32(len(data)) < n {
			return Value{}, nil, errors.WithStack(ErrDecode)
		}
		return Value{Tag: tag, Str: string(data[:n])}, data[n:], nil
	case TagInt:
		if len(data) < 8 {
			return Value{}, nil, errors.WithStack(ErrDecode)
		}
		return Value{Tag: tag, Int: int64(binary.LittleEndian.Uint64(data[0:8]))}, data[8:], nil
	case TagDbl:
		if len(data) < 8 {
			return Value{}, nil, errors.WithStack(ErrDecode)
		}
		return Value{Tag: tag, Dbl: math.Float64frombits(binary.LittleEndian.Uint64(data[0:8]))}, data[8:], nil
	case TagErr:
		if len(data) < 8 {
			return Value{}, nil, errors.WithStack(ErrDecode)
		}
		code := int32(binary.LittleEndian.Uint32(data[0:4]))
		n := binary.LittleEndian.Uint32(data[4:8])
		data = data[8:]
		if uint32(len(data)) < n {
			return Value{}, nil, errors.WithStack(ErrDecode)
		}
		return Value{Tag: tag, ErrCode: code, ErrMsg: string(data[:n])}, data[n:], nil
	case TagArr:
		if len(data) < 4 {
			return Value{}, nil, errors.WithStack(ErrDecode)
		}
		n := binary.LittleEndian.Uint32(data[0:4])
		data = data[4:]
		elems := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			var elem Value
			var err error
			elem, data, err = decodeValue(data)
			if err != nil {
				return Value{}, nil, err
			}
			elems = append(elems, elem)
		}
		return Value{Tag: tag, Arr: elems}, data, nil
	default:
		return Value{}, nil, errors.WithStack(ErrDecode)
	}
}
