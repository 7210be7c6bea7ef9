package proto

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func encodeReq(args ...string) []byte {
	var body []byte
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(args)))
	body = append(body, n[:]...)
	for _, a := range args {
		var sz [4]byte
		binary.LittleEndian.PutUint32(sz[:], uint32(len(a)))
		body = append(body, sz[:]...)
		body = append(body, a...)
	}
	return body
}

func TestParseRequestRoundTrip(t *testing.T) {
	got, err := ParseRequest(encodeReq("set", "foo", "bar"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"set", "foo", "bar"}
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseRequestRejectsTrailingGarbage(t *testing.T) {
	body := encodeReq("keys")
	body = append(body, 0xff)
	if _, err := ParseRequest(body); err == nil {
		t.Fatalf("expected error on trailing garbage")
	}
}

func TestParseRequestRejectsTooManyArgs(t *testing.T) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], MaxArgs+1)
	if _, err := ParseRequest(n[:]); err == nil {
		t.Fatalf("expected error on too many args")
	}
}

func TestParseRequestRejectsShortBuffer(t *testing.T) {
	if _, err := ParseRequest([]byte{1, 2}); err == nil {
		t.Fatalf("expected error on short buffer")
	}
}

func TestWriterTypes(t *testing.T) {
	w := NewWriter()
	w.Str("hi")
	if got, want := w.Bytes()[0], byte(TagStr); got != want {
		t.Fatalf("tag: got %d, want %d", got, want)
	}

	w.Reset()
	w.Int(42)
	if len(w.Bytes()) != 9 {
		t.Fatalf("int frame length: got %d, want 9", len(w.Bytes()))
	}

	w.Reset()
	w.Dbl(3.5)
	if len(w.Bytes()) != 9 {
		t.Fatalf("dbl frame length: got %d, want 9", len(w.Bytes()))
	}

	w.Reset()
	w.Err(3, "expect string type")
	if got, want := w.Bytes()[0], byte(TagErr); got != want {
		t.Fatalf("tag: got %d, want %d", got, want)
	}

	w.Reset()
	mark := w.BeginArr()
	w.Str("a")
	w.Dbl(1.5)
	w.EndArr(mark, 2)
	n := binary.LittleEndian.Uint32(w.Bytes()[1:5])
	if n != 2 {
		t.Fatalf("arr count: got %d, want 2", n)
	}
}

func TestFramePrependsLength(t *testing.T) {
	body := []byte{1, 2, 3}
	frame := Frame(body)
	if len(frame) != 7 {
		t.Fatalf("frame length: got %d, want 7", len(frame))
	}
	if n := binary.LittleEndian.Uint32(frame[0:4]); n != 3 {
		t.Fatalf("length prefix: got %d, want 3", n)
	}
}

func TestEncodeRequestMatchesParseRequest(t *testing.T) {
	args := []string{"zquery", "board", "0", "", "0", "10"}
	got, err := ParseRequest(EncodeRequest(args))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != len(args) {
		t.Fatalf("len: got %d, want %d", len(got), len(args))
	}
	for i := range args {
		if got[i] != args[i] {
			t.Fatalf("arg %d: got %q, want %q", i, got[i], args[i])
		}
	}
}

func TestDecodeResponseScalars(t *testing.T) {
	w := NewWriter()
	w.Nil()
	if v, err := DecodeResponse(w.Bytes()); err != nil || v.Tag != TagNil {
		t.Fatalf("nil: v=%+v err=%v", v, err)
	}

	w.Reset()
	w.Str("hello")
	if v, err := DecodeResponse(w.Bytes()); err != nil || v.Tag != TagStr || v.Str != "hello" {
		t.Fatalf("str: v=%+v err=%v", v, err)
	}

	w.Reset()
	w.Int(-7)
	if v, err := DecodeResponse(w.Bytes()); err != nil || v.Tag != TagInt || v.Int != -7 {
		t.Fatalf("int: v=%+v err=%v", v, err)
	}

	w.Reset()
	w.Dbl(2.25)
	if v, err := DecodeResponse(w.Bytes()); err != nil || v.Tag != TagDbl || v.Dbl != 2.25 {
		t.Fatalf("dbl: v=%+v err=%v", v, err)
	}

	w.Reset()
	w.Err(3, "wrong type")
	if v, err := DecodeResponse(w.Bytes()); err != nil || v.Tag != TagErr || v.ErrCode != 3 || v.ErrMsg != "wrong type" {
		t.Fatalf("err: v=%+v err=%v", v, err)
	}
}

func TestDecodeResponseNestedArray(t *testing.T) {
	w := NewWriter()
	outer := w.BeginArr()
	w.Str("board")
	w.Dbl(1)
	inner := w.BeginArr()
	w.Str("a")
	w.Str("b")
	w.EndArr(inner, 2)
	w.EndArr(outer, 3)

	v, err := DecodeResponse(w.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Value{Tag: TagArr, Arr: []Value{
		{Tag: TagStr, Str: "board"},
		{Tag: TagDbl, Dbl: 1},
		{Tag: TagArr, Arr: []Value{
			{Tag: TagStr, Str: "a"},
			{Tag: TagStr, Str: "b"},
		}},
	}}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("decoded value mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeResponseRejectsTrailingGarbage(t *testing.T) {
	w := NewWriter()
	w.Int(1)
	body := append(w.Bytes(), 0xff)
	if _, err := DecodeResponse(body); err == nil {
		t.Fatalf("expected error on trailing garbage")
	}
}
