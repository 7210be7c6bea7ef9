// keyd-admin is a protocol-speaking diagnostics client for keyd. It
// sends a single command frame and pretty-prints the decoded reply,
// the Go counterpart of the book's client.cpp.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/rodaine/table"

	"github.com/zond/keyd/internal/proto"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:1234", "Address of the keyd server.")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-addr host:port] <command> [args...]\n", os.Args[0])
		os.Exit(1)
	}

	v, err := send(*addr, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	render(v)
}

// send connects to addr, writes one framed request built from args, and
// reads back and decodes one framed response.
func send(addr string, args []string) (proto.Value, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return proto.Value{}, err
	}
	defer conn.Close()

	if _, err := conn.Write(proto.Frame(proto.EncodeRequest(args))); err != nil {
		return proto.Value{}, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return proto.Value{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return proto.Value{}, err
	}

	return proto.DecodeResponse(body)
}

// render prints a decoded value to stdout: a flat array of scalars is
// rendered as a table, everything else as an indented scalar dump.
func render(v proto.Value) {
	if v.Tag == proto.TagArr && isFlat(v.Arr) {
		printTable(v.Arr)
		return
	}
	printValue(v, 0)
}

func isFlat(elems []proto.Value) bool {
	for _, e := range elems {
		if e.Tag == proto.TagArr {
			return false
		}
	}
	return true
}

func printTable(elems []proto.Value) {
	t := table.New("#", "Value")
	for i, e := range elems {
		t.AddRow(i, scalarString(e))
	}
	t.Print()
}

func printValue(v proto.Value, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	if v.Tag == proto.TagArr {
		fmt.Printf("%s(arr) len=%d\n", indent, len(v.Arr))
		for _, e := range v.Arr {
			printValue(e, depth+1)
		}
		return
	}
	fmt.Printf("%s%s\n", indent, scalarString(v))
}

func scalarString(v proto.Value) string {
	switch v.Tag {
	case proto.TagNil:
		return "(nil)"
	case proto.TagStr:
		return "(str) " + v.Str
	case proto.TagInt:
		return "(int) " + strconv.FormatInt(v.Int, 10)
	case proto.TagDbl:
		return "(dbl) " + strconv.FormatFloat(v.Dbl, 'g', -1, 64)
	case proto.TagErr:
		return fmt.Sprintf("(err) %d %s", v.ErrCode, v.ErrMsg)
	case proto.TagArr:
		return fmt.Sprintf("(arr) len=%d", len(v.Arr))
	default:
		return "(unknown)"
	}
}
