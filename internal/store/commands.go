// Command dispatch and handlers, ported from the book's do_request and
// do_* family in server.cpp (sections 13/14).
package store

import (
	"math"
	"strconv"
	"strings"

	"github.com/zond/keyd"
	"github.com/zond/keyd/internal/proto"
	"github.com/zond/keyd/internal/zset"
)

type handler struct {
	arity int // exact argument count, including the command name
	fn    func(*Keyspace, []string, *proto.Writer)
}

var table = map[string]handler{
	"keys":    {1, doKeys},
	"get":     {2, doGet},
	"set":     {3, doSet},
	"del":     {2, doDel},
	"pexpire": {3, doExpire},
	"pttl":    {2, doTTL},
	"zadd":    {4, doZAdd},
	"zrem":    {3, doZRem},
	"zscore":  {3, doZScore},
	"zquery":  {6, doZQuery},
}

// Dispatch executes one parsed command against k, writing exactly one
// typed reply to w.
func (k *Keyspace) Dispatch(args []string, w *proto.Writer) {
	if len(args) == 0 {
		w.Err(keyd.ErrUnknown, "empty command")
		return
	}
	h, ok := table[strings.ToLower(args[0])]
	if !ok || h.arity != len(args) {
		w.Err(keyd.ErrUnknown, "unknown cmd")
		return
	}
	h.fn(k, args, w)
}

func str2int(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

func str2dbl(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil && !math.IsNaN(v)
}

func doKeys(k *Keyspace, _ []string, w *proto.Writer) {
	mark := w.BeginArr()
	var n uint32
	k.Scan(func(e *Entry) {
		w.Str(e.Key)
		n++
	})
	w.EndArr(mark, n)
}

func doGet(k *Keyspace, args []string, w *proto.Writer) {
	ent, ok := k.lookup(args[1])
	if !ok {
		w.Nil()
		return
	}
	if ent.Kind != KindStr {
		w.Err(keyd.ErrType, "expect string type")
		return
	}
	w.Str(ent.Str)
}

func doSet(k *Keyspace, args []string, w *proto.Writer) {
	if ent, ok := k.lookup(args[1]); ok {
		if ent.Kind != KindStr {
			w.Err(keyd.ErrType, "expect string type")
			return
		}
		ent.Str = args[2]
	} else {
		k.insert(&Entry{Key: args[1], Kind: KindStr, Str: args[2]})
	}
	w.Nil()
}

func doDel(k *Keyspace, args []string, w *proto.Writer) {
	ent, ok := k.pop(args[1])
	if ok {
		k.delete(ent)
		w.Int(1)
		return
	}
	w.Int(0)
}

func doExpire(k *Keyspace, args []string, w *proto.Writer) {
	ttlMs, ok := str2int(args[2])
	if !ok {
		w.Err(keyd.ErrArg, "expect int64")
		return
	}
	ent, found := k.lookup(args[1])
	if found {
		k.setTTL(ent, ttlMs)
		w.Int(1)
		return
	}
	w.Int(0)
}

func doTTL(k *Keyspace, args []string, w *proto.Writer) {
	ent, ok := k.lookup(args[1])
	if !ok {
		w.Int(-2)
		return
	}
	w.Int(k.remainingTTL(ent))
}

func doZAdd(k *Keyspace, args []string, w *proto.Writer) {
	score, ok := str2dbl(args[2])
	if !ok {
		w.Err(keyd.ErrArg, "expect fp number")
		return
	}
	ent, found := k.lookup(args[1])
	if !found {
		ent = &Entry{Key: args[1], Kind: KindZSet, ZSet: zset.New()}
		k.insert(ent)
	} else if ent.Kind != KindZSet {
		w.Err(keyd.ErrType, "expect zset")
		return
	}
	added := ent.ZSet.Add(args[3], score)
	w.Int(boolInt(added))
}

// expectZSet looks up args[1] and verifies it names a zset, writing
// NIL (entry missing) or an ERR (wrong type) to w and returning false
// if not. Callers that need an "empty array, not nil" fallback on a
// missing key check the missing/wrongType flags themselves.
func expectZSet(k *Keyspace, key string, w *proto.Writer) (ent *Entry, missing, wrongType bool) {
	ent, ok := k.lookup(key)
	if !ok {
		w.Nil()
		return nil, true, false
	}
	if ent.Kind != KindZSet {
		w.Err(keyd.ErrType, "expect zset")
		return nil, false, true
	}
	return ent, false, false
}

func doZRem(k *Keyspace, args []string, w *proto.Writer) {
	ent, missing, wrongType := expectZSet(k, args[1], w)
	if missing || wrongType {
		return
	}
	_, ok := ent.ZSet.Pop(args[2])
	w.Int(boolInt(ok))
}

func doZScore(k *Keyspace, args []string, w *proto.Writer) {
	ent, missing, wrongType := expectZSet(k, args[1], w)
	if missing || wrongType {
		return
	}
	n, ok := ent.ZSet.Lookup(args[2])
	if !ok {
		w.Nil()
		return
	}
	w.Dbl(n.Score)
}

func doZQuery(k *Keyspace, args []string, w *proto.Writer) {
	score, ok := str2dbl(args[2])
	if !ok {
		w.Err(keyd.ErrArg, "expect fp number")
		return
	}
	name := args[3]
	offset, ok := str2int(args[4])
	if !ok {
		w.Err(keyd.ErrArg, "expect int")
		return
	}
	limit, ok := str2int(args[5])
	if !ok {
		w.Err(keyd.ErrArg, "expect int")
		return
	}

	ent, ok := k.lookup(args[1])
	if !ok {
		w.Arr(0)
		return
	}
	if ent.Kind != KindZSet {
		w.Err(keyd.ErrType, "expect zset")
		return
	}
	if limit <= 0 {
		w.Arr(0)
		return
	}

	n := ent.ZSet.Query(score, name)
	n = ent.ZSet.Offset(n, offset)
	mark := w.BeginArr()
	var count int64
	for n != nil && count < limit {
		w.Str(n.Name)
		w.Dbl(n.Score)
		n = ent.ZSet.Offset(n, 1)
		count += 2
	}
	w.EndArr(mark, uint32(count))
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
