// Package xref locates and parses the cross-reference information of a PDF.
package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/recovery"
	"github.com/wudi/scanclean/scanner"
)

var (
	ErrStartXRefNotFound = errors.New("startxref not found")
	ErrInvalidSection    = errors.New("invalid xref section")
)

type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	EntryCompressed
)

// Entry is one cross-reference entry. Offset and Gen apply to in-use
// objects; Stream and Index locate compressed objects.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table holds the merged cross-reference information of a document.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	ObjStream(objNum int) (stream int, index int, found bool)
	Entry(objNum int) (Entry, bool)
	// Objects lists in-use and compressed object numbers in order.
	Objects() []int
	// Type is "table", "xref-stream" or "repaired".
	Type() string
	Trailer() *raw.DictObj
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
	ResolveBytes(ctx context.Context, data []byte) (Table, error)
	Linearized() bool
	Repaired() bool
	// Incremental returns each section of the /Prev chain, newest first.
	Incremental() []Table
	Trailer() *raw.DictObj
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Filters      *filters.Pipeline
}

// NewResolver returns a resolver for classic tables, xref streams and
// hybrid files. When the chain is unreadable and the recovery strategy
// allows it, the resolver rebuilds the table by scanning the file.
func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = 64
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.NewDefaultPipeline(filters.Limits{})
	}
	return &resolver{cfg: cfg}
}

type resolver struct {
	cfg        ResolverConfig
	linearized bool
	repaired   bool
	sections   []Table
	trailer    *raw.DictObj
}

func (r *resolver) Linearized() bool      { return r.linearized }
func (r *resolver) Repaired() bool        { return r.repaired }
func (r *resolver) Incremental() []Table  { return r.sections }
func (r *resolver) Trailer() *raw.DictObj { return r.trailer }

func (r *resolver) Resolve(ctx context.Context, rd io.ReaderAt) (Table, error) {
	data, err := scanner.ReadAll(rd, 0)
	if err != nil {
		return nil, err
	}
	return r.ResolveBytes(ctx, data)
}

func (r *resolver) ResolveBytes(ctx context.Context, data []byte) (Table, error) {
	r.linearized = isLinearized(data)
	t, err := r.resolveChain(ctx, data)
	if err == nil {
		err = r.validate(t)
		if err == nil {
			r.trailer = t.trailer
			return t, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !r.recoverable(err, "xref") {
		return nil, err
	}
	rt, rerr := repair(ctx, data)
	if rerr != nil {
		return nil, fmt.Errorf("%v; repair: %w", err, rerr)
	}
	r.repaired = true
	r.trailer = rt.trailer
	r.sections = []Table{rt}
	return rt, nil
}

func (r *resolver) recoverable(err error, component string) bool {
	if r.cfg.Recovery == nil {
		return false
	}
	return recovery.Continue(r.cfg.Recovery.OnError(nil, err, recovery.Location{Component: component}))
}

func (r *resolver) validate(t *table) error {
	if t.trailer == nil {
		return fmt.Errorf("%w: no trailer", ErrInvalidSection)
	}
	if _, ok := t.trailer.Lookup("Root"); !ok {
		return fmt.Errorf("%w: trailer has no /Root", ErrInvalidSection)
	}
	size, ok := raw.IntValue(firstOf(t.trailer, "Size"))
	if !ok {
		return nil
	}
	for num, e := range t.entries {
		if e.Kind != EntryFree && num >= size {
			return fmt.Errorf("%w: object %d beyond /Size %d", ErrInvalidSection, num, size)
		}
	}
	return nil
}

func (r *resolver) resolveChain(ctx context.Context, data []byte) (*table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	merged := &table{entries: make(map[int]Entry)}
	seen := make(map[int64]bool)
	r.sections = nil
	offset := start
	for depth := 0; offset >= 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if seen[offset] || depth >= r.cfg.MaxXRefDepth {
			break
		}
		seen[offset] = true
		sec, err := r.readSection(ctx, data, offset)
		if err != nil {
			if depth == 0 {
				return nil, err
			}
			// an unreadable older revision loses only superseded entries
			if !r.recoverable(err, "xref:prev") {
				return nil, err
			}
			break
		}
		if merged.kind == "" {
			merged.kind = sec.kind
		}
		if stm, ok := raw.IntValue(firstOf(sec.trailer, "XRefStm")); ok && !seen[int64(stm)] {
			seen[int64(stm)] = true
			hidden, err := r.readSection(ctx, data, int64(stm))
			switch {
			case err == nil:
				merged.mergeInUse(sec)
				merged.merge(hidden)
				merged.merge(sec)
			case r.recoverable(err, "xref:stm"):
				merged.merge(sec)
			default:
				return nil, err
			}
		} else {
			merged.merge(sec)
		}
		merged.trailer = mergeTrailer(merged.trailer, sec.trailer)
		r.sections = append(r.sections, sec)

		offset = -1
		if prev, ok := raw.IntValue(firstOf(sec.trailer, "Prev")); ok {
			offset = int64(prev)
		}
	}
	return merged, nil
}

func (r *resolver) readSection(ctx context.Context, data []byte, offset int64) (*table, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("%w: offset %d out of range", ErrInvalidSection, offset)
	}
	at := offset
	for at < int64(len(data)) && isSpace(data[at]) {
		at++
	}
	if bytes.HasPrefix(data[at:], []byte("xref")) {
		return readTable(data, at+4)
	}
	return r.readStream(ctx, data, at)
}

func readTable(data []byte, offset int64) (*table, error) {
	s := scanner.FromBytes(data, scanner.Config{})
	if err := s.Seek(offset); err != nil {
		return nil, err
	}
	t := &table{entries: make(map[int]Entry), kind: "table"}
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSection, err)
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "trailer" {
			obj, err := scanner.ParseObject(s)
			if err != nil {
				return nil, fmt.Errorf("%w: trailer: %v", ErrInvalidSection, err)
			}
			dict, ok := obj.(*raw.DictObj)
			if !ok {
				return nil, fmt.Errorf("%w: trailer is %s", ErrInvalidSection, obj.Type())
			}
			t.trailer = dict
			return t, nil
		}
		countTok, err := s.Next()
		if err != nil || tok.Type != scanner.TokenNumber || countTok.Type != scanner.TokenNumber {
			return nil, fmt.Errorf("%w: bad subsection header at %d", ErrInvalidSection, tok.Pos)
		}
		first, count := int(tok.Int), int(countTok.Int)
		for i := 0; i < count; i++ {
			offTok, err1 := s.Next()
			genTok, err2 := s.Next()
			kindTok, err3 := s.Next()
			if err1 != nil || err2 != nil || err3 != nil || kindTok.Type != scanner.TokenKeyword {
				return nil, fmt.Errorf("%w: truncated subsection %d %d", ErrInvalidSection, first, count)
			}
			// some writers start the first subsection at 1 while still
			// listing the free head of object 0
			if i == 0 && first == 1 && kindTok.Str == "f" && genTok.Int == 65535 {
				first = 0
			}
			num := first + i
			if _, dup := t.entries[num]; dup {
				continue
			}
			switch kindTok.Str {
			case "n":
				t.entries[num] = Entry{Kind: EntryInUse, Offset: offTok.Int, Gen: int(genTok.Int)}
			case "f":
				t.entries[num] = Entry{Kind: EntryFree, Gen: int(genTok.Int)}
			default:
				return nil, fmt.Errorf("%w: entry type %q", ErrInvalidSection, kindTok.Str)
			}
		}
	}
}

func (r *resolver) readStream(ctx context.Context, data []byte, offset int64) (*table, error) {
	s := scanner.FromBytes(data, scanner.Config{})
	if err := s.Seek(offset); err != nil {
		return nil, err
	}
	obj, err := scanner.ParseIndirect(s, func(o raw.Object) (int64, bool) {
		n, ok := raw.IntValue(o)
		return int64(n), ok
	})
	if err != nil {
		return nil, fmt.Errorf("%w: at %d: %v", ErrInvalidSection, offset, err)
	}
	stm, ok := obj.Object.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("%w: object at %d is not an xref stream", ErrInvalidSection, offset)
	}
	if name, _ := raw.NameValue(firstOf(stm.Dict, "Type")); name != "XRef" {
		return nil, fmt.Errorf("%w: stream at %d has /Type %q", ErrInvalidSection, offset, name)
	}
	payload, err := r.cfg.Filters.DecodeStream(ctx, stm)
	if err != nil {
		return nil, fmt.Errorf("%w: decode xref stream: %v", ErrInvalidSection, err)
	}
	entries, err := parseStreamEntries(stm.Dict, payload)
	if err != nil {
		return nil, err
	}
	trailer := stm.Dict.Clone()
	for _, k := range []string{"Length", "Filter", "DecodeParms", "W", "Index", "Type"} {
		trailer.Delete(k)
	}
	return &table{entries: entries, trailer: trailer, kind: "xref-stream"}, nil
}

func parseStreamEntries(dict *raw.DictObj, payload []byte) (map[int]Entry, error) {
	wArr, ok := firstOf(dict, "W").(*raw.ArrayObj)
	if !ok || wArr.Len() < 3 {
		return nil, fmt.Errorf("%w: xref stream /W missing", ErrInvalidSection)
	}
	var w [3]int
	for i := range w {
		w[i], _ = raw.IntValue(wArr.Items[i])
		if w[i] < 0 || w[i] > 8 {
			return nil, fmt.Errorf("%w: xref stream /W %v", ErrInvalidSection, w)
		}
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, fmt.Errorf("%w: xref stream /W is empty", ErrInvalidSection)
	}
	size, _ := raw.IntValue(firstOf(dict, "Size"))
	index := []int{0, size}
	if idx, ok := firstOf(dict, "Index").(*raw.ArrayObj); ok && idx.Len() >= 2 {
		index = index[:0]
		for _, it := range idx.Items {
			n, _ := raw.IntValue(it)
			index = append(index, n)
		}
	}
	entries := make(map[int]Entry)
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+rowLen > len(payload) {
				return entries, nil
			}
			row := payload[pos : pos+rowLen]
			pos += rowLen
			kind := int64(1)
			if w[0] > 0 {
				kind = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			num := first + j
			switch kind {
			case 0:
				entries[num] = Entry{Kind: EntryFree, Gen: int(f3)}
			case 1:
				entries[num] = Entry{Kind: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				entries[num] = Entry{Kind: EntryCompressed, Stream: int(f2), Index: int(f3)}
			}
		}
	}
	return entries, nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrStartXRefNotFound
	}
	rest := data[idx+len("startxref"):]
	i := 0
	for i < len(rest) && isSpace(rest[i]) {
		i++
	}
	j := i
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	off, err := strconv.ParseInt(string(rest[i:j]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse startxref: %w", err)
	}
	return off, nil
}

func isLinearized(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("/Linearized"))
}

func mergeTrailer(newer, older *raw.DictObj) *raw.DictObj {
	if newer == nil {
		if older == nil {
			return nil
		}
		out := older.Clone()
		out.Delete("Prev")
		out.Delete("XRefStm")
		return out
	}
	for _, k := range older.SortedKeys() {
		if k == "Prev" || k == "XRefStm" {
			continue
		}
		if _, ok := newer.Lookup(k); !ok {
			v, _ := older.Lookup(k)
			newer.SetKey(k, v)
		}
	}
	return newer
}

func firstOf(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Lookup(key)
	return v
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

type table struct {
	entries map[int]Entry
	trailer *raw.DictObj
	kind    string
}

// merge adds entries from older that this table does not define yet.
func (t *table) merge(older *table) {
	for num, e := range older.entries {
		if _, ok := t.entries[num]; !ok {
			t.entries[num] = e
		}
	}
}

// mergeInUse merges only the non-free entries of sec. Hybrid files list
// compressed objects as free in the table and define them in /XRefStm.
func (t *table) mergeInUse(sec *table) {
	for num, e := range sec.entries {
		if _, ok := t.entries[num]; !ok && e.Kind != EntryFree {
			t.entries[num] = e
		}
	}
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind != EntryInUse {
		return 0, 0, false
	}
	return e.Offset, e.Gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind != EntryCompressed {
		return 0, 0, false
	}
	return e.Stream, e.Index, true
}

func (t *table) Entry(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Type() string          { return t.kind }
func (t *table) Trailer() *raw.DictObj { return t.trailer }
