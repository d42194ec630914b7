package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/recovery"
	"github.com/wudi/scanclean/scanner"
	"github.com/wudi/scanclean/security"
	"github.com/wudi/scanclean/xref"
)

var errDepth = errors.New("indirect reference depth exceeded")

// ObjectLoader loads individual indirect objects. Implementations are not
// safe for concurrent use.
type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	data      []byte
	xrefTable xref.Table
	recovery  recovery.Strategy
	pipeline  *filters.Pipeline
	maxDepth  int
	handler   security.Handler
	encRef    raw.ObjectRef
}

func (b *ObjectLoaderBuilder) WithData(data []byte) *ObjectLoaderBuilder { b.data = data; return b }
func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}
func (b *ObjectLoaderBuilder) WithFilters(p *filters.Pipeline) *ObjectLoaderBuilder {
	b.pipeline = p
	return b
}
func (b *ObjectLoaderBuilder) WithMaxDepth(n int) *ObjectLoaderBuilder { b.maxDepth = n; return b }

// WithSecurity decrypts objects read from the file body with h. encRef is
// the /Encrypt dictionary, which is never decrypted.
func (b *ObjectLoaderBuilder) WithSecurity(h security.Handler, encRef raw.ObjectRef) *ObjectLoaderBuilder {
	b.handler = h
	b.encRef = encRef
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.xrefTable == nil {
		return nil, errors.New("object loader needs an xref table")
	}
	if b.data == nil {
		return nil, errors.New("object loader needs document data")
	}
	l := &objectLoader{
		data:       b.data,
		table:      b.xrefTable,
		rec:        b.recovery,
		pipeline:   b.pipeline,
		maxDepth:   b.maxDepth,
		handler:    b.handler,
		encRef:     b.encRef,
		cache:      make(map[raw.ObjectRef]raw.Object),
		objStreams: make(map[int]*objectStream),
	}
	if l.pipeline == nil {
		l.pipeline = filters.NewDefaultPipeline(filters.Limits{})
	}
	if l.maxDepth <= 0 {
		l.maxDepth = 32
	}
	return l, nil
}

type objectLoader struct {
	data       []byte
	table      xref.Table
	rec        recovery.Strategy
	pipeline   *filters.Pipeline
	maxDepth   int
	handler    security.Handler
	encRef     raw.ObjectRef
	cache      map[raw.ObjectRef]raw.Object
	objStreams map[int]*objectStream
}

type objectStream struct {
	decoded []byte
	first   int
	nums    []int
	offsets []int
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	return o.load(ctx, ref, 0)
}

func (o *objectLoader) load(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if depth > o.maxDepth {
		return nil, errDepth
	}
	if obj, ok := o.cache[ref]; ok {
		return obj, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, ok := o.table.Entry(ref.Num)
	var obj raw.Object
	var err error
	switch {
	case !ok || entry.Kind == xref.EntryFree:
		obj = raw.NullObj{}
	case entry.Kind == xref.EntryCompressed:
		obj, err = o.loadFromObjectStream(ctx, ref, entry.Stream, entry.Index, depth)
	default:
		obj, err = o.loadAtOffset(ctx, ref, entry.Offset, depth)
		// object stream members are covered by the stream's own decryption
		if err == nil && o.handler != nil && ref != o.encRef {
			obj, err = security.DecryptObject(o.handler, ref, obj)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", ref, err)
	}
	o.cache[ref] = obj
	return obj, nil
}

func (o *objectLoader) loadAtOffset(ctx context.Context, ref raw.ObjectRef, offset int64, depth int) (raw.Object, error) {
	ind, err := o.parseAt(ctx, offset, depth)
	if err == nil && ind.Ref.Num == ref.Num {
		return ind.Object, nil
	}
	if err == nil {
		err = fmt.Errorf("xref offset %d holds object %s", offset, ind.Ref)
	}
	if !o.recover(err, ref, offset) {
		return nil, err
	}
	// the offset is stale: look for the header itself
	at := findHeader(o.data, ref)
	if at < 0 {
		return nil, err
	}
	ind, err = o.parseAt(ctx, at, depth)
	if err != nil {
		return nil, err
	}
	return ind.Object, nil
}

func (o *objectLoader) parseAt(ctx context.Context, offset int64, depth int) (scanner.IndirectObject, error) {
	s := scanner.FromBytes(o.data, scanner.Config{Recovery: o.rec})
	if err := s.Seek(offset); err != nil {
		return scanner.IndirectObject{}, err
	}
	return scanner.ParseIndirect(s, func(lv raw.Object) (int64, bool) {
		return o.streamLength(ctx, lv, depth)
	})
}

func (o *objectLoader) streamLength(ctx context.Context, lv raw.Object, depth int) (int64, bool) {
	switch v := lv.(type) {
	case raw.NumberObj:
		return v.Int(), true
	case raw.RefObj:
		obj, err := o.load(ctx, v.R, depth+1)
		if err != nil {
			return 0, false
		}
		if n, ok := obj.(raw.NumberObj); ok {
			return n.Int(), true
		}
	}
	return 0, false
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, streamNum, idx, depth int) (raw.Object, error) {
	stm, err := o.objectStream(ctx, streamNum, depth)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(stm.nums) || stm.nums[idx] != ref.Num {
		idx = -1
		for i, n := range stm.nums {
			if n == ref.Num {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("object not found in object stream %d", streamNum)
		}
	}
	return stm.object(idx, o.rec)
}

func (o *objectLoader) objectStream(ctx context.Context, num, depth int) (*objectStream, error) {
	if stm, ok := o.objStreams[num]; ok {
		return stm, nil
	}
	entry, ok := o.table.Entry(num)
	if !ok || entry.Kind != xref.EntryInUse {
		return nil, fmt.Errorf("object stream %d is not in use", num)
	}
	obj, err := o.load(ctx, raw.ObjectRef{Num: num, Gen: entry.Gen}, depth+1)
	if err != nil {
		return nil, err
	}
	s, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("object stream %d is a %s", num, obj.Type())
	}
	stm, err := decodeObjectStream(ctx, o.pipeline, s)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", num, err)
	}
	o.objStreams[num] = stm
	return stm, nil
}

func decodeObjectStream(ctx context.Context, p *filters.Pipeline, s *raw.StreamObj) (*objectStream, error) {
	decoded, err := p.DecodeStream(ctx, s)
	if err != nil {
		return nil, err
	}
	n, _ := raw.IntValue(lookup(s.Dict, "N"))
	first, ok := raw.IntValue(lookup(s.Dict, "First"))
	if !ok || first < 0 || first > len(decoded) {
		return nil, fmt.Errorf("invalid /First %d", first)
	}
	stm := &objectStream{decoded: decoded, first: first}
	sc := scanner.FromBytes(decoded[:first], scanner.Config{})
	for i := 0; i < n; i++ {
		numTok, err1 := sc.Next()
		offTok, err2 := sc.Next()
		if err1 != nil || err2 != nil || numTok.Type != scanner.TokenNumber || offTok.Type != scanner.TokenNumber {
			break
		}
		stm.nums = append(stm.nums, int(numTok.Int))
		stm.offsets = append(stm.offsets, int(offTok.Int))
	}
	return stm, nil
}

func (s *objectStream) object(idx int, rec recovery.Strategy) (raw.Object, error) {
	at := s.first + s.offsets[idx]
	if at < 0 || at > len(s.decoded) {
		return nil, fmt.Errorf("object offset %d outside object stream", at)
	}
	sc := scanner.FromBytes(s.decoded, scanner.Config{Recovery: rec})
	if err := sc.Seek(int64(at)); err != nil {
		return nil, err
	}
	return scanner.ParseObject(sc)
}

func (o *objectLoader) recover(err error, ref raw.ObjectRef, offset int64) bool {
	if o.rec == nil {
		return false
	}
	return recovery.Continue(o.rec.OnError(nil, err, recovery.Location{
		ByteOffset: offset,
		ObjectNum:  ref.Num,
		ObjectGen:  ref.Gen,
		Component:  "loader",
	}))
}

// findHeader returns the offset of the last "num gen obj" header for ref.
func findHeader(data []byte, ref raw.ObjectRef) int64 {
	needle := []byte(strconv.Itoa(ref.Num) + " " + strconv.Itoa(ref.Gen) + " obj")
	for end := len(data); end > 0; {
		i := bytes.LastIndex(data[:end], needle)
		if i < 0 {
			return -1
		}
		if i == 0 || !isDigit(data[i-1]) {
			return int64(i)
		}
		end = i
	}
	return -1
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func lookup(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Lookup(key)
	return v
}
