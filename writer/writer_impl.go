package writer

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strconv"

	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
	"github.com/wudi/scanclean/observability"
)

type impl struct{ interceptors []Interceptor }

type output struct {
	buf     bytes.Buffer
	offsets []int64 // by new object number; 0 is the free head
	// members maps compressed objects to their object stream and index.
	members map[int][2]int
}

func (w *impl) Write(ctx context.Context, doc *semantic.Document, dst io.Writer, cfg Config) error {
	if doc == nil || doc.Raw == nil || doc.Raw.Trailer == nil {
		return ErrNoRoot
	}
	logger := observability.OrNop(cfg.Logger)
	if cfg.Compression == 0 {
		cfg.Compression = zlib.DefaultCompression
	}
	if cfg.ObjectsPerStream <= 0 {
		cfg.ObjectsPerStream = 100
	}

	trailer := doc.Raw.Trailer
	rootObj, ok := trailer.Lookup("Root")
	if !ok {
		return ErrNoRoot
	}
	roots := []raw.Object{rootObj}
	infoObj, hasInfo := trailer.Lookup("Info")
	if hasInfo {
		roots = append(roots, infoObj)
	}
	c := collect(doc.Raw, roots...)
	if _, ok := rootObj.(raw.RefObj); !ok || len(c.order) == 0 {
		return ErrNoRoot
	}

	objects := make([]raw.Object, len(c.order)+1)
	for i, ref := range c.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj := c.rewrite(c.objects[ref])
		if s, ok := obj.(*raw.StreamObj); ok && cfg.Compress {
			if err := compressStream(s, cfg.Compression); err != nil {
				return fmt.Errorf("compress object %d: %w", i+1, err)
			}
		}
		objects[i+1] = obj
	}

	out := &output{offsets: make([]int64, len(objects)), members: make(map[int][2]int)}
	out.buf.WriteString("%PDF-")
	out.buf.WriteString(string(version(doc.Raw.Version, cfg)))
	out.buf.WriteString("\n%\xE2\xE3\xCF\xD3\n")

	newTrailer := raw.Dict()
	newTrailer.SetKey("Root", c.rewrite(rootObj))
	if hasInfo {
		if info := c.rewrite(infoObj); info != (raw.NullObj{}) {
			newTrailer.SetKey("Info", info)
		}
	}

	var err error
	if cfg.ObjectStreams {
		err = w.writePacked(ctx, out, objects, newTrailer, trailer, cfg)
	} else {
		err = w.writeClassic(ctx, out, objects, newTrailer, trailer)
	}
	if err != nil {
		return err
	}
	logger.Debug("document written",
		observability.Int("objects", len(objects)-1),
		observability.Int("dropped", len(doc.Raw.Objects)-len(c.order)),
		observability.Int("bytes", out.buf.Len()))
	_, err = dst.Write(out.buf.Bytes())
	return err
}

func (w *impl) writeClassic(ctx context.Context, out *output, objects []raw.Object, trailer, src *raw.DictObj) error {
	for num := 1; num < len(objects); num++ {
		if err := w.writeObject(ctx, out, num, objects[num]); err != nil {
			return err
		}
	}
	xrefOffset := out.buf.Len()
	fmt.Fprintf(&out.buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects))
	for num := 1; num < len(objects); num++ {
		fmt.Fprintf(&out.buf, "%010d 00000 n \n", out.offsets[num])
	}
	trailer.SetKey("Size", raw.NumberInt(int64(len(objects))))
	trailer.SetKey("ID", fileID(src, out.buf.Bytes()))
	out.buf.WriteString("trailer\n")
	out.buf.Write(raw.AppendObject(nil, trailer))
	fmt.Fprintf(&out.buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return nil
}

// writePacked stores non-stream objects in object streams and indexes
// everything with a cross-reference stream.
func (w *impl) writePacked(ctx context.Context, out *output, objects []raw.Object, trailer, src *raw.DictObj, cfg Config) error {
	var loose []int
	var packed []int
	for num := 1; num < len(objects); num++ {
		if _, isStream := objects[num].(*raw.StreamObj); isStream {
			loose = append(loose, num)
		} else {
			packed = append(packed, num)
		}
	}
	for _, num := range loose {
		if err := w.writeObject(ctx, out, num, objects[num]); err != nil {
			return err
		}
	}

	next := len(objects)
	for start := 0; start < len(packed); start += cfg.ObjectsPerStream {
		group := packed[start:min(start+cfg.ObjectsPerStream, len(packed))]
		stmNum := next
		next++
		out.offsets = append(out.offsets, 0)

		var header, body []byte
		for i, num := range group {
			if err := w.before(ctx, num, objects[num]); err != nil {
				return err
			}
			header = strconv.AppendInt(header, int64(num), 10)
			header = append(header, ' ')
			header = strconv.AppendInt(header, int64(len(body)), 10)
			header = append(header, ' ')
			n := len(body)
			body = raw.AppendObject(body, objects[num])
			body = append(body, '\n')
			out.members[num] = [2]int{stmNum, i}
			if err := w.after(ctx, num, objects[num], int64(len(body)-n)); err != nil {
				return err
			}
		}
		dict := raw.Dict()
		dict.SetKey("Type", raw.NameLiteral("ObjStm"))
		dict.SetKey("N", raw.NumberInt(int64(len(group))))
		dict.SetKey("First", raw.NumberInt(int64(len(header))))
		stm := raw.NewStream(dict, append(header, body...))
		if cfg.Compress {
			if err := compressStream(stm, cfg.Compression); err != nil {
				return fmt.Errorf("compress object stream: %w", err)
			}
		}
		if err := w.writeObject(ctx, out, stmNum, stm); err != nil {
			return err
		}
	}

	xrefNum := next
	size := xrefNum + 1
	out.offsets = append(out.offsets, int64(out.buf.Len()))

	var entries []byte
	for num := 0; num < size; num++ {
		switch m, compressed := out.members[num]; {
		case num == 0:
			entries = appendXRefEntry(entries, 0, 0, 0xffff)
		case compressed:
			entries = appendXRefEntry(entries, 2, int64(m[0]), m[1])
		default:
			entries = appendXRefEntry(entries, 1, out.offsets[num], 0)
		}
	}
	dict := trailer
	dict.SetKey("Type", raw.NameLiteral("XRef"))
	dict.SetKey("Size", raw.NumberInt(int64(size)))
	dict.SetKey("W", raw.NewArray(raw.NumberInt(1), raw.NumberInt(4), raw.NumberInt(2)))
	dict.SetKey("ID", fileID(src, out.buf.Bytes()))
	xref := raw.NewStream(dict, entries)
	if cfg.Compress {
		if err := compressStream(xref, cfg.Compression); err != nil {
			return fmt.Errorf("compress xref stream: %w", err)
		}
	}
	xrefOffset := out.buf.Len()
	appendIndirect(&out.buf, xrefNum, xref)
	fmt.Fprintf(&out.buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return nil
}

func (w *impl) writeObject(ctx context.Context, out *output, num int, obj raw.Object) error {
	if err := w.before(ctx, num, obj); err != nil {
		return err
	}
	start := out.buf.Len()
	out.offsets[num] = int64(start)
	appendIndirect(&out.buf, num, obj)
	return w.after(ctx, num, obj, int64(out.buf.Len()-start))
}

func (w *impl) before(ctx context.Context, num int, obj raw.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, i := range w.interceptors {
		if err := i.BeforeWrite(ctx, raw.ObjectRef{Num: num}, obj); err != nil {
			return err
		}
	}
	return nil
}

func (w *impl) after(ctx context.Context, num int, obj raw.Object, n int64) error {
	for _, i := range w.interceptors {
		if err := i.AfterWrite(ctx, raw.ObjectRef{Num: num}, obj, n); err != nil {
			return err
		}
	}
	return nil
}

func appendIndirect(buf *bytes.Buffer, num int, obj raw.Object) {
	fmt.Fprintf(buf, "%d 0 obj\n", num)
	if s, ok := obj.(*raw.StreamObj); ok {
		s.Dict.SetKey("Length", raw.NumberInt(int64(len(s.Data))))
		buf.Write(raw.AppendObject(nil, s.Dict))
		buf.WriteString("\nstream\n")
		buf.Write(s.Data)
		buf.WriteString("\nendstream\nendobj\n")
		return
	}
	buf.Write(raw.AppendObject(nil, obj))
	buf.WriteString("\nendobj\n")
}

// compressStream Flate-encodes s in place when it has no filter and the
// result is smaller.
func compressStream(s *raw.StreamObj, level int) error {
	if _, filtered := s.Dict.Lookup("Filter"); filtered || len(s.Data) == 0 {
		return nil
	}
	enc, err := filters.EncodeFlate(s.Data, level)
	if err != nil {
		return err
	}
	if len(enc) >= len(s.Data) {
		return nil
	}
	s.Data = enc
	s.Dict.SetKey("Filter", raw.NameLiteral("FlateDecode"))
	s.Dict.Delete("DecodeParms")
	return nil
}

func appendXRefEntry(buf []byte, typ int, field2 int64, field3 int) []byte {
	off := uint32(field2)
	return append(buf, byte(typ),
		byte(off>>24), byte(off>>16), byte(off>>8), byte(off),
		byte(field3>>8), byte(field3))
}

func version(docVersion string, cfg Config) PDFVersion {
	v := cfg.Version
	if v == "" {
		v = PDFVersion(docVersion)
	}
	if v == "" {
		v = PDF17
	}
	if cfg.ObjectStreams && v < PDF15 {
		v = PDF15
	}
	return v
}

// fileID keeps the first identifier of the source and derives the second
// from the written body, so equal input gives equal output.
func fileID(src *raw.DictObj, body []byte) *raw.ArrayObj {
	sum := sha256.Sum256(body)
	changing := raw.StringObj{Bytes: sum[:16], Hex: true}
	permanent := changing
	if ids, ok := src.Lookup("ID"); ok {
		if arr, ok := ids.(*raw.ArrayObj); ok && arr.Len() > 0 {
			if s, ok := arr.Items[0].(raw.StringObj); ok && len(s.Bytes) > 0 {
				permanent = raw.StringObj{Bytes: s.Bytes, Hex: true}
			}
		}
	}
	return raw.NewArray(permanent, changing)
}
