// Package parser builds a raw.Document from PDF bytes.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/observability"
	"github.com/wudi/scanclean/recovery"
	"github.com/wudi/scanclean/scanner"
	"github.com/wudi/scanclean/security"
	"github.com/wudi/scanclean/xref"
)

var (
	// ErrEncrypted is returned for encrypted documents that the empty
	// password does not open, or whose security handler is unsupported.
	ErrEncrypted = errors.New("encrypted document needs a password")
	// ErrNotPDF is returned when the input has no %PDF- header.
	ErrNotPDF = errors.New("not a PDF file")
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery    recovery.Strategy
	XRef        xref.ResolverConfig
	Limits      filters.Limits
	MaxIndirect int
	Logger      observability.Logger
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.MaxIndirect == 0 {
		cfg.MaxIndirect = 32
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	data, err := scanner.ReadAll(r, 0)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return p.ParseBytes(ctx, data)
}

// ParseBytes parses an in-memory document. The returned objects may share
// memory with data.
func (p *DocumentParser) ParseBytes(ctx context.Context, data []byte) (*raw.Document, error) {
	version, ok := headerVersion(data)
	if !ok {
		return nil, ErrNotPDF
	}
	pipeline := filters.NewDefaultPipeline(p.cfg.Limits)

	xcfg := p.cfg.XRef
	if xcfg.Recovery == nil {
		xcfg.Recovery = p.cfg.Recovery
	}
	if xcfg.Filters == nil {
		xcfg.Filters = pipeline
	}
	resolver := xref.NewResolver(xcfg)
	table, err := resolver.ResolveBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	if resolver.Repaired() {
		p.cfg.Logger.Warn("cross-reference table rebuilt by scanning the file",
			observability.Int("objects", len(table.Objects())))
	}
	trailer := table.Trailer()
	builder := (&ObjectLoaderBuilder{}).
		WithData(data).
		WithXRef(table).
		WithRecovery(p.cfg.Recovery).
		WithFilters(pipeline).
		WithMaxDepth(p.cfg.MaxIndirect)
	if encObj, enc := trailer.Lookup("Encrypt"); enc {
		handler, encRef, err := p.openEncrypted(ctx, builder, trailer, encObj)
		if err != nil {
			return nil, err
		}
		builder.WithSecurity(handler, encRef)
		// output is written in the clear
		trailer.Delete("Encrypt")
	}
	loader, err := builder.Build()
	if err != nil {
		return nil, err
	}

	doc := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object),
		Trailer: trailer,
		Version: version,
	}
	for _, objNum := range table.Objects() {
		if objNum == 0 {
			continue // free head entry
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, _ := table.Entry(objNum)
		ref := raw.ObjectRef{Num: objNum}
		if entry.Kind == xref.EntryInUse {
			ref.Gen = entry.Gen
		}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			if p.skip(err, ref) {
				continue
			}
			return nil, fmt.Errorf("load object %d: %w", objNum, err)
		}
		doc.Objects[ref] = obj
	}
	if resolver.Repaired() {
		p.expandObjectStreams(ctx, pipeline, doc)
	}
	if cat, ok := doc.Resolve(lookup(trailer, "Root")).(*raw.DictObj); ok {
		if v, ok := raw.NameValue(lookup(cat, "Version")); ok && v > doc.Version {
			doc.Version = v
		}
	}
	p.cfg.Logger.Debug("parsed document",
		observability.Int("objects", len(doc.Objects)),
		observability.String("version", doc.Version),
		observability.String("xref", table.Type()))
	return doc, nil
}

// openEncrypted builds the standard security handler and authenticates the
// empty password.
func (p *DocumentParser) openEncrypted(ctx context.Context, builder *ObjectLoaderBuilder, trailer *raw.DictObj, encObj raw.Object) (security.Handler, raw.ObjectRef, error) {
	var encRef raw.ObjectRef
	if r, ok := encObj.(raw.RefObj); ok {
		encRef = r.R
		plain, err := builder.Build()
		if err != nil {
			return nil, encRef, err
		}
		if encObj, err = plain.Load(ctx, encRef); err != nil {
			return nil, encRef, fmt.Errorf("load /Encrypt: %w", err)
		}
	}
	encDict, ok := encObj.(*raw.DictObj)
	if !ok {
		return nil, encRef, fmt.Errorf("%w: /Encrypt is %T", ErrEncrypted, encObj)
	}
	var fileID []byte
	if ids, ok := lookup(trailer, "ID").(*raw.ArrayObj); ok && len(ids.Items) > 0 {
		if s, ok := ids.Items[0].(raw.StringObj); ok {
			fileID = s.Bytes
		}
	}
	handler, err := (&security.HandlerBuilder{}).WithEncryptDict(encDict).WithFileID(fileID).Build()
	if err != nil {
		return nil, encRef, fmt.Errorf("%w: %w", ErrEncrypted, err)
	}
	if err := handler.Authenticate(""); err != nil {
		return nil, encRef, fmt.Errorf("%w: %w", ErrEncrypted, err)
	}
	p.cfg.Logger.Info("opened encrypted document with the empty password",
		observability.String("cipher", handler.Describe()),
		observability.Bool("modify_allowed", handler.Permissions().Modify))
	return handler, encRef, nil
}

func (p *DocumentParser) skip(err error, ref raw.ObjectRef) bool {
	if p.cfg.Recovery == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return recovery.Continue(p.cfg.Recovery.OnError(nil, err, recovery.Location{
		ObjectNum: ref.Num,
		ObjectGen: ref.Gen,
		Component: "parser",
	}))
}

// expandObjectStreams adds the members of every object stream found by a
// repair scan, which only sees top-level object headers.
func (p *DocumentParser) expandObjectStreams(ctx context.Context, pipeline *filters.Pipeline, doc *raw.Document) {
	for _, obj := range doc.Objects {
		s, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		if t, _ := raw.NameValue(lookup(s.Dict, "Type")); t != "ObjStm" {
			continue
		}
		stm, err := decodeObjectStream(ctx, pipeline, s)
		if err != nil {
			continue
		}
		for i, num := range stm.nums {
			ref := raw.ObjectRef{Num: num}
			if _, exists := doc.Objects[ref]; exists {
				continue
			}
			if member, err := stm.object(i, p.cfg.Recovery); err == nil {
				doc.Objects[ref] = member
			}
		}
	}
}

var headerRe = regexp.MustCompile(`%PDF-(\d\.\d)`)

// headerVersion finds the %PDF-x.y header within the first kilobyte, where
// some producers put junk before it.
func headerVersion(data []byte) (string, bool) {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if m := headerRe.FindSubmatch(head); m != nil {
		return string(m[1]), true
	}
	if bytes.Contains(head, []byte("%PDF-")) {
		return "1.4", true
	}
	return "", false
}
