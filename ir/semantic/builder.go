package semantic

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/observability"
)

var (
	ErrNoCatalog = errors.New("document has no catalog")
	ErrPageTree  = errors.New("malformed page tree")
)

// defaultMediaBox is US Letter, used when no MediaBox is inherited.
var defaultMediaBox = Rectangle{0, 0, 612, 792}

type Builder interface {
	Build(ctx context.Context, doc *raw.Document) (*Document, error)
}

type BuilderConfig struct {
	Filters *filters.Pipeline
	Logger  observability.Logger
	// MaxTreeDepth bounds page tree nesting.
	MaxTreeDepth int
}

// NewBuilder returns a builder that flattens the page tree.
func NewBuilder(cfg BuilderConfig) Builder {
	if cfg.Filters == nil {
		cfg.Filters = filters.NewDefaultPipeline(filters.Limits{})
	}
	if cfg.MaxTreeDepth <= 0 {
		cfg.MaxTreeDepth = 64
	}
	cfg.Logger = observability.OrNop(cfg.Logger)
	return &builderImpl{cfg: cfg}
}

type builderImpl struct {
	cfg BuilderConfig
}

type inheritedPageProps struct {
	MediaBox  *Rectangle
	CropBox   *Rectangle
	Rotate    int
	Resources *raw.DictObj
}

func (b *builderImpl) Build(ctx context.Context, rawDoc *raw.Document) (*Document, error) {
	if rawDoc == nil || rawDoc.Trailer == nil {
		return nil, ErrNoCatalog
	}
	doc := NewDocument(rawDoc, b.cfg.Filters)
	root, _ := rawDoc.Trailer.Lookup("Root")
	catalog, ok := doc.ResolveDict(root)
	if !ok {
		return nil, ErrNoCatalog
	}
	doc.Catalog = catalog
	pagesObj, ok := catalog.Lookup("Pages")
	if !ok {
		return doc, nil
	}
	w := &treeWalker{doc: doc, cfg: b.cfg, visited: make(map[raw.ObjectRef]bool)}
	if err := w.walk(ctx, pagesObj, refOf(pagesObj), inheritedPageProps{}, 0); err != nil {
		return nil, err
	}
	return doc, nil
}

type treeWalker struct {
	doc     *Document
	cfg     BuilderConfig
	visited map[raw.ObjectRef]bool
}

func (w *treeWalker) walk(ctx context.Context, obj raw.Object, ref raw.ObjectRef, inherited inheritedPageProps, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > w.cfg.MaxTreeDepth {
		return fmt.Errorf("%w: deeper than %d levels", ErrPageTree, w.cfg.MaxTreeDepth)
	}
	if ref.Num > 0 {
		if w.visited[ref] {
			w.cfg.Logger.Warn("page tree cycle skipped", observability.String("ref", ref.String()))
			return nil
		}
		w.visited[ref] = true
	}
	dict, ok := w.doc.ResolveDict(obj)
	if !ok {
		w.cfg.Logger.Warn("page tree node is not a dictionary", observability.String("ref", ref.String()))
		return nil
	}

	next := inherited
	if mb, ok := w.rect(dict, "MediaBox"); ok {
		next.MediaBox = &mb
	}
	if cb, ok := w.rect(dict, "CropBox"); ok {
		next.CropBox = &cb
	}
	if rot, ok := raw.IntValue(w.doc.Resolve(lookup(dict, "Rotate"))); ok {
		next.Rotate = normalizeRotation(rot)
	}
	if res, ok := w.doc.ResolveDict(lookup(dict, "Resources")); ok {
		next.Resources = res
	}

	typ, _ := raw.NameValue(w.doc.Resolve(lookup(dict, "Type")))
	kids, hasKids := w.doc.Resolve(lookup(dict, "Kids")).(*raw.ArrayObj)
	if typ == "Page" || (typ != "Pages" && !hasKids) {
		w.addPage(dict, ref, next)
		return nil
	}
	if !hasKids {
		return nil
	}
	for _, kid := range kids.Items {
		if err := w.walk(ctx, kid, refOf(kid), next, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *treeWalker) addPage(dict *raw.DictObj, ref raw.ObjectRef, props inheritedPageProps) {
	page := &Page{
		Index:     len(w.doc.Pages),
		Ref:       ref,
		Dict:      dict,
		MediaBox:  defaultMediaBox,
		Rotate:    props.Rotate,
		Resources: props.Resources,
	}
	if props.MediaBox != nil && !props.MediaBox.Empty() {
		page.MediaBox = *props.MediaBox
	}
	if props.CropBox != nil {
		page.CropBox = *props.CropBox
	}
	if page.Resources == nil {
		page.Resources = raw.Dict()
	}
	w.doc.Pages = append(w.doc.Pages, page)
}

func (w *treeWalker) rect(dict *raw.DictObj, key string) (Rectangle, bool) {
	arr, ok := w.doc.Resolve(lookup(dict, key)).(*raw.ArrayObj)
	if !ok || arr.Len() < 4 {
		return Rectangle{}, false
	}
	var v [4]float64
	for i := range v {
		f, ok := raw.NumberValue(w.doc.Resolve(arr.Items[i]))
		if !ok {
			return Rectangle{}, false
		}
		v[i] = f
	}
	return Rectangle{v[0], v[1], v[2], v[3]}.Normalize(), true
}

func refOf(obj raw.Object) raw.ObjectRef {
	if r, ok := obj.(raw.RefObj); ok {
		return r.R
	}
	return raw.ObjectRef{}
}

func normalizeRotation(r int) int {
	r %= 360
	if r < 0 {
		r += 360
	}
	return r / 90 * 90
}

func lookup(d *raw.DictObj, key string) raw.Object {
	v, ok := d.Lookup(key)
	if !ok {
		return raw.NullObj{}
	}
	return v
}
