// Package clean runs the whole cleaning process over a document: parse,
// analyse pages, edit them and write the result.
package clean

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wudi/scanclean/cleaner"
	"github.com/wudi/scanclean/debugimg"
	"github.com/wudi/scanclean/edit"
	"github.com/wudi/scanclean/ir"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
	"github.com/wudi/scanclean/observability"
	"github.com/wudi/scanclean/parser"
	"github.com/wudi/scanclean/raster"
	"github.com/wudi/scanclean/scripting"
	"github.com/wudi/scanclean/writer"
)

var (
	ErrNotPDF         = errors.New("input is not a PDF document")
	ErrNoPages        = errors.New("document has no pages")
	ErrInvalidOptions = errors.New("invalid options")
)

type Processor struct {
	opts     Options
	pipeline *ir.Pipeline
	renderer *raster.Renderer
	analyzer *cleaner.Analyzer
	selector *scripting.PageSelector
}

// NewProcessor validates opts and compiles the page selector, so that bad
// configuration fails before any page is read.
func NewProcessor(opts Options) (*Processor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	analyzer, err := cleaner.NewAnalyzer(cleaner.Config{Params: opts.Params, Verifier: opts.Verifier, Logger: opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	selector, err := scripting.NewPageSelector(opts.Select)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return &Processor{
		opts:     opts,
		pipeline: ir.New(ir.Config{Logger: opts.Logger, Tracer: opts.Tracer}),
		renderer: raster.NewRenderer(raster.Config{MaxPixels: opts.MaxPixels, Logger: opts.Logger}),
		analyzer: analyzer,
		selector: selector,
	}, nil
}

// pageResult is the outcome of analysing one page.
type pageResult struct {
	analysis cleaner.Analysis
	err      error
}

// Process cleans the PDF read from r and writes the result to w.
func (p *Processor) Process(ctx context.Context, r io.ReaderAt, w io.Writer) (Report, error) {
	return p.process(ctx, r, w, p.opts.DebugDir)
}

func (p *Processor) process(ctx context.Context, r io.ReaderAt, w io.Writer, debugDir string) (Report, error) {
	start := time.Now()
	report := Report{DPI: p.opts.DPI, Center: p.opts.Center.String()}
	log := p.opts.Logger

	doc, err := p.pipeline.Parse(ctx, r)
	if err != nil {
		if errors.Is(err, parser.ErrNotPDF) {
			return report, fmt.Errorf("%w: %w", ErrNotPDF, err)
		}
		return report, err
	}
	report.TotalPages = len(doc.Pages)
	if report.TotalPages == 0 {
		return report, ErrNoPages
	}

	var debug *debugimg.Writer
	if p.opts.Debug {
		if debugDir == "" {
			log.Warn("debug images requested without a directory")
		} else {
			debug = debugimg.New(debugimg.Config{Dir: debugDir, Pages: p.opts.DebugPages, MaxWidth: p.opts.DebugMaxWidth, Logger: log})
			report.DebugDir = debugDir
		}
	}

	results, err := p.analyze(ctx, doc, debug)
	if err != nil {
		return report, err
	}

	editor := edit.NewEditor(doc, edit.Config{
		Center:    p.opts.Center,
		RasterDPI: p.opts.RasterDPI,
		Renderer:  p.renderer,
		Logger:    log,
	})
	for i, page := range doc.Pages {
		res := results[i]
		num := i + 1
		if res.err != nil {
			report.Skipped = append(report.Skipped, PageIssue{Page: num, Reason: res.err.Error()})
			continue
		}
		if res.analysis.Fallback {
			report.Fallback = append(report.Fallback, num)
		}
		selected, err := p.selector.Select(ctx, pageInfo(page, num, len(doc.Pages), res.analysis))
		if err != nil {
			return report, err
		}
		if !selected {
			report.Unselected = append(report.Unselected, num)
			continue
		}
		edited, err := editor.Apply(ctx, page, res.analysis, p.opts.DPI)
		if err != nil {
			if ctx.Err() != nil {
				return report, err
			}
			report.Skipped = append(report.Skipped, PageIssue{Page: num, Reason: err.Error()})
			continue
		}
		if edited.Changed() {
			report.EditedPages = append(report.EditedPages, num)
		}
		if edited.Centered {
			report.Centered = append(report.Centered, num)
		}
	}

	ctx, span := p.opts.Tracer.StartSpan(ctx, observability.SpanWrite)
	counter := &objectCounter{}
	wr := (&writer.WriterBuilder{}).WithInterceptor(counter).Build()
	err = wr.Write(ctx, doc, w, writer.Config{Compress: true, ObjectStreams: p.opts.ObjectStreams, Logger: log})
	span.SetTag(observability.MetricEdited, len(report.EditedPages))
	if err != nil {
		span.SetError(err)
		span.Finish()
		return report, fmt.Errorf("write document: %w", err)
	}
	span.Finish()
	report.Objects, report.Bytes = counter.objects, counter.bytes
	report.Elapsed = time.Since(start)

	log.Info("document cleaned",
		observability.Int("pages", report.TotalPages),
		observability.Int("edited", len(report.EditedPages)),
		observability.Int("skipped", len(report.Skipped)),
		observability.Int64("elapsed_ms", report.Elapsed.Milliseconds()))
	return report, nil
}

// analyze renders and analyses every page on a bounded set of workers.
// Per-page failures are kept in the results; cancellation aborts.
func (p *Processor) analyze(ctx context.Context, doc *semantic.Document, debug *debugimg.Writer) ([]pageResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	total := len(doc.Pages)
	results := make([]pageResult, total)
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		done     int
		firstErr error
	)
	workers := min(p.opts.Workers, total)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				a, err := p.analyzePage(ctx, doc, doc.Pages[i], debug)
				mu.Lock()
				if err != nil && ctx.Err() != nil {
					if firstErr == nil {
						firstErr = ctx.Err()
					}
					mu.Unlock()
					cancel()
					continue
				}
				results[i] = pageResult{analysis: a, err: err}
				done++
				if p.opts.Progress != nil {
					p.opts.Progress(done, total)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range doc.Pages {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Processor) analyzePage(ctx context.Context, doc *semantic.Document, page *semantic.Page, debug *debugimg.Writer) (cleaner.Analysis, error) {
	ctx, span := p.opts.Tracer.StartSpan(ctx, observability.SpanPage)
	defer span.Finish()
	span.SetTag("page", page.Index+1)
	span.SetTag(observability.MetricRenderDPI, p.opts.DPI)

	img, err := p.renderer.Render(ctx, doc, page, p.opts.DPI)
	if err != nil {
		span.SetError(err)
		return cleaner.Analysis{}, fmt.Errorf("render: %w", err)
	}
	a, err := p.analyzer.Analyze(ctx, img)
	if err != nil {
		span.SetError(err)
		return a, fmt.Errorf("analyse: %w", err)
	}
	if debug != nil && debug.Want(page.Index) {
		if _, err := debug.WritePage(page.Index, img, a); err != nil {
			p.opts.Logger.Warn("debug images failed", observability.Int("page", page.Index+1), observability.Error("error", err))
		}
	}
	return a, nil
}

func pageInfo(page *semantic.Page, num, total int, a cleaner.Analysis) scripting.PageInfo {
	box := page.Box()
	info := scripting.PageInfo{
		Number:   num,
		Total:    total,
		Width:    box.Width(),
		Height:   box.Height(),
		Rotate:   page.Rotate,
		Modified: a.Modified,
		Fallback: a.Fallback,
		Bounds:   scripting.Box{X0: a.Bounds.X0, Y0: a.Bounds.Y0, X1: a.Bounds.X1, Y1: a.Bounds.Y1},
	}
	for _, r := range a.CleanAreas {
		info.Areas = append(info.Areas, scripting.Box{X0: r.X0, Y0: r.Y0, X1: r.X1, Y1: r.Y1})
	}
	return info
}

type objectCounter struct {
	objects int
	bytes   int64
}

func (c *objectCounter) BeforeWrite(context.Context, raw.ObjectRef, raw.Object) error { return nil }

func (c *objectCounter) AfterWrite(_ context.Context, _ raw.ObjectRef, _ raw.Object, n int64) error {
	c.objects++
	c.bytes += n
	return nil
}

// PageAnalysis is the detection result for one page, without edits.
type PageAnalysis struct {
	Page     int
	Analysis cleaner.Analysis
	Err      error
}

// Analyze parses r and analyses every page without modifying anything.
func (p *Processor) Analyze(ctx context.Context, r io.ReaderAt) ([]PageAnalysis, error) {
	doc, err := p.pipeline.Parse(ctx, r)
	if err != nil {
		if errors.Is(err, parser.ErrNotPDF) {
			return nil, fmt.Errorf("%w: %w", ErrNotPDF, err)
		}
		return nil, err
	}
	if len(doc.Pages) == 0 {
		return nil, ErrNoPages
	}
	var debug *debugimg.Writer
	if p.opts.Debug && p.opts.DebugDir != "" {
		debug = debugimg.New(debugimg.Config{Dir: p.opts.DebugDir, Pages: p.opts.DebugPages, MaxWidth: p.opts.DebugMaxWidth, Logger: p.opts.Logger})
	}
	results, err := p.analyze(ctx, doc, debug)
	if err != nil {
		return nil, err
	}
	out := make([]PageAnalysis, len(results))
	for i, res := range results {
		out[i] = PageAnalysis{Page: i + 1, Analysis: res.analysis, Err: res.err}
	}
	return out, nil
}
