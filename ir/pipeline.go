// Package ir ties parsing and page-tree construction together.
package ir

import (
	"context"
	"fmt"
	"io"

	"github.com/wudi/scanclean/filters"
	"github.com/wudi/scanclean/ir/raw"
	"github.com/wudi/scanclean/ir/semantic"
	"github.com/wudi/scanclean/observability"
	"github.com/wudi/scanclean/parser"
	"github.com/wudi/scanclean/recovery"
)

// Config configures a Pipeline. Zero values select lenient recovery and no
// decode limits.
type Config struct {
	Recovery recovery.Strategy
	Limits   filters.Limits
	Logger   observability.Logger
	Tracer   observability.Tracer
}

type Pipeline struct {
	rawParser       raw.Parser
	semanticBuilder semantic.Builder
	logger          observability.Logger
	tracer          observability.Tracer
}

// NewDefault constructs a pipeline with lenient recovery and no logging.
func NewDefault() *Pipeline {
	return New(Config{})
}

func New(cfg Config) *Pipeline {
	logger := observability.OrNop(cfg.Logger)
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewLenientStrategy(logger)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	fp := filters.NewDefaultPipeline(cfg.Limits)
	return &Pipeline{
		rawParser: parser.NewDocumentParser(parser.Config{
			Recovery: cfg.Recovery,
			Limits:   cfg.Limits,
			Logger:   logger,
		}),
		semanticBuilder: semantic.NewBuilder(semantic.BuilderConfig{Filters: fp, Logger: logger}),
		logger:          logger,
		tracer:          cfg.Tracer,
	}
}

// Parse runs raw parsing followed by page tree construction.
func (p *Pipeline) Parse(ctx context.Context, r io.ReaderAt) (*semantic.Document, error) {
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanParse)
	defer span.Finish()

	rawDoc, err := p.rawParser.Parse(ctx, r)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("raw parsing failed: %w", err)
	}

	semDoc, err := p.semanticBuilder.Build(ctx, rawDoc)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("semantic building failed: %w", err)
	}
	span.SetTag(observability.MetricPageCount, len(semDoc.Pages))
	p.logger.Debug("document parsed",
		observability.String("version", rawDoc.Version),
		observability.Int("pages", len(semDoc.Pages)),
		observability.Int("objects", len(rawDoc.Objects)))
	return semDoc, nil
}
