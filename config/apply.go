package config

import (
	"errors"
	"fmt"

	"github.com/wudi/scanclean/clean"
	"github.com/wudi/scanclean/cleaner"
	"github.com/wudi/scanclean/edit"
	"github.com/wudi/scanclean/ocr"
	"github.com/wudi/scanclean/report"
)

// Validate reports every problem in the profile at once.
func (p *Profile) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if p.DPI != nil && (*p.DPI < clean.MinDPI || *p.DPI > clean.MaxDPI) {
		add("dpi %v outside %d..%d", *p.DPI, clean.MinDPI, clean.MaxDPI)
	}
	if p.Center != nil {
		if _, err := edit.ParseCenterMode(*p.Center); err != nil {
			errs = append(errs, err)
		}
	}
	if p.Workers != nil && *p.Workers < 0 {
		add("workers must not be negative, got %d", *p.Workers)
	}
	if p.RasterDPI != nil && *p.RasterDPI <= 0 {
		add("raster_dpi must be positive, got %v", *p.RasterDPI)
	}
	if p.Detection != nil {
		if _, err := p.Detection.Params(cleaner.DefaultParams()); err != nil {
			errs = append(errs, err)
		}
	}
	if p.Debug != nil && p.Debug.Pages != nil && *p.Debug.Pages < 0 {
		add("debug.pages must not be negative, got %d", *p.Debug.Pages)
	}
	if p.OCR != nil {
		if c := p.OCR.MinConfidence; c != nil && (*c < 0 || *c > 1) {
			add("ocr.min_confidence %v outside 0..1", *c)
		}
		if w := p.OCR.MinWords; w != nil && *w < 0 {
			add("ocr.min_words must not be negative, got %d", *w)
		}
	}
	if p.Report != nil {
		if f := p.Report.Format; f != nil {
			if _, err := report.ParseFormat(*f); err != nil {
				errs = append(errs, err)
			}
		}
		if l := p.Report.Language; l != nil {
			if _, err := report.ParseLanguage(*l); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Apply copies the values set in the profile over opts.
func (p *Profile) Apply(opts *clean.Options) error {
	if p.DPI != nil {
		opts.DPI = *p.DPI
	}
	if p.Center != nil {
		mode, err := edit.ParseCenterMode(*p.Center)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		opts.Center = mode
	}
	if p.Workers != nil {
		opts.Workers = *p.Workers
	}
	if p.Select != nil {
		opts.Select = *p.Select
	}
	if p.ObjectStreams != nil {
		opts.ObjectStreams = *p.ObjectStreams
	}
	if p.ScaleToDPI != nil {
		opts.ScaleToDPI = *p.ScaleToDPI
	}
	if p.RasterDPI != nil {
		opts.RasterDPI = *p.RasterDPI
	}
	if p.Detection != nil {
		base := opts.Params
		if base == (cleaner.Params{}) {
			base = cleaner.DefaultParams()
		}
		params, err := p.Detection.Params(base)
		if err != nil {
			return err
		}
		opts.Params = params
	}
	if d := p.Debug; d != nil {
		if d.Enabled != nil {
			opts.Debug = *d.Enabled
		}
		if d.Pages != nil {
			opts.DebugPages = *d.Pages
		}
		if d.Dir != nil {
			opts.DebugDir = *d.Dir
		}
		if d.MaxWidth != nil {
			opts.DebugMaxWidth = *d.MaxWidth
		}
	}
	return nil
}

// Params overlays the detection block on base and validates the result.
func (d *Detection) Params(base cleaner.Params) (cleaner.Params, error) {
	p := base
	var errs []error
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setKernel := func(name string, dst *cleaner.Size, v []int) {
		if v == nil {
			return
		}
		if len(v) != 2 {
			errs = append(errs, fmt.Errorf("detection.%s needs [width, height], got %v", name, v))
			return
		}
		*dst = cleaner.Size{W: v[0], H: v[1]}
	}
	if d.Threshold != nil {
		if *d.Threshold < 0 || *d.Threshold > 255 {
			errs = append(errs, fmt.Errorf("detection.threshold %d outside 0..255", *d.Threshold))
		} else {
			p.Threshold = uint8(*d.Threshold)
		}
	}
	setKernel("line_kernel", &p.LineKernel, d.LineKernel)
	setKernel("paragraph_kernel", &p.ParagraphKernel, d.ParagraphKernel)
	setKernel("expand_kernel", &p.ExpandKernel, d.ExpandKernel)
	setInt(&p.MinBlockArea, d.MinBlockArea)
	setInt(&p.MinBlockWidth, d.MinBlockWidth)
	setInt(&p.MinBlockHeight, d.MinBlockHeight)
	setFloat(&p.MinAspect, d.MinAspect)
	setFloat(&p.MaxAspect, d.MaxAspect)
	setFloat(&p.RowDensity, d.RowDensity)
	setInt(&p.MinTextLines, d.MinTextLines)
	setInt(&p.Padding, d.Padding)
	setInt(&p.FallbackMargin, d.FallbackMargin)
	setInt(&p.EdgeTolerance, d.EdgeTolerance)
	if err := p.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return base, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return p, nil
}

// OCRConfig returns whether OCR verification is enabled and its settings
// over ocr.DefaultVerifierConfig.
func (p *Profile) OCRConfig() (bool, ocr.VerifierConfig) {
	cfg := ocr.DefaultVerifierConfig()
	if p == nil || p.OCR == nil {
		return false, cfg
	}
	if len(p.OCR.Languages) > 0 {
		cfg.Languages = p.OCR.Languages
	}
	if p.OCR.MinConfidence != nil {
		cfg.MinConfidence = *p.OCR.MinConfidence
	}
	if p.OCR.MinWords != nil {
		cfg.MinWords = *p.OCR.MinWords
	}
	if p.OCR.Whitelist != nil {
		cfg.Whitelist = *p.OCR.Whitelist
	}
	cfg.Variables = p.OCR.Variables
	return p.OCR.Enabled != nil && *p.OCR.Enabled, cfg
}

// ReportOptions returns the report settings with defaults for unset values.
func (p *Profile) ReportOptions() (report.Options, error) {
	opts := report.Options{Format: report.FormatText, Language: report.English}
	if p == nil || p.Report == nil {
		return opts, nil
	}
	var err error
	if p.Report.Format != nil {
		if opts.Format, err = report.ParseFormat(*p.Report.Format); err != nil {
			return opts, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if p.Report.Language != nil {
		if opts.Language, err = report.ParseLanguage(*p.Report.Language); err != nil {
			return opts, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return opts, nil
}
