package clean

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/wudi/scanclean/cleaner"
	"github.com/wudi/scanclean/edit"
	"github.com/wudi/scanclean/observability"
)

// DPI presets offered by the command line and profiles.
const (
	DPIFast   = 150
	DPINormal = 200
	DPIHigh   = 300

	MinDPI = 36
	MaxDPI = 1200
)

type Options struct {
	// DPI of the analysis raster. Defaults to DPINormal.
	DPI    float64
	Center edit.CenterMode
	// Workers analysing pages concurrently. Defaults to GOMAXPROCS.
	Workers int
	// Select is a JavaScript expression over "page"; pages for which it
	// is false are left untouched. Empty selects every page.
	Select string
	// Params for content detection. Zero selects cleaner.DefaultParams.
	Params cleaner.Params
	// ScaleToDPI rescales Params, tuned for 200 dpi, to DPI.
	ScaleToDPI bool
	// Verifier optionally confirms text blocks, for example with OCR.
	Verifier cleaner.BlockVerifier
	// RasterDPI is used by edit.CenterRaster.
	RasterDPI     float64
	ObjectStreams bool
	// MaxPixels bounds a page raster. Zero selects the renderer default.
	MaxPixels int64

	// Debug writes analysis images for the first DebugPages pages into
	// DebugDir. ProcessFile derives DebugDir from the input when empty.
	Debug      bool
	DebugDir   string
	DebugPages int
	// DebugMaxWidth downscales debug images wider than it.
	DebugMaxWidth int

	// Progress is called with (done, total) as pages finish analysis;
	// done only increases. Calls are serialised.
	Progress func(done, total int)
	Logger   observability.Logger
	Tracer   observability.Tracer
}

func (o Options) withDefaults() Options {
	if o.DPI == 0 {
		o.DPI = DPINormal
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Params == (cleaner.Params{}) {
		o.Params = cleaner.DefaultParams()
	}
	if o.ScaleToDPI {
		o.Params = o.Params.Scaled(o.DPI)
	}
	o.Logger = observability.OrNop(o.Logger)
	if o.Tracer == nil {
		o.Tracer = observability.NopTracer()
	}
	return o
}

// Validate reports every problem with the options at once.
func (o Options) Validate() error {
	var errs []error
	if o.DPI != 0 && (o.DPI < MinDPI || o.DPI > MaxDPI) {
		errs = append(errs, fmt.Errorf("dpi %v outside %d..%d", o.DPI, MinDPI, MaxDPI))
	}
	if o.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", o.Workers))
	}
	switch o.Center {
	case edit.CenterOff, edit.CenterShift, edit.CenterRaster:
	default:
		errs = append(errs, fmt.Errorf("unknown centering mode %v", o.Center))
	}
	if o.RasterDPI < 0 {
		errs = append(errs, fmt.Errorf("raster dpi must not be negative, got %v", o.RasterDPI))
	}
	if o.DebugPages < 0 {
		errs = append(errs, fmt.Errorf("debug pages must not be negative, got %d", o.DebugPages))
	}
	if o.Params != (cleaner.Params{}) {
		if err := o.Params.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
}
