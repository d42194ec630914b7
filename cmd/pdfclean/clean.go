package main

import (
	"errors"
	"math"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wudi/scanclean/clean"
	"github.com/wudi/scanclean/edit"
	"github.com/wudi/scanclean/observability"
	"github.com/wudi/scanclean/ocr"
	"github.com/wudi/scanclean/report"
)

type cleanFlags struct {
	output        string
	dpi           float64
	quality       string
	center        string
	workers       int
	selectExpr    string
	scaleParams   bool
	objectStreams bool
	rasterDPI     float64
	debug         bool
	debugPages    int
	debugDir      string
	ocr           bool
	ocrLangs      []string
	reportFormat  string
	lang          string
	quiet         bool
}

func newCleanCmd(a *app) *cobra.Command {
	f := &cleanFlags{}
	cmd := &cobra.Command{
		Use:   "clean <input.pdf>",
		Short: "Clean a scanned PDF and write the result",
		Long: `clean analyses every page, paints the margins around the detected text white
and re-centres the content. Without -o the result is written to
<input dir>/output/` + clean.OutputPrefix + `<input name>.`,
		Args: inputArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runClean(cmd, f, args[0])
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "output PDF path")
	fl.Float64Var(&f.dpi, "dpi", clean.DPINormal, "analysis resolution")
	fl.StringVarP(&f.quality, "quality", "q", "", "resolution preset: fast, normal or high (overrides --dpi)")
	fl.StringVar(&f.center, "center", "shift", "centering: off, shift or raster")
	fl.IntVarP(&f.workers, "workers", "j", 0, "pages analysed concurrently (0 = number of CPUs)")
	fl.StringVar(&f.selectExpr, "select", "", "JavaScript expression choosing pages to edit, e.g. 'page.number > 2'")
	fl.BoolVar(&f.scaleParams, "scale-params", false, "scale detection kernels from 200 dpi to --dpi")
	fl.BoolVar(&f.objectStreams, "object-streams", false, "pack objects into compressed object streams")
	fl.Float64Var(&f.rasterDPI, "raster-dpi", 0, "resolution of the image written by --center raster")
	fl.BoolVar(&f.debug, "debug", false, "write analysis images")
	fl.IntVar(&f.debugPages, "debug-pages", 10, "number of pages with debug images")
	fl.StringVar(&f.debugDir, "debug-dir", "", "directory for debug images (default <input dir>/debug_output/<name>)")
	fl.BoolVar(&f.ocr, "ocr", false, "confirm text blocks with OCR (needs a tesseract build)")
	fl.StringSliceVar(&f.ocrLangs, "ocr-lang", nil, "OCR languages (default ara)")
	fl.StringVar(&f.reportFormat, "report-format", "", "report format: text, json, yaml, markdown or html")
	fl.StringVar(&f.lang, "lang", "", "report language: en or tr")
	fl.BoolVar(&f.quiet, "quiet", false, "do not print the report")
	return cmd
}

// options builds processor options from defaults, then the profile, then
// flags given on the command line.
func (a *app) options(cmd *cobra.Command, f *cleanFlags) (clean.Options, error) {
	opts := clean.Options{DPI: clean.DPINormal, Center: edit.CenterShift, DebugPages: 10, Logger: observability.FromContext(cmd.Context())}
	if err := a.profile.Apply(&opts); err != nil {
		return opts, err
	}
	fl := cmd.Flags()
	if fl.Changed("dpi") {
		opts.DPI = f.dpi
	}
	if f.quality != "" {
		dpi, err := qualityDPI(f.quality)
		if err != nil {
			return opts, err
		}
		opts.DPI = dpi
	}
	if fl.Changed("center") {
		mode, err := edit.ParseCenterMode(f.center)
		if err != nil {
			return opts, usageError("%v", err)
		}
		opts.Center = mode
	}
	if fl.Changed("workers") {
		opts.Workers = f.workers
	}
	if fl.Changed("select") {
		opts.Select = f.selectExpr
	}
	if fl.Changed("scale-params") {
		opts.ScaleToDPI = f.scaleParams
	}
	if fl.Changed("object-streams") {
		opts.ObjectStreams = f.objectStreams
	}
	if fl.Changed("raster-dpi") {
		opts.RasterDPI = f.rasterDPI
	}
	if fl.Changed("debug") {
		opts.Debug = f.debug
	}
	if fl.Changed("debug-pages") {
		opts.DebugPages = f.debugPages
	}
	if fl.Changed("debug-dir") {
		opts.DebugDir = f.debugDir
	}

	enabled, vcfg := a.profile.OCRConfig()
	if fl.Changed("ocr") {
		enabled = f.ocr
	}
	if len(f.ocrLangs) > 0 {
		vcfg.Languages = f.ocrLangs
	}
	if enabled {
		vcfg.DPI = int(math.Round(opts.DPI))
		v, err := ocr.NewVerifier(vcfg)
		if err != nil {
			return opts, &ExitError{Code: 2, Message: err.Error()}
		}
		opts.Verifier = v
	}
	if err := opts.Validate(); err != nil {
		return opts, &ExitError{Code: 2, Message: err.Error()}
	}
	return opts, nil
}

func (a *app) reportOptions(f *cleanFlags) (report.Options, error) {
	ropts, err := a.profile.ReportOptions()
	if err != nil {
		return ropts, &ExitError{Code: 2, Message: err.Error()}
	}
	if f.reportFormat != "" {
		if ropts.Format, err = report.ParseFormat(f.reportFormat); err != nil {
			return ropts, usageError("%v", err)
		}
	}
	if f.lang != "" {
		if ropts.Language, err = report.ParseLanguage(f.lang); err != nil {
			return ropts, usageError("%v", err)
		}
	}
	return ropts, nil
}

func (a *app) runClean(cmd *cobra.Command, f *cleanFlags, in string) error {
	opts, err := a.options(cmd, f)
	if err != nil {
		return err
	}
	ropts, err := a.reportOptions(f)
	if err != nil {
		return err
	}
	var bar *report.Progress
	if file, ok := a.stderr.(*os.File); ok {
		bar = report.NewProgress(file)
		if bar.Enabled() {
			opts.Progress = bar.Update
		}
	}

	proc, err := clean.NewProcessor(opts)
	if err != nil {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	rep, err := proc.ProcessFile(cmd.Context(), in, f.output)
	if bar != nil && bar.Enabled() {
		bar.Finish()
	}
	if err != nil {
		if errors.Is(err, clean.ErrNotPDF) || errors.Is(err, os.ErrNotExist) {
			return &ExitError{Code: 2, Message: err.Error()}
		}
		return err
	}
	if f.quiet {
		return nil
	}
	return report.Write(a.stdout, rep, ropts)
}

func qualityDPI(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "fast", "low":
		return clean.DPIFast, nil
	case "normal", "medium":
		return clean.DPINormal, nil
	case "high":
		return clean.DPIHigh, nil
	}
	return 0, usageError("unknown quality %q: must be 'fast', 'normal', or 'high'", s)
}
