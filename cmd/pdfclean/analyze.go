package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wudi/scanclean/clean"
	"github.com/wudi/scanclean/cleaner"
	"github.com/wudi/scanclean/debugimg"
)

// pageRow is one page of analyze output.
type pageRow struct {
	Page     int           `json:"page" yaml:"page"`
	Width    int           `json:"width" yaml:"width"`
	Height   int           `json:"height" yaml:"height"`
	Bounds   *cleaner.Rect `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Areas    int           `json:"clean_areas" yaml:"clean_areas"`
	Accepted int           `json:"accepted_blocks" yaml:"accepted_blocks"`
	Rejected int           `json:"rejected_blocks" yaml:"rejected_blocks"`
	Fallback bool          `json:"fallback" yaml:"fallback"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func newAnalyzeCmd(a *app) *cobra.Command {
	f := &cleanFlags{}
	var format string
	cmd := &cobra.Command{
		Use:   "analyze <input.pdf>",
		Short: "Detect content bounds without writing a PDF",
		Args:  inputArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.options(cmd, f)
			if err != nil {
				return err
			}
			if opts.Debug && opts.DebugDir == "" {
				opts.DebugDir = debugimg.Dir(args[0])
			}
			proc, err := clean.NewProcessor(opts)
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			file, err := os.Open(args[0])
			if err != nil {
				return &ExitError{Code: 2, Message: err.Error()}
			}
			defer file.Close()
			pages, err := proc.Analyze(cmd.Context(), file)
			if err != nil {
				return err
			}
			return writeRows(a.stdout, format, rows(pages))
		},
	}
	fl := cmd.Flags()
	fl.Float64Var(&f.dpi, "dpi", clean.DPINormal, "analysis resolution")
	fl.StringVarP(&f.quality, "quality", "q", "", "resolution preset: fast, normal or high (overrides --dpi)")
	fl.IntVarP(&f.workers, "workers", "j", 0, "pages analysed concurrently (0 = number of CPUs)")
	fl.BoolVar(&f.scaleParams, "scale-params", false, "scale detection kernels from 200 dpi to --dpi")
	fl.BoolVar(&f.debug, "debug", false, "write analysis images")
	fl.IntVar(&f.debugPages, "debug-pages", 10, "number of pages with debug images")
	fl.StringVar(&f.debugDir, "debug-dir", "", "directory for debug images")
	fl.BoolVar(&f.ocr, "ocr", false, "confirm text blocks with OCR (needs a tesseract build)")
	fl.StringSliceVar(&f.ocrLangs, "ocr-lang", nil, "OCR languages (default ara)")
	fl.StringVar(&format, "format", "text", "output format: text, json or yaml")
	return cmd
}

func rows(pages []clean.PageAnalysis) []pageRow {
	out := make([]pageRow, 0, len(pages))
	for _, p := range pages {
		row := pageRow{Page: p.Page}
		if p.Err != nil {
			row.Error = p.Err.Error()
			out = append(out, row)
			continue
		}
		a := p.Analysis
		row.Width, row.Height = a.Width, a.Height
		row.Areas = len(a.CleanAreas)
		row.Fallback = a.Fallback
		if !a.Bounds.Empty() {
			b := a.Bounds
			row.Bounds = &b
		}
		for _, b := range a.Blocks {
			if b.Accepted() {
				row.Accepted++
			} else {
				row.Rejected++
			}
		}
		out = append(out, row)
	}
	return out
}

func writeRows(w io.Writer, format string, rows []pageRow) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
	default:
		return usageError("invalid format %q: must be 'text', 'json', or 'yaml'", format)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tSIZE\tBOUNDS\tAREAS\tBLOCKS\tNOTE")
	for _, r := range rows {
		if r.Error != "" {
			fmt.Fprintf(tw, "%d\t-\t-\t-\t-\tskipped: %s\n", r.Page, r.Error)
			continue
		}
		bounds := "-"
		if r.Bounds != nil {
			bounds = fmt.Sprintf("%d,%d-%d,%d", r.Bounds.X0, r.Bounds.Y0, r.Bounds.X1, r.Bounds.Y1)
		}
		note := ""
		if r.Fallback {
			note = "fallback margin"
		}
		fmt.Fprintf(tw, "%d\t%dx%d\t%s\t%d\t%d/%d\t%s\n", r.Page, r.Width, r.Height, bounds, r.Areas, r.Accepted, r.Accepted+r.Rejected, note)
	}
	return tw.Flush()
}
