// Package config loads cleaning profiles written in HCL.
//
// A profile sets any subset of the options the command line offers:
//
//	dpi     = preset.high
//	center  = "shift"
//	workers = 4
//	select  = "page.number > 1"
//
//	detection {
//	  threshold   = 190
//	  line_kernel = [40, 1]
//	}
//
//	debug {
//	  enabled = true
//	  pages   = 5
//	  dir     = "${env.HOME}/scan-debug"
//	}
//
//	ocr {
//	  enabled   = true
//	  languages = ["ara", "eng"]
//	}
//
//	report {
//	  format   = "markdown"
//	  language = "tr"
//	}
//
// The variables preset.fast, preset.normal and preset.high hold the DPI
// presets and env.* exposes the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/wudi/scanclean/clean"
)

// ErrInvalidConfig wraps every profile parsing and validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

type Profile struct {
	DPI           *float64 `hcl:"dpi,optional"`
	Center        *string  `hcl:"center,optional"`
	Workers       *int     `hcl:"workers,optional"`
	Select        *string  `hcl:"select,optional"`
	ObjectStreams *bool    `hcl:"object_streams,optional"`
	ScaleToDPI    *bool    `hcl:"scale_to_dpi,optional"`
	RasterDPI     *float64 `hcl:"raster_dpi,optional"`

	Detection *Detection `hcl:"detection,block"`
	Debug     *Debug     `hcl:"debug,block"`
	OCR       *OCR       `hcl:"ocr,block"`
	Report    *Report    `hcl:"report,block"`
}

type Detection struct {
	Threshold       *int     `hcl:"threshold,optional"`
	LineKernel      []int    `hcl:"line_kernel,optional"`
	ParagraphKernel []int    `hcl:"paragraph_kernel,optional"`
	ExpandKernel    []int    `hcl:"expand_kernel,optional"`
	MinBlockArea    *int     `hcl:"min_block_area,optional"`
	MinBlockWidth   *int     `hcl:"min_block_width,optional"`
	MinBlockHeight  *int     `hcl:"min_block_height,optional"`
	MinAspect       *float64 `hcl:"min_aspect,optional"`
	MaxAspect       *float64 `hcl:"max_aspect,optional"`
	RowDensity      *float64 `hcl:"row_density,optional"`
	MinTextLines    *int     `hcl:"min_text_lines,optional"`
	Padding         *int     `hcl:"padding,optional"`
	FallbackMargin  *int     `hcl:"fallback_margin,optional"`
	EdgeTolerance   *int     `hcl:"edge_tolerance,optional"`
}

type Debug struct {
	Enabled  *bool   `hcl:"enabled,optional"`
	Pages    *int    `hcl:"pages,optional"`
	Dir      *string `hcl:"dir,optional"`
	MaxWidth *int    `hcl:"max_width,optional"`
}

type OCR struct {
	Enabled       *bool    `hcl:"enabled,optional"`
	Languages     []string `hcl:"languages,optional"`
	MinConfidence *float64 `hcl:"min_confidence,optional"`
	MinWords      *int     `hcl:"min_words,optional"`
	Whitelist     *string  `hcl:"whitelist,optional"`
	// Variables are passed to Tesseract unchanged.
	Variables map[string]string `hcl:"variables,optional"`
}

type Report struct {
	Format   *string `hcl:"format,optional"`
	Language *string `hcl:"language,optional"`
}

// Load parses and validates the profile at path.
func Load(path string) (*Profile, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return Parse(src, path)
}

// Parse parses and validates a profile held in memory. filename is used
// in diagnostics.
func Parse(src []byte, filename string) (*Profile, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrInvalidConfig, filename, diags)
	}
	var p Profile
	diags = gohcl.DecodeBody(file.Body, EvalContext(os.Environ()), &p)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrInvalidConfig, filename, diags)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// EvalContext exposes the DPI presets and the given KEY=VALUE environment.
func EvalContext(environ []string) *hcl.EvalContext {
	env := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	envVal := cty.MapValEmpty(cty.String)
	if len(env) > 0 {
		envVal = cty.MapVal(env)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"preset": cty.ObjectVal(map[string]cty.Value{
				"fast":   cty.NumberIntVal(clean.DPIFast),
				"normal": cty.NumberIntVal(clean.DPINormal),
				"high":   cty.NumberIntVal(clean.DPIHigh),
			}),
			"env": envVal,
		},
	}
}
