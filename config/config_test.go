package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/wudi/scanclean/clean"
	"github.com/wudi/scanclean/cleaner"
	"github.com/wudi/scanclean/edit"
	"github.com/wudi/scanclean/report"
)

const fullProfile = `
dpi            = preset.high
center         = "raster"
workers        = 3
select         = "page.number > 1"
object_streams = true

detection {
  threshold   = 190
  line_kernel = [40, 1]
  padding     = 12
}

debug {
  enabled = true
  pages   = 4
  dir     = "${env.SCANCLEAN_TEST_DIR}/debug"
}

ocr {
  enabled        = true
  languages      = ["ara", "eng"]
  min_confidence = 0.7
  whitelist      = "0123456789"
  variables      = { preserve_interword_spaces = "1" }
}

report {
  format   = "md"
  language = "tr"
}
`

func TestParseFullProfile(t *testing.T) {
	t.Setenv("SCANCLEAN_TEST_DIR", "/tmp/scans")
	p, err := Parse([]byte(fullProfile), "full.hcl")
	require.NoError(t, err)

	var opts clean.Options
	require.NoError(t, p.Apply(&opts))
	assert.Equal(t, float64(clean.DPIHigh), opts.DPI)
	assert.Equal(t, edit.CenterRaster, opts.Center)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, "page.number > 1", opts.Select)
	assert.True(t, opts.ObjectStreams)
	assert.True(t, opts.Debug)
	assert.Equal(t, 4, opts.DebugPages)
	assert.Equal(t, "/tmp/scans/debug", opts.DebugDir)

	want := cleaner.DefaultParams()
	want.Threshold = 190
	want.LineKernel = cleaner.Size{W: 40, H: 1}
	want.Padding = 12
	assert.Equal(t, want, opts.Params)

	enabled, ocrCfg := p.OCRConfig()
	assert.True(t, enabled)
	assert.Equal(t, []string{"ara", "eng"}, ocrCfg.Languages)
	assert.Equal(t, 0.7, ocrCfg.MinConfidence)
	assert.Equal(t, 2, ocrCfg.MinWords)
	assert.Equal(t, "0123456789", ocrCfg.Whitelist)
	assert.Equal(t, map[string]string{"preserve_interword_spaces": "1"}, ocrCfg.Variables)

	ro, err := p.ReportOptions()
	require.NoError(t, err)
	assert.Equal(t, report.FormatMarkdown, ro.Format)
	assert.Equal(t, report.Turkish, ro.Language)
}

func TestEmptyProfileKeepsOptions(t *testing.T) {
	p, err := Parse(nil, "empty.hcl")
	require.NoError(t, err)
	opts := clean.Options{DPI: 150, Center: edit.CenterShift}
	require.NoError(t, p.Apply(&opts))
	assert.Equal(t, clean.Options{DPI: 150, Center: edit.CenterShift}, opts)

	enabled, _ := p.OCRConfig()
	assert.False(t, enabled)
	ro, err := p.ReportOptions()
	require.NoError(t, err)
	assert.Equal(t, report.FormatText, ro.Format)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	src := `
dpi     = 5000
center  = "diagonal"
workers = -1

detection {
  threshold   = 300
  line_kernel = [1, 2, 3]
}

report {
  format = "pdf"
}
`
	_, err := Parse([]byte(src), "bad.hcl")
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, want := range []string{"dpi 5000", "diagonal", "workers", "threshold 300", "line_kernel", "pdf"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("dpi = "), "syntax.hcl")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Parse([]byte(`unknown = 1`), "unknown.hcl")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fast.hcl")
	require.NoError(t, os.WriteFile(path, []byte("dpi = preset.fast\ncenter = \"off\"\n"), 0o644))
	p, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, p.DPI)
	assert.Equal(t, 150.0, *p.DPI)
}

func TestEvalContext(t *testing.T) {
	ctx := EvalContext([]string{"HOME=/home/user", "EMPTY=", "broken"})
	env := ctx.Variables["env"]
	assert.Equal(t, cty.StringVal("/home/user"), env.Index(cty.StringVal("HOME")))
	assert.Equal(t, cty.StringVal(""), env.Index(cty.StringVal("EMPTY")))
	assert.Equal(t, 2, env.LengthInt())

	empty := EvalContext(nil).Variables["env"]
	assert.Equal(t, 0, empty.LengthInt())
}
