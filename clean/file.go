package clean

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wudi/scanclean/debugimg"
)

// OutputPrefix is prepended to the input name by DefaultOutputPath.
const OutputPrefix = "cleaned_"

// DefaultOutputPath returns <dir of in>/output/cleaned_<name of in>.
func DefaultOutputPath(in string) string {
	return filepath.Join(filepath.Dir(in), "output", OutputPrefix+filepath.Base(in))
}

// ProcessFile cleans the PDF at in and writes it to out, or to
// DefaultOutputPath(in) when out is empty. The output directory is
// created; the output file only appears once writing succeeded.
func (p *Processor) ProcessFile(ctx context.Context, in, out string) (Report, error) {
	if out == "" {
		out = DefaultOutputPath(in)
	}
	report := Report{Input: in, Output: out}
	if same, err := samePath(in, out); err != nil {
		return report, err
	} else if same {
		return report, fmt.Errorf("output %s would overwrite the input", out)
	}

	f, err := os.Open(in)
	if err != nil {
		return report, err
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return report, fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(out), ".clean-*.pdf")
	if err != nil {
		return report, err
	}
	defer os.Remove(tmp.Name())

	debugDir := p.opts.DebugDir
	if p.opts.Debug && debugDir == "" {
		debugDir = debugimg.Dir(in)
	}
	res, err := p.process(ctx, f, tmp, debugDir)
	res.Input, res.Output = in, out
	if err != nil {
		tmp.Close()
		return res, err
	}
	if err := tmp.Close(); err != nil {
		return res, err
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return res, fmt.Errorf("move output into place: %w", err)
	}
	return res, nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
