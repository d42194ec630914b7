// Package ocr defines a small OCR engine contract and a block verifier that
// uses it to confirm that candidate content regions contain text.
package ocr

import "context"

type ImageFormat string

const ImageFormatPNG ImageFormat = "image/png"

// Region is a rectangle in pixel coordinates, origin top-left.
type Region struct {
	X, Y, Width, Height float64
}

func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Input is a single image submitted for recognition.
type Input struct {
	// ID is echoed back in Result.InputID.
	ID     string
	Image  []byte
	Format ImageFormat
	// DPI of the image; zero means unknown.
	DPI int
	// Languages are trained-data names such as "ara" or "eng".
	Languages []string
	// Metadata carries engine-specific variables (see WithTesseractPSM).
	Metadata map[string]string
}

type TextWord struct {
	Text       string
	Bounds     Region
	Confidence float64
}

type TextLine struct {
	Text       string
	Bounds     Region
	Words      []TextWord
	Confidence float64
}

type TextBlock struct {
	Text       string
	Bounds     Region
	Lines      []TextLine
	Confidence float64
}

type Result struct {
	InputID   string
	PlainText string
	Blocks    []TextBlock
	Language  string
}

// Words flattens every recognised word in r.
func (r Result) Words() []TextWord {
	var out []TextWord
	for _, b := range r.Blocks {
		for _, l := range b.Lines {
			out = append(out, l.Words...)
		}
	}
	return out
}

// Engine recognises one image at a time.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}

// BatchEngine amortises setup across several images.
type BatchEngine interface {
	Engine
	RecognizeBatch(ctx context.Context, inputs []Input) ([]Result, error)
}
