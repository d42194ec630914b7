package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/wudi/scanclean/cleaner"
)

// ErrNoEngine is returned when verification is requested but only the no-op
// engine is registered.
var ErrNoEngine = errors.New("no OCR engine available (build with -tags tesseract)")

type VerifierConfig struct {
	Engine    Engine
	Languages []string
	// MinConfidence is the minimum mean word confidence in [0,1].
	MinConfidence float64
	MinWords      int
	DPI           int
	// PSM is the Tesseract page segmentation mode; 6 treats the block as
	// one uniform block of text.
	PSM int
	// Whitelist restricts recognised characters when set.
	Whitelist string
	// Variables are passed to the engine as is.
	Variables map[string]string
}

func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		Languages:     []string{"ara"},
		MinConfidence: 0.5,
		MinWords:      2,
		PSM:           6,
	}
}

// Verifier confirms candidate blocks by recognising them. It implements
// cleaner.BlockVerifier.
type Verifier struct {
	cfg VerifierConfig
}

var _ cleaner.BatchVerifier = (*Verifier)(nil)

// NewVerifier uses the default engine when cfg.Engine is nil.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Engine == nil {
		if !Available() {
			return nil, ErrNoEngine
		}
		cfg.Engine = DefaultEngine()
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"ara"}
	}
	if cfg.MinWords < 1 {
		cfg.MinWords = 1
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence %v outside [0,1]", cfg.MinConfidence)
	}
	return &Verifier{cfg: cfg}, nil
}

func (v *Verifier) VerifyBlock(ctx context.Context, gray *image.Gray, block cleaner.Rect) (bool, error) {
	ok, err := v.VerifyBlocks(ctx, gray, []cleaner.Rect{block})
	if err != nil {
		return false, err
	}
	return ok[0], nil
}

// VerifyBlocks recognises all blocks of one page in a single engine batch.
func (v *Verifier) VerifyBlocks(ctx context.Context, gray *image.Gray, blocks []cleaner.Rect) ([]bool, error) {
	verdicts := make([]bool, len(blocks))
	inputs := make([]Input, 0, len(blocks))
	index := make([]int, 0, len(blocks))
	origin := gray.Bounds().Min
	for i, block := range blocks {
		sub := gray.SubImage(image.Rect(block.X0, block.Y0, block.X1, block.Y1).Add(origin))
		if sub.Bounds().Empty() {
			continue
		}
		in, err := InputFromImage(fmt.Sprintf("block-%d-%d", block.X0, block.Y0), sub, v.options()...)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
		index = append(index, i)
	}
	if len(inputs) == 0 {
		return verdicts, nil
	}
	results, err := RecognizeAll(ctx, v.cfg.Engine, inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", v.cfg.Engine.Name(), err)
	}
	if len(results) != len(inputs) {
		return nil, fmt.Errorf("%s: %d results for %d blocks", v.cfg.Engine.Name(), len(results), len(inputs))
	}
	for i, res := range results {
		verdicts[index[i]] = v.accept(res)
	}
	return verdicts, nil
}

func (v *Verifier) options() []InputOption {
	opts := []InputOption{WithMetadata(v.cfg.Variables), WithLanguages(v.cfg.Languages...), WithDPI(v.cfg.DPI)}
	if v.cfg.PSM > 0 {
		opts = append(opts, WithTesseractPSM(v.cfg.PSM))
	}
	if v.cfg.Whitelist != "" {
		opts = append(opts, WithTesseractWhitelist(v.cfg.Whitelist))
	}
	return opts
}

func (v *Verifier) accept(res Result) bool {
	var (
		n   int
		sum float64
	)
	for _, w := range res.Words() {
		if w.Text == "" {
			continue
		}
		n++
		sum += w.Confidence
	}
	if n < v.cfg.MinWords {
		return false
	}
	return sum/float64(n) >= v.cfg.MinConfidence
}
