package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
)

var (
	mu            sync.RWMutex
	defaultEngine Engine = noopEngine{}
)

// DefaultEngine returns the registered engine. Without the tesseract build
// tag it is a no-op engine that recognises nothing.
func DefaultEngine() Engine {
	mu.RLock()
	defer mu.RUnlock()
	return defaultEngine
}

func SetDefaultEngine(engine Engine) {
	mu.Lock()
	defer mu.Unlock()
	defaultEngine = engine
}

// Available reports whether a real engine is registered.
func Available() bool {
	_, noop := DefaultEngine().(noopEngine)
	return !noop
}

// InputFromImage encodes img as PNG.
func InputFromImage(id string, img image.Image, opts ...InputOption) (Input, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Input{}, fmt.Errorf("encode %s: %w", id, err)
	}
	in := Input{ID: id, Image: buf.Bytes(), Format: ImageFormatPNG}
	for _, opt := range opts {
		opt(&in)
	}
	return in, nil
}

// RecognizeAll runs every input through engine, batching when the engine
// supports it.
func RecognizeAll(ctx context.Context, engine Engine, inputs []Input) ([]Result, error) {
	if b, ok := engine.(BatchEngine); ok {
		return b.RecognizeBatch(ctx, inputs)
	}
	results := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

type noopEngine struct{}

func (noopEngine) Name() string { return "noop" }

func (noopEngine) Recognize(_ context.Context, input Input) (Result, error) {
	return Result{InputID: input.ID}, nil
}
