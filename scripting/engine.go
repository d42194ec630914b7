// Package scripting evaluates user-supplied JavaScript with goja.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// ErrCompile wraps syntax errors in user scripts.
var ErrCompile = errors.New("script does not compile")

// Engine runs programs on a single goja runtime. Calls are serialised.
type Engine struct {
	mu sync.Mutex
	vm *goja.Runtime
}

func NewEngine() *Engine {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("js", true))
	return &Engine{vm: vm}
}

// Compile parses src once so that syntax errors surface early.
func Compile(name, src string) (*goja.Program, error) {
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return prog, nil
}

// Run executes prog with globals set, interrupting the runtime when ctx is
// done.
func (e *Engine) Run(ctx context.Context, prog *goja.Program, globals map[string]any) (goja.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for k, v := range globals {
		if err := e.vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}

	done := make(chan struct{})
	defer close(done)
	defer e.vm.ClearInterrupt()
	go func() {
		select {
		case <-ctx.Done():
			e.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := e.vm.RunProgram(prog)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause := interrupted.Unwrap(); cause != nil {
				return nil, cause
			}
			return nil, context.Canceled
		}
		return nil, err
	}
	return val, nil
}

// Execute compiles and runs src, returning the exported result.
func (e *Engine) Execute(ctx context.Context, src string) (any, error) {
	prog, err := Compile("script", src)
	if err != nil {
		return nil, err
	}
	val, err := e.Run(ctx, prog, nil)
	if err != nil {
		return nil, err
	}
	return val.Export(), nil
}
