// Package modeltest provides an in-memory model.Model for tests.
package modeltest

import (
	"fmt"
	"sync"

	"github.com/Brownie44l1/damage-api/internal/imaging"
)

// Fake returns a fixed output for every run.
type Fake struct {
	Size   imaging.Size
	Output []float32
	Err    error

	mu     sync.Mutex
	runs   int
	last   *imaging.Tensor
	closed bool
}

// New returns a Fake expecting size x size inputs.
func New(size int, output ...float32) *Fake {
	return &Fake{Size: imaging.Size{Width: size, Height: size}, Output: output}
}

func (f *Fake) InputSize() imaging.Size { return f.Size }

func (f *Fake) OutputSize() int { return len(f.Output) }

func (f *Fake) Run(t *imaging.Tensor) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runs++
	f.last = t
	if f.Err != nil {
		return nil, f.Err
	}
	if t.Width != f.Size.Width || t.Height != f.Size.Height {
		return nil, fmt.Errorf("tensor is %dx%d, model expects %s", t.Width, t.Height, f.Size)
	}

	out := make([]float32, len(f.Output))
	copy(out, f.Output)
	return out, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Runs is the number of times Run was called.
func (f *Fake) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

// LastInput is the tensor passed to the most recent Run.
func (f *Fake) LastInput() *imaging.Tensor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
