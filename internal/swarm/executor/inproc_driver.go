package executor

import (
	"context"
	"sync"
)

// InProcFunc is the callback an InProcDriver invokes in place of a real
// subprocess or HTTP call; it receives instructions and a cancellable
// context and returns the simulated output plus an error.
type InProcFunc func(ctx context.Context, instructions string) (output string, err error)

// InProcDriver runs an in-process callback instead of spawning a real
// agent, used by tests to exercise the executor's retry/timeout/metrics
// logic deterministically.
type InProcDriver struct {
	fn InProcFunc

	mu       sync.Mutex
	cancelFn context.CancelFunc
}

// NewInProcDriver wraps fn as an AgentDriver.
func NewInProcDriver(fn InProcFunc) *InProcDriver {
	return &InProcDriver{fn: fn}
}

func (d *InProcDriver) Invoke(ctx context.Context, instructions string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errc := make(chan error, 1)

	invokeCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancelFn = cancel
	d.mu.Unlock()

	go func() {
		defer close(chunks)
		defer close(errc)
		defer cancel()

		output, err := d.fn(invokeCtx, instructions)
		if output != "" {
			chunks <- Chunk{Kind: ChunkStdout, Data: []byte(output)}
		}
		errc <- err
	}()

	return chunks, errc
}

func (d *InProcDriver) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelFn != nil {
		d.cancelFn()
	}
}

func (d *InProcDriver) Metadata() DriverMetadata {
	return DriverMetadata{Type: "in_process", Version: "1"}
}
