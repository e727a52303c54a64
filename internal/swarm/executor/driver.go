// Package executor runs a single task on a single agent via a pluggable
// AgentDriver, enforcing timeouts and a bounded exponential-backoff retry
// policy, and exposes running execution metrics.
package executor

import (
	"context"
)

// ChunkStream kind values distinguish stdout-like output from stderr-like
// output in the streamed Chunk sequence.
type ChunkKind string

const (
	ChunkStdout ChunkKind = "stdout"
	ChunkStderr ChunkKind = "stderr"
)

// Chunk is one piece of a driver's streamed output.
type Chunk struct {
	Kind ChunkKind
	Data []byte
}

// AgentDriver is the capability set the executor needs from whatever
// mechanism actually carries out a task's instructions: a subprocess, an
// HTTP call to a remote service, or (in tests) an in-process callback.
type AgentDriver interface {
	// Invoke starts execution of instructions and returns a channel of
	// streamed output chunks, closed when the driver completes or ctx is
	// cancelled. A non-nil error channel value terminates the stream.
	Invoke(ctx context.Context, instructions string) (<-chan Chunk, <-chan error)

	// Cancel requests the in-flight Invoke call stop as soon as possible.
	// Safe to call multiple times and safe to call when nothing is running.
	Cancel()

	// Metadata identifies the driver implementation for audit/logging.
	Metadata() DriverMetadata
}

// DriverMetadata identifies a driver implementation.
type DriverMetadata struct {
	Type    string
	Version string
}

// TerminalError, when returned by a driver's error channel, tells the
// executor to mark the task failed immediately rather than retry — e.g. the
// instructions were rejected as malformed before any work began.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the executor treats it as non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}
