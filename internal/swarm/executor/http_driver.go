package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
)

// HTTPDriver invokes a remote agent service over HTTP, streaming the
// response body as Chunks of stdout-classified output.
type HTTPDriver struct {
	endpoint string
	client   *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHTTPDriver creates a driver that POSTs instructions to endpoint.
func NewHTTPDriver(endpoint string) *HTTPDriver {
	return &HTTPDriver{endpoint: endpoint, client: &http.Client{Timeout: 0}}
}

func (d *HTTPDriver) Invoke(ctx context.Context, instructions string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 64)
	errc := make(chan error, 1)

	invokeCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go func() {
		defer close(chunks)
		defer close(errc)
		defer cancel()

		req, err := http.NewRequestWithContext(invokeCtx, http.MethodPost, d.endpoint, bytes.NewBufferString(instructions))
		if err != nil {
			errc <- fmt.Errorf("building agent request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "text/plain")

		resp, err := d.client.Do(req)
		if err != nil {
			errc <- fmt.Errorf("calling agent service: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusBadRequest {
			errc <- Terminal(fmt.Errorf("agent service rejected instructions: status %d", resp.StatusCode))
			return
		}
		if resp.StatusCode >= 400 {
			errc <- fmt.Errorf("agent service error: status %d", resp.StatusCode)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			select {
			case chunks <- Chunk{Kind: ChunkStdout, Data: append([]byte(nil), scanner.Bytes()...)}:
			case <-invokeCtx.Done():
				errc <- invokeCtx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- fmt.Errorf("reading agent response: %w", err)
		}
	}()

	return chunks, errc
}

func (d *HTTPDriver) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *HTTPDriver) Metadata() DriverMetadata {
	return DriverMetadata{Type: "http", Version: "1"}
}
