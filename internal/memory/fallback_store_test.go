package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
)

// unavailablePrimary always reports the durable backend as down, regardless
// of how many times it is called, so trip-once behavior can be observed.
type unavailablePrimary struct {
	calls int
}

func (p *unavailablePrimary) Store(context.Context, string, interface{}, StoreOptions) error {
	p.calls++
	return swarmerrors.ServiceUnavailable("memory")
}
func (p *unavailablePrimary) Retrieve(context.Context, string, string) (*Entry, error) {
	p.calls++
	return nil, swarmerrors.ServiceUnavailable("memory")
}
func (p *unavailablePrimary) List(context.Context, QueryOptions) ([]*Entry, error) {
	p.calls++
	return nil, swarmerrors.ServiceUnavailable("memory")
}
func (p *unavailablePrimary) Delete(context.Context, string, string) error {
	p.calls++
	return swarmerrors.ServiceUnavailable("memory")
}
func (p *unavailablePrimary) Search(context.Context, string, QueryOptions) ([]*Entry, error) {
	p.calls++
	return nil, swarmerrors.ServiceUnavailable("memory")
}
func (p *unavailablePrimary) Cleanup(context.Context) (int, error) {
	p.calls++
	return 0, swarmerrors.ServiceUnavailable("memory")
}
func (p *unavailablePrimary) Close() error { return nil }

func TestFallbackStoreTripsOnServiceUnavailableAndServesFromFallback(t *testing.T) {
	primary := &unavailablePrimary{}
	fallback := NewInMemoryStore()
	s := NewFallbackStore(primary, fallback, nil)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "k1", "v1", StoreOptions{Namespace: "ns1"}))
	assert.Equal(t, 1, primary.calls)

	entry, err := fallback.Retrieve(ctx, "k1", "ns1")
	require.NoError(t, err)
	assert.Equal(t, "v1", entry.Value)
}

func TestFallbackStoreDoesNotRetryPrimaryOnceTripped(t *testing.T) {
	primary := &unavailablePrimary{}
	fallback := NewInMemoryStore()
	s := NewFallbackStore(primary, fallback, nil)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "k1", "v1", StoreOptions{Namespace: "ns1"}))
	require.NoError(t, s.Store(ctx, "k2", "v2", StoreOptions{Namespace: "ns1"}))

	assert.Equal(t, 1, primary.calls, "primary must not be consulted again once tripped")

	entry, err := s.Retrieve(ctx, "k2", "ns1")
	require.NoError(t, err)
	assert.Equal(t, "v2", entry.Value)
}

func TestFallbackStorePassesThroughNotFoundWithoutTripping(t *testing.T) {
	primary := NewInMemoryStore()
	fallback := NewInMemoryStore()
	s := NewFallbackStore(primary, fallback, nil)

	_, err := s.Retrieve(context.Background(), "missing", "ns1")
	require.Error(t, err)
	assert.True(t, swarmerrors.IsNotFound(err))

	require.NoError(t, s.Store(context.Background(), "k1", "v1", StoreOptions{Namespace: "ns1"}))
	entry, err := primary.Retrieve(context.Background(), "k1", "ns1")
	require.NoError(t, err)
	assert.Equal(t, "v1", entry.Value, "primary must still be in use since no unavailability was observed")
}
