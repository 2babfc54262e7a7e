package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	val := []byte("v1")
	require.NoError(t, s.Set(ctx, "k", val, 0))
	val[0] = 'x'
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	require.NoError(t, s.Set(ctx, "ttl", []byte("v2"), time.Minute))
	now = now.Add(59 * time.Second)
	_, err = s.Get(ctx, "ttl")
	require.NoError(t, err)
	now = now.Add(time.Second)
	_, err = s.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "missing"))
}

func TestProvider_Match(t *testing.T) {
	assert.True(t, TBC_INSTALLMENT.Match("tbc_installment"))
	assert.False(t, UNKNOWN_PROVIDER.Match(TBC_INSTALLMENT))
}
