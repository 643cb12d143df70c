package store

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/logging"
)

// delayedStore hides objects until a number of reads have been made.
type delayedStore struct {
	*client.MemoryStore
	visibleAfter int32
	failWith     error
	gets         atomic.Int32
}

func (d *delayedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	n := d.gets.Add(1)
	if d.failWith != nil {
		return nil, d.failWith
	}
	if d.visibleAfter > 0 && n < d.visibleAfter {
		return nil, apperrors.Storage("memory.Get", key, apperrors.NotFound("object", key))
	}
	return d.MemoryStore.Get(ctx, key)
}

func newDelayedStore(t *testing.T, visibleAfter int32) *delayedStore {
	t.Helper()
	mem := client.NewMemoryStore("bucket")
	require.NoError(t, mem.Put(t.Context(), "p/data/x.csv.tmp", strings.NewReader("a,b\n1,2\n"), "text/csv"))
	return &delayedStore{MemoryStore: mem, visibleAfter: visibleAfter}
}

func TestFetchSucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()
	s := newDelayedStore(t, 3)
	f := NewFetcher(s, time.Millisecond, 60, nil, logging.Discard())

	rc, err := f.Fetch(t.Context(), "p/data/x.csv.tmp")
	require.NoError(t, err)
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	assert.Equal(t, "a,b\n1,2\n", string(data))
	assert.Equal(t, int32(3), s.gets.Load())
}

func TestFetchGivesUpAfterBudget(t *testing.T) {
	t.Parallel()
	s := newDelayedStore(t, 0)
	f := NewFetcher(s, time.Millisecond, 60, nil, logging.Discard())

	_, err := f.Fetch(t.Context(), "p/data/missing.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStorage))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Equal(t, int32(60), s.gets.Load())
}

func TestFetchAbortsOnOtherErrors(t *testing.T) {
	t.Parallel()
	s := newDelayedStore(t, 0)
	s.failWith = apperrors.Storage("memory.Get", "k", errors.New("access denied"))
	f := NewFetcher(s, time.Millisecond, 60, nil, logging.Discard())

	_, err := f.Fetch(t.Context(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Equal(t, int32(1), s.gets.Load())
}

func TestFetchStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	s := newDelayedStore(t, 0)
	f := NewFetcher(s, 50*time.Millisecond, 60, nil, logging.Discard())

	ctx, cancel := context.WithTimeout(t.Context(), 120*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, "p/data/missing.csv")
	require.Error(t, err)
	assert.Less(t, s.gets.Load(), int32(60))
}

func TestFetcherDefaults(t *testing.T) {
	t.Parallel()
	f := NewFetcher(client.NewMemoryStore("b"), 0, 0, nil, nil)
	assert.Equal(t, DefaultFetchMaxAttempts, f.Attempts())
	assert.Equal(t, DefaultFetchInterval, f.interval)
}
