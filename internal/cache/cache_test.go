package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/model"
)

type frame struct {
	refreshed int
}

func (f *frame) Refresh() { f.refreshed++ }

func TestGetOrLoadCachesValue(t *testing.T) {
	t.Parallel()
	c := New(10, time.Minute, nil)
	var calls atomic.Int32
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "leaderboard", nil
	}

	for range 3 {
		v, ok, err := GetOrLoad(t.Context(), c, "leaderboard@p,lb", load)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "leaderboard", v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrLoadNotFoundIsNotCached(t *testing.T) {
	t.Parallel()
	c := New(10, time.Minute, nil)

	_, ok, err := GetOrLoad(t.Context(), c, "model@p,m", func(ctx context.Context) (string, error) {
		return "", apperrors.NotFound("model", "m")
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Len())

	v, ok, err := GetOrLoad(t.Context(), c, "model@p,m", func(ctx context.Context) (string, error) {
		return "GBM_1", nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "GBM_1", v)
}

func TestGetOrLoadErrorIsNotCached(t *testing.T) {
	t.Parallel()
	c := New(10, time.Minute, nil)

	_, _, err := GetOrLoad(t.Context(), c, "k", func(ctx context.Context) (int, error) {
		return 0, errors.New("compute unavailable")
	})
	require.Error(t, err)

	v, ok, err := GetOrLoad(t.Context(), c, "k", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestGetOrLoadExpires(t *testing.T) {
	t.Parallel()
	c := New(10, 20*time.Millisecond, nil)
	var calls atomic.Int32
	load := func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}

	first, _, _ := GetOrLoad(t.Context(), c, "k", load)
	time.Sleep(60 * time.Millisecond)
	second, _, _ := GetOrLoad(t.Context(), c, "k", load)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestInvalidateAll(t *testing.T) {
	t.Parallel()
	c := New(10, time.Minute, nil)
	_, _, _ = GetOrLoad(t.Context(), c, "a", func(ctx context.Context) (int, error) { return 1, nil })
	_, _, _ = GetOrLoad(t.Context(), c, "b", func(ctx context.Context) (int, error) { return 2, nil })

	c.InvalidateAll()
	assert.Zero(t, c.Len())
}

func TestRefresherCalledOnEveryReturn(t *testing.T) {
	t.Parallel()
	c := New(10, time.Minute, nil)
	f := &frame{}
	load := func(ctx context.Context) (*frame, error) { return f, nil }

	_, _, _ = GetOrLoad(t.Context(), c, "frame@f,0,10", load)
	_, _, _ = GetOrLoad(t.Context(), c, "frame@f,0,10", load)

	assert.Equal(t, 2, f.refreshed)
}

func TestConcurrentMissesShareLoad(t *testing.T) {
	t.Parallel()
	c := New(10, time.Minute, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, _ := GetOrLoad(context.Background(), c, "summary@p,f", load)
			results[i] = v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestConcurrentHitsShareFrame(t *testing.T) {
	t.Parallel()
	c := New(10, time.Minute, nil)
	shared := &model.Frame{
		FrameID: model.Key{Name: "p1_ds.hex"},
		Columns: []model.Column{{Label: "age"}, {Label: "churned"}},
	}
	load := func(ctx context.Context) (*model.Frame, error) { return shared, nil }
	_, _, err := GetOrLoad(t.Context(), c, "summary@p1,p1_ds.hex", load)
	require.NoError(t, err)

	var wg sync.WaitGroup
	found := make([]bool, 8)
	for i := range found {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, ok, err := GetOrLoad(context.Background(), c, "summary@p1,p1_ds.hex", load)
			if err != nil || !ok {
				return
			}
			col, ok := f.Column("churned")
			found[i] = ok && col.Label == "churned"
		}()
	}
	wg.Wait()

	for i, ok := range found {
		assert.True(t, ok, "reader %d", i)
	}
}
