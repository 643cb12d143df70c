package client

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automlhub/api/internal/apperrors"
)

func TestMemoryStorePutGet(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore("bucket")
	ctx := t.Context()

	require.NoError(t, s.Put(ctx, "projects/p1/project.json", strings.NewReader(`{"id":"p1"}`), "application/json"))

	rc, err := s.Get(ctx, "projects/p1/project.json")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, `{"id":"p1"}`, string(data))
}

func TestMemoryStoreGetMissing(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore("bucket")

	_, err := s.Get(t.Context(), "nope")
	assert.True(t, errors.Is(err, apperrors.ErrStorage))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestMemoryStoreList(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore("bucket")
	ctx := t.Context()
	for _, k := range []string{"projects/a/project.json", "projects/a/jobs.json", "projects/b/project.json", "other/x"} {
		require.NoError(t, s.Put(ctx, k, strings.NewReader("{}"), "application/json"))
	}

	shallow, err := s.List(ctx, "projects/", false)
	require.NoError(t, err)
	require.Len(t, shallow, 2)
	assert.Equal(t, "projects/a/", shallow[0].Key)
	assert.True(t, shallow[0].IsPrefix)

	deep, err := s.List(ctx, "projects/a/", true)
	require.NoError(t, err)
	assert.Len(t, deep, 2)
}

func TestMemoryStoreCopyAndDeleteBatch(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore("bucket")
	ctx := t.Context()
	require.NoError(t, s.Put(ctx, "a.tmp", strings.NewReader("x"), "text/csv"))

	require.NoError(t, s.Copy(ctx, "a.tmp", "a"))
	require.NoError(t, s.DeleteBatch(ctx, []string{"a.tmp", "missing"}))

	assert.Equal(t, []string{"a"}, s.Keys())
	assert.True(t, errors.Is(s.Copy(ctx, "a.tmp", "b"), apperrors.ErrNotFound))
}
