package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/store"
)

func newTestStream(t *testing.T) (*Stream, *flakyStore) {
	t.Helper()
	st, err := store.NewChromemStore("", "stream", 4)
	require.NoError(t, err)
	fs := &flakyStore{Store: st}
	return NewStream(fs), fs
}

func memoryAt(content string, at time.Time) models.Memory {
	m := models.NewMemory(content, at, models.SourceDailyLog, 0.5, nil)
	m.Embedding = []float32{1, 0, 0, 0}
	return m
}

func TestStreamAppend(t *testing.T) {
	s, fs := newTestStream(t)
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	a := memoryAt("first", base.Add(time.Hour))
	b := memoryAt("second", base)
	require.NoError(t, s.Append(context.Background(), a))
	require.NoError(t, s.Append(context.Background(), b))

	assert.Equal(t, 2, s.Len())
	snap := s.Snapshot()
	assert.Equal(t, "first", snap[0].Content, "append order is kept")
	assert.Nil(t, snap[0].Embedding)

	stored, err := fs.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	got, ok := s.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, "second", got.Content)
}

func TestStreamAppendStoreFailure(t *testing.T) {
	s, fs := newTestStream(t)
	fs.failPut = true

	err := s.Append(context.Background(), memoryAt("lost", time.Now()))
	require.ErrorIs(t, err, ErrAdapterFailure)
	assert.Equal(t, 0, s.Len())
}

func TestStreamAppendCanceled(t *testing.T) {
	s, fs := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Append(ctx, memoryAt("late", time.Now()))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len())

	stored, err := fs.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestStreamInitializeSortsByCreated(t *testing.T) {
	s, _ := newTestStream(t)
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	late := memoryAt("late", base.Add(48*time.Hour))
	early := memoryAt("early", base)

	s.Initialize([]models.Memory{late, early})
	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "early", snap[0].Content)

	recent := s.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "late", recent[0].Content)
}

func TestStreamRemoveAndReset(t *testing.T) {
	s, _ := newTestStream(t)
	a, b := memoryAt("a", time.Now()), memoryAt("b", time.Now())
	s.Initialize([]models.Memory{a, b})

	s.Remove(a.ID, "unknown")
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get(a.ID)
	assert.False(t, ok)
	_, ok = s.Get(b.ID)
	assert.True(t, ok)

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Recent(5))
}

func TestStreamTouchClampsToCreated(t *testing.T) {
	s, _ := newTestStream(t)
	created := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)
	m := memoryAt("future", created)
	s.Initialize([]models.Memory{m})

	touched := s.touch([]string{m.ID}, created.Add(-time.Hour))
	require.Len(t, touched, 1)
	assert.Equal(t, created, touched[0].LastAccessedAt)
}
