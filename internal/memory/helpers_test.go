package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/mindstream/internal/embedding"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/store"
)

const testDim = 64

// fakeLLM routes prompts to canned replies by their kind.
type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	rating   string
	topics   string
	insights string
	err      error
	topicErr error
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		rating:   "5",
		topics:   "1. What does the agent enjoy?\n2. Where does the agent spend time?",
		insights: "",
	}
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	switch {
	case strings.Contains(prompt, "most salient high-level questions"):
		if f.topicErr != nil {
			return "", f.topicErr
		}
		return f.topics, nil
	case strings.Contains(prompt, "high-level novel insights"):
		return f.insights, nil
	case strings.Contains(prompt, "Rating:"):
		return f.rating, nil
	}
	return "", errors.New("unexpected prompt")
}

func (f *fakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingEmbedder counts embedding calls.
type countingEmbedder struct {
	embedding.Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.Embedder.Embed(ctx, text)
}

// flakyStore fails selected operations of an underlying store.
type flakyStore struct {
	store.Store
	failPut   bool
	failTouch bool
}

func (s *flakyStore) Put(ctx context.Context, m models.Memory) error {
	if s.failPut {
		return errors.New("store unavailable")
	}
	return s.Store.Put(ctx, m)
}

func (s *flakyStore) TouchAccessed(ctx context.Context, ids []string, at time.Time) error {
	if s.failTouch {
		return errors.New("store unavailable")
	}
	return s.Store.TouchAccessed(ctx, ids, at)
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2023, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mem      *Memory
	store    *flakyStore
	llm      *fakeLLM
	embedder *countingEmbedder
	clock    *testClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st, err := store.NewChromemStore("", "test", testDim)
	require.NoError(t, err)

	f := &fixture{
		store:    &flakyStore{Store: st},
		llm:      newFakeLLM(),
		embedder: &countingEmbedder{Embedder: embedding.NewHashEmbedder(testDim)},
		clock:    newTestClock(),
	}
	f.mem = New(f.store, f.embedder, f.llm, cfg, WithClock(f.clock.Now))
	return f
}

func (f *fixture) add(t *testing.T, content string, at time.Time) models.Memory {
	t.Helper()
	m, err := f.mem.Add(context.Background(), content, at, models.SourceDailyLog, nil)
	require.NoError(t, err)
	return m
}
