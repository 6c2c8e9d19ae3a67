// Package db provides integration tests for SurrealDB operations.
package db

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testDimension = 8

var (
	testDB        *Client
	testContainer testcontainers.Container
	testMetrics   = metrics.NewCollector()
)

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	flag.Parse()
	// Integration tests need docker; -short skips the container entirely.
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
		Dimension: testDimension,
	}, nil, testMetrics)
	if err != nil {
		log.Fatalf("Failed to open test store: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// resetDB clears memories so each test starts from an empty table.
func resetDB(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.DeleteAll(context.Background()))
}

// unitVector returns a basis vector along axis i.
func unitVector(i int) []float32 {
	v := make([]float32, testDimension)
	v[i%testDimension] = 1
	return v
}

func newTestMemory(content string, created time.Time, source models.Source, axis int) models.Memory {
	m := models.NewMemory(content, created, source, 0.4, map[string]any{models.MetaExternalID: "ext-" + content})
	m.Embedding = unitVector(axis)
	return m
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	require.NoError(t, testDB.InitSchema(ctx, testDimension))

	result, err := testDB.Query(ctx, "INFO FOR DB", nil)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestPutAndListAll(t *testing.T) {
	skipShort(t)
	resetDB(t)
	ctx := context.Background()

	created := time.Date(2023, 1, 1, 8, 30, 0, 0, time.UTC)
	m := newTestMemory("had coffee with Lena", created, models.SourceDailyLog, 0)
	require.NoError(t, testDB.Put(ctx, m))

	// Upsert with same ID must not duplicate
	require.NoError(t, testDB.Put(ctx, m))

	all, err := testDB.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got := all[0]
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "had coffee with Lena", got.Content)
	assert.Equal(t, models.SourceDailyLog, got.Source)
	assert.InDelta(t, 0.4, got.Importance, 1e-9)
	assert.True(t, got.CreatedAt.Equal(created), "created %v", got.CreatedAt)
	assert.Equal(t, "ext-had coffee with Lena", got.ExternalID())
}

func TestListAllOrderedByCreated(t *testing.T) {
	skipShort(t)
	resetDB(t)
	ctx := context.Background()

	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, testDB.Put(ctx, newTestMemory("second", base.Add(24*time.Hour), models.SourceDailyLog, 1)))
	require.NoError(t, testDB.Put(ctx, newTestMemory("first", base, models.SourceDailyLog, 2)))

	all, err := testDB.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].Content)
	assert.Equal(t, "second", all[1].Content)
}

func TestPutRejectsWrongDimension(t *testing.T) {
	skipShort(t)
	resetDB(t)

	m := models.NewMemory("bad vector", time.Now(), models.SourceCore, 0.5, nil)
	m.Embedding = []float32{1, 2, 3}
	assert.Error(t, testDB.Put(context.Background(), m))
}

func TestSimilaritySearch(t *testing.T) {
	skipShort(t)
	resetDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, content := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, testDB.Put(ctx, newTestMemory(content, now, models.SourceDailyLog, i)))
	}

	results, err := testDB.SimilaritySearch(ctx, unitVector(1), 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, "beta", results[0].Memory.Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
	}

	assert.NotNil(t, testMetrics.Snapshot().Operation(metrics.OpStoreSearch))
}

func TestDeleteByIDs(t *testing.T) {
	skipShort(t)
	resetDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	keep := newTestMemory("keep", now, models.SourceCore, 0)
	drop := newTestMemory("drop", now, models.SourceConversation, 1)
	require.NoError(t, testDB.Put(ctx, keep))
	require.NoError(t, testDB.Put(ctx, drop))

	require.NoError(t, testDB.DeleteByIDs(ctx, []string{drop.ID, "01HZZZZZZZZZZZZZZZZZZZZZZZ"}))

	all, err := testDB.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep.ID, all[0].ID)

	results, err := testDB.SimilaritySearch(ctx, unitVector(1), 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, drop.ID, r.Memory.ID)
	}
}

func TestTouchAccessed(t *testing.T) {
	skipShort(t)
	resetDB(t)
	ctx := context.Background()

	created := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	m := newTestMemory("touched", created, models.SourceDailyLog, 3)
	require.NoError(t, testDB.Put(ctx, m))

	at := created.Add(36 * time.Hour)
	require.NoError(t, testDB.TouchAccessed(ctx, []string{m.ID}, at))

	all, err := testDB.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].LastAccessedAt.Equal(at), "accessed %v", all[0].LastAccessedAt)

	// An earlier access never moves accessed backwards.
	require.NoError(t, testDB.TouchAccessed(ctx, []string{m.ID}, created.Add(-time.Hour)))
	all, err = testDB.ListAll(ctx)
	require.NoError(t, err)
	assert.True(t, all[0].LastAccessedAt.Equal(at), "accessed %v", all[0].LastAccessedAt)

	fresh := newTestMemory("untouched", created, models.SourceDailyLog, 3)
	require.NoError(t, testDB.Put(ctx, fresh))
	require.NoError(t, testDB.TouchAccessed(ctx, []string{fresh.ID}, created.Add(-time.Hour)))
	all, err = testDB.ListAll(ctx)
	require.NoError(t, err)
	for _, got := range all {
		if got.ID == fresh.ID {
			assert.True(t, got.LastAccessedAt.Equal(created), "clamped to created, got %v", got.LastAccessedAt)
		}
	}
}

func TestDeleteAll(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	require.NoError(t, testDB.Put(ctx, newTestMemory("a", time.Now(), models.SourceCore, 0)))
	require.NoError(t, testDB.DeleteAll(ctx))

	all, err := testDB.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
