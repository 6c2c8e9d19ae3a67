package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMarkdownDirSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2023", "01-02.md"), "---\ntitle: 2023-01-02\nid: notion-abc\n---\nMet @Lena for coffee at [[Blue Bottle]].\n")
	writeFile(t, filepath.Join(dir, "2023", "01-01.md"), "# January 1, 2023\n\nNew year's walk.\n")
	writeFile(t, filepath.Join(dir, "empty.md"), "---\ntitle: nothing\n---\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	src, err := SourceFor(dir)
	require.NoError(t, err)
	recs, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byID := map[string]int{}
	for i, r := range recs {
		byID[r.ExternalID] = i
	}

	r := recs[byID["notion-abc#0"]]
	assert.Equal(t, "2023-01-02", r.Title)
	assert.Equal(t, "Met @Lena for coffee at [[Blue Bottle]].", r.Content)
	assert.Equal(t, []string{"lena"}, r.Metadata[MetaMentions])
	assert.Equal(t, []string{"Blue Bottle"}, r.Metadata[MetaLinks])
	assert.Equal(t, "2023/01-02.md", r.Metadata[MetaPath])

	r = recs[byID["2023/01-01#0"]]
	assert.Equal(t, "January 1, 2023", r.Title)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), EffectiveDate(r))
}

func TestMarkdownSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.md")
	writeFile(t, path, "---\ndate: 2023-03-04\n---\nRained all day.\n")

	src, err := SourceFor(path)
	require.NoError(t, err)
	recs, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "day#0", recs[0].ExternalID)
	assert.Equal(t, time.Date(2023, 3, 4, 0, 0, 0, 0, time.UTC), recs[0].CreatedAt)
}

func TestJSONLSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.jsonl")
	lines := []string{
		`{"id":"x1","title":"2023-01-05","content":"Baked bread.","created_at":"2023-01-05T08:00:00Z","metadata":{"mood":"calm"}}`,
		``,
		`{"title":"Trip","content":"Drove to the coast.","created_at":"2023-01-06T08:00:00Z"}`,
	}
	writeFile(t, path, strings.Join(lines, "\n"))

	src, err := SourceFor(path)
	require.NoError(t, err)
	_, isJSONL := src.(*JSONLSource)
	require.True(t, isJSONL)

	recs, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "x1", recs[0].ExternalID)
	assert.Equal(t, "calm", recs[0].Metadata["mood"])
	assert.True(t, strings.HasPrefix(recs[1].ExternalID, "fnv:"))

	again, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, recs[1].ExternalID, again[1].ExternalID, "derived ids are stable")
}

func TestJSONLSourceBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	writeFile(t, path, "{not json}\n")

	_, err := (&JSONLSource{Path: path}).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.jsonl:1")
}

func TestSourceForMissingPath(t *testing.T) {
	_, err := SourceFor(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
