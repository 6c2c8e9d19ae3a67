package parser

import (
	"strings"
	"testing"
)

func TestChunkMarkdown_ShortAndEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantLen int
	}{
		{"completely empty", "", 0},
		{"whitespace only", "   \n\n\t  ", 0},
		{"frontmatter only", "---\ntitle: x\n---\n", 0},
		{"short entry", "# 2023-01-01\n\nWent for a run.", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseMarkdown(tt.content)
			if err != nil {
				t.Fatalf("ParseMarkdown() error = %v", err)
			}
			chunks := ChunkMarkdown(doc, DefaultChunkConfig())
			if len(chunks) != tt.wantLen {
				t.Errorf("ChunkMarkdown() got %d chunks, want %d", len(chunks), tt.wantLen)
			}
		})
	}
}

func TestChunkMarkdown_SectionsBecomeChunks(t *testing.T) {
	morning := strings.Repeat("Walked the dog around the lake and watched the sunrise. ", 10)
	evening := strings.Repeat("Cooked dinner with Lena and talked about the wedding. ", 10)
	content := "# Morning\n\n" + morning + "\n\n# Evening\n\n" + evening + "\n\n## Late\n\nSlept."

	doc, _ := ParseMarkdown(content)
	cfg := DefaultChunkConfig()
	chunks := ChunkMarkdown(doc, cfg)

	if len(chunks) != 2 {
		for i, c := range chunks {
			t.Logf("chunk[%d] %q: %d bytes", i, c.HeadingPath, len(c.Content))
		}
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].HeadingPath != "# Morning" || chunks[1].HeadingPath != "# Evening" {
		t.Errorf("heading paths = %q, %q", chunks[0].HeadingPath, chunks[1].HeadingPath)
	}
	for i, c := range chunks {
		if c.Position != i {
			t.Errorf("chunk[%d].Position = %d", i, c.Position)
		}
		if len(c.Content) > cfg.MaxSize {
			t.Errorf("chunk[%d] is %d bytes, max %d", i, len(c.Content), cfg.MaxSize)
		}
	}
}

func TestChunkMarkdown_LongParagraphSplitsAtSentences(t *testing.T) {
	para := strings.Repeat("This sentence is about forty characters. ", 60)
	doc, _ := ParseMarkdown(para)
	cfg := DefaultChunkConfig()
	chunks := ChunkMarkdown(doc, cfg)

	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Content) > cfg.MaxSize {
			t.Errorf("chunk[%d] is %d bytes", i, len(c.Content))
		}
		if !strings.HasSuffix(c.Content, ".") {
			t.Errorf("chunk[%d] does not end at a sentence: %q", i, c.Content[len(c.Content)-10:])
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Met J. Smith today. Was it fun? Yes!")
	want := []string{"Met J. Smith today.", " Was it fun?", " Yes!"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPack(t *testing.T) {
	got := pack([]string{"aaaa", "bbbb", "", "cccc"}, 10, " ")
	if len(got) != 2 || got[0] != "aaaa bbbb" || got[1] != "cccc" {
		t.Errorf("pack() = %q", got)
	}
}

func TestApplyOverlap(t *testing.T) {
	chunks := []ChunkResult{
		{Content: "the quick brown fox jumps"},
		{Content: "over the lazy dog"},
	}
	got := applyOverlap(chunks, 10)
	if got[0].Content != chunks[0].Content {
		t.Errorf("first chunk changed: %q", got[0].Content)
	}
	if got[1].Content != "fox jumps over the lazy dog" {
		t.Errorf("second chunk = %q", got[1].Content)
	}
	if out := applyOverlap(chunks, 0); out[1].Content != "over the lazy dog" {
		t.Errorf("zero overlap modified chunks")
	}
}
