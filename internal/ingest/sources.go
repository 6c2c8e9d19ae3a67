package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/parser"
)

// LogSource loads external daily-log records.
type LogSource interface {
	Load(ctx context.Context) ([]models.ExternalRecord, error)
}

// Metadata keys set by the markdown source.
const (
	MetaPageID   = "page_id"
	MetaPath     = "path"
	MetaHeading  = "heading"
	MetaMentions = "mentions"
	MetaLinks    = "links"
)

// SourceFor picks a source by path: .jsonl/.ndjson files are JSON lines,
// anything else is treated as markdown (a single file or a directory tree).
func SourceFor(path string) (LogSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jsonl", ".ndjson":
			return &JSONLSource{Path: path}, nil
		}
	}
	return &MarkdownDirSource{Dir: path, Chunk: parser.DefaultChunkConfig()}, nil
}

// MarkdownDirSource reads markdown pages under Dir. Each page is split into
// chunks; a chunk's external id is "<page id>#<position>".
//
// Recognized frontmatter: title, id, date, created.
type MarkdownDirSource struct {
	Dir   string
	Chunk parser.ChunkConfig
}

// Load walks Dir in lexical order.
func (s *MarkdownDirSource) Load(ctx context.Context) ([]models.ExternalRecord, error) {
	var out []models.ExternalRecord
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isMarkdown(path) {
			return nil
		}
		recs, err := s.loadPage(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		out = append(out, recs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MarkdownDirSource) loadPage(path string) ([]models.ExternalRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	doc, err := parser.ParseMarkdown(string(raw))
	if err != nil {
		return nil, err
	}

	rel, err := filepath.Rel(s.Dir, path)
	if err != nil || rel == "." {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)

	pageID := doc.GetFrontmatterString("id")
	if pageID == "" {
		pageID = strings.TrimSuffix(rel, filepath.Ext(rel))
	}

	created := info.ModTime().UTC()
	if t, ok := doc.GetFrontmatterTime("created"); ok {
		created = t
	}
	if t, ok := doc.GetFrontmatterTime("date"); ok {
		created = t
	}

	title := doc.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	cfg := s.Chunk
	if cfg.MaxSize == 0 {
		cfg = parser.DefaultChunkConfig()
	}

	chunks := parser.ChunkMarkdown(doc, cfg)
	recs := make([]models.ExternalRecord, 0, len(chunks))
	for _, c := range chunks {
		md := map[string]any{
			MetaPageID: pageID,
			MetaPath:   rel,
		}
		if c.HeadingPath != "" {
			md[MetaHeading] = c.HeadingPath
		}
		if mentions := parser.ExtractMentions(c.Content); len(mentions) > 0 {
			md[MetaMentions] = mentions
		}
		if links := parser.ExtractWikiLinks(c.Content); len(links) > 0 {
			md[MetaLinks] = links
		}
		recs = append(recs, models.ExternalRecord{
			ExternalID: fmt.Sprintf("%s#%d", pageID, c.Position),
			Title:      title,
			Content:    c.Content,
			CreatedAt:  created,
			Metadata:   md,
		})
	}
	return recs, nil
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// JSONLSource reads one JSON record per line.
type JSONLSource struct {
	Path string
}

type jsonlRecord struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

// Load parses the file. Records without an id get one derived from their
// title and content so re-ingesting the file stays idempotent.
func (s *JSONLSource) Load(ctx context.Context) ([]models.ExternalRecord, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer f.Close()

	var out []models.ExternalRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var r jsonlRecord
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.Path, line, err)
		}
		if r.ID == "" {
			r.ID = contentID(r.Title, r.Content)
		}
		out = append(out, models.ExternalRecord{
			ExternalID: r.ID,
			Title:      r.Title,
			Content:    r.Content,
			CreatedAt:  r.CreatedAt,
			Metadata:   r.Metadata,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return out, nil
}

func contentID(title, content string) string {
	h := fnv.New64a()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return fmt.Sprintf("fnv:%016x", h.Sum64())
}
