package parser

import (
	"strings"
	"unicode"
)

// ChunkResult is one memory-sized piece of a page.
type ChunkResult struct {
	Content     string
	Position    int
	HeadingPath string
}

// ChunkConfig defines chunking parameters, in bytes.
type ChunkConfig struct {
	// Threshold: pages at or below this length stay whole.
	Threshold int
	// MaxSize: chunks are packed up to this length; longer paragraphs split at sentences.
	MaxSize int
	// MinSize: smaller chunks merge into the previous chunk when it has room.
	MinSize int
	// Overlap: trailing characters of the previous chunk prefixed to the next.
	Overlap int
}

// DefaultChunkConfig keeps a typical daily entry as one memory.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Threshold: 1000,
		MaxSize:   1000,
		MinSize:   100,
	}
}

// ChunkMarkdown splits a page into leaf chunks, preferring section
// boundaries, then paragraphs, then sentences. Empty pages yield no chunks.
func ChunkMarkdown(doc *MarkdownDoc, cfg ChunkConfig) []ChunkResult {
	body := strings.TrimSpace(doc.Content)
	if body == "" {
		return nil
	}
	if len(body) <= cfg.Threshold {
		return []ChunkResult{{Content: body}}
	}

	var chunks []ChunkResult
	emit := func(text, path string) {
		for _, piece := range splitText(text, cfg.MaxSize) {
			chunks = appendMerged(chunks, ChunkResult{Content: piece, HeadingPath: path}, cfg)
		}
	}

	if len(doc.Sections) == 0 {
		emit(body, "")
	} else {
		emit(doc.Preamble(), "")
		for _, s := range doc.Sections {
			emit(s.Content, s.Path)
		}
	}

	for i := range chunks {
		chunks[i].Position = i
	}
	return applyOverlap(chunks, cfg.Overlap)
}

// appendMerged folds tiny chunks into their predecessor. The merged chunk
// keeps the predecessor's heading path.
func appendMerged(chunks []ChunkResult, c ChunkResult, cfg ChunkConfig) []ChunkResult {
	if n := len(chunks); n > 0 {
		last := &chunks[n-1]
		small := len(c.Content) < cfg.MinSize || len(last.Content) < cfg.MinSize
		fits := len(last.Content)+2+len(c.Content) <= cfg.MaxSize
		if small && fits {
			last.Content += "\n\n" + c.Content
			return chunks
		}
	}
	return append(chunks, c)
}

// splitText packs paragraphs up to maxSize, splitting oversized ones by sentence.
func splitText(text string, maxSize int) []string {
	var pieces []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > maxSize {
			pieces = append(pieces, pack(splitSentences(para), maxSize, " ")...)
			continue
		}
		pieces = append(pieces, para)
	}
	return pack(pieces, maxSize, "\n\n")
}

// pack greedily joins parts with sep while staying within maxSize.
func pack(parts []string, maxSize int, sep string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(sep)+len(p) > maxSize {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// splitSentences splits after ., ! or ? followed by whitespace, skipping
// single-capital abbreviations such as "J." in "J. Smith".
func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && i > 0 && unicode.IsUpper(runes[i-1]) && (i == 1 || unicode.IsSpace(runes[i-2])) {
			continue
		}
		sentences = append(sentences, current.String())
		current.Reset()
	}
	if strings.TrimSpace(current.String()) != "" {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// applyOverlap prefixes each chunk with the tail of the previous one, cut at a word boundary.
func applyOverlap(chunks []ChunkResult, overlap int) []ChunkResult {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}
	out := make([]ChunkResult, len(chunks))
	copy(out, chunks)
	for i := 1; i < len(out); i++ {
		prev := chunks[i-1].Content
		if len(prev) <= overlap {
			continue
		}
		tail := prev[len(prev)-overlap:]
		if idx := strings.IndexByte(tail, ' '); idx >= 0 {
			tail = tail[idx+1:]
		}
		if tail != "" {
			out[i].Content = tail + " " + out[i].Content
		}
	}
	return out
}
