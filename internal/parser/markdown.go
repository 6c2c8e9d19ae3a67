// Package parser reads markdown daily logs: YAML frontmatter, title and heading sections.
package parser

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	mentionRegex = regexp.MustCompile(`(?:^|\s)@([a-zA-Z0-9_-]+)`)
	linkRegex    = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
)

// MarkdownDoc is a parsed markdown page.
type MarkdownDoc struct {
	// Frontmatter holds the YAML header, empty when absent or malformed.
	Frontmatter map[string]any

	// Title from frontmatter or the first h1.
	Title string

	// Content is everything after the frontmatter.
	Content string

	Sections []Section
}

// Section is a heading and the text under it.
type Section struct {
	Level   int    // 1-6 for h1-h6
	Heading string // heading text without hashes
	Path    string // e.g. "# Monday > ## Evening"
	Content string
	Start   int // first line, 1-based
	End     int // last line
}

// ParseMarkdown splits frontmatter from body and indexes the headings.
func ParseMarkdown(content string) (*MarkdownDoc, error) {
	doc := &MarkdownDoc{Frontmatter: make(map[string]any)}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	remaining := content
	if strings.HasPrefix(content, "---\n") {
		if end := strings.Index(content[4:], "\n---"); end >= 0 {
			header := content[4 : 4+end]
			remaining = strings.TrimPrefix(content[4+end+4:], "\n")
			if err := yaml.Unmarshal([]byte(header), &doc.Frontmatter); err != nil || doc.Frontmatter == nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Sections = parseSections(remaining)
	return doc, nil
}

func extractTitle(fm map[string]any, content string) string {
	for _, key := range []string{"title", "name"} {
		switch v := fm[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case time.Time:
			// Unquoted YAML dates decode as timestamps.
			return v.Format(time.DateOnly)
		}
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func parseSections(content string) []Section {
	var (
		sections []Section
		current  *Section
		body     strings.Builder
		path     []string
		levels   []int
	)

	flush := func(endLine int) {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(body.String())
		current.End = endLine
		sections = append(sections, *current)
		body.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		match := headingRegex.FindStringSubmatch(line)
		if match == nil {
			if current != nil {
				body.WriteString(line)
				body.WriteByte('\n')
			}
			continue
		}

		flush(lineNum - 1)
		level := len(match[1])
		heading := strings.TrimSpace(match[2])
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			path = path[:len(path)-1]
			levels = levels[:len(levels)-1]
		}
		path = append(path, match[1]+" "+heading)
		levels = append(levels, level)
		current = &Section{
			Level:   level,
			Heading: heading,
			Path:    strings.Join(path, " > "),
			Start:   lineNum,
		}
	}
	flush(lineNum)
	return sections
}

// Preamble returns the body text before the first heading.
func (d *MarkdownDoc) Preamble() string {
	if len(d.Sections) == 0 {
		return strings.TrimSpace(d.Content)
	}
	lines := strings.SplitN(d.Content, "\n", d.Sections[0].Start)
	if len(lines) < d.Sections[0].Start {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[:d.Sections[0].Start-1], "\n"))
}

// GetFrontmatterString extracts a string from frontmatter.
func (d *MarkdownDoc) GetFrontmatterString(key string) string {
	switch v := d.Frontmatter[key].(type) {
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprint(v)
	}
	return ""
}

// GetFrontmatterTime reads a timestamp or a date string from frontmatter.
func (d *MarkdownDoc) GetFrontmatterTime(key string) (time.Time, bool) {
	switch v := d.Frontmatter[key].(type) {
	case time.Time:
		return v, true
	case string:
		return ParseDate(v)
	}
	return time.Time{}, false
}

// GetFrontmatterStringSlice extracts a string slice from frontmatter.
func (d *MarkdownDoc) GetFrontmatterStringSlice(key string) []string {
	switch v := d.Frontmatter[key].(type) {
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case []string:
		return v
	}
	return nil
}

// ExtractMentions finds @mentions, lower-cased and deduplicated.
func ExtractMentions(content string) []string {
	return uniqueMatches(mentionRegex, content, strings.ToLower)
}

// ExtractWikiLinks finds [[wiki-style]] links.
func ExtractWikiLinks(content string) []string {
	return uniqueMatches(linkRegex, content, strings.TrimSpace)
}

func uniqueMatches(re *regexp.Regexp, content string, norm func(string) string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, match := range re.FindAllStringSubmatch(content, -1) {
		v := norm(match[1])
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
