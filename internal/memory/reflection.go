package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/mindstream/internal/llm"
	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
)

// Reflection defaults.
const (
	DefaultReflectionThreshold = 8.0
	DefaultReflectionWindow    = 50
	DefaultEvidenceK           = 10
	maxTopics                  = 3
)

// State is the reflection lifecycle of an agent.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateReflecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateReflecting:
		return "reflecting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Accumulator tracks importance (on the 1..10 rating scale) since the last reflection.
type Accumulator struct {
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Accumulate adds a memory's importance and reports whether reflection should fire.
// A non-positive threshold disables reflection.
func Accumulate(acc Accumulator, importance float64) (Accumulator, bool) {
	acc.Value += RatingScale(models.ClampImportance(importance))
	return acc, acc.Threshold > 0 && acc.Value >= acc.Threshold
}

// AfterReflection consumes the crossed threshold, carrying the remainder
// (value - T) mod T so a single pass never leaves enough for another.
func AfterReflection(acc Accumulator) Accumulator {
	if acc.Threshold <= 0 || acc.Value < acc.Threshold {
		acc.Value = max(acc.Value, 0)
		return acc
	}
	acc.Value = math.Mod(acc.Value-acc.Threshold, acc.Threshold)
	return acc
}

// Insight is a higher-level statement synthesized from evidence memories.
type Insight struct {
	Topic    string
	Content  string
	Evidence []string
}

const topicsPrompt = `%s

Given only the information above, what are the 3 most salient high-level questions we can answer about the subjects in the statements?
Provide each question on a new line.`

const insightsPrompt = `Statements relevant to: '%s'
---
%s
---
What 5 high-level novel insights can you infer from the above statements that are relevant for answering the following question?
Do not include any insights that are not relevant to the question.
Do not repeat any insights that have already been made.

Question: %s

(example format: insight (because of 1, 5, 3))
`

var (
	listPrefix   = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)]|Question\s*\d*:)\s*`)
	becauseOfRef = regexp.MustCompile(`\(\s*because of ([^)]*)\)`)
	numberRef    = regexp.MustCompile(`\d+`)
)

// Reflector synthesizes insights from the recent window of memories.
type Reflector struct {
	llm       llm.Generator
	stream    *Stream
	retriever *Retriever

	window    int
	evidenceK int

	logger  *slog.Logger
	metrics *metrics.Collector
}

// Reflect runs one reflection pass as of now and returns the insights.
// It does not store anything.
func (r *Reflector) Reflect(ctx context.Context, now time.Time) ([]Insight, error) {
	defer r.metrics.Since(metrics.OpReflect, time.Now())

	recent := r.stream.Recent(r.window)
	if len(recent) == 0 {
		return nil, nil
	}

	topics, err := r.topics(ctx, recent)
	if err != nil {
		return nil, err
	}

	var insights []Insight
	for _, topic := range topics {
		evidence, err := r.retriever.RetrieveAt(ctx, topic, now, r.evidenceK, nil)
		if err != nil {
			return nil, fmt.Errorf("retrieve evidence for %q: %w", topic, err)
		}
		if len(evidence) == 0 {
			continue
		}
		found, err := r.insights(ctx, topic, evidence)
		if err != nil {
			return nil, err
		}
		insights = append(insights, found...)
	}
	r.logger.Debug("reflection complete", "topics", len(topics), "insights", len(insights))
	return insights, nil
}

func (r *Reflector) topics(ctx context.Context, recent []models.Memory) ([]string, error) {
	lines := make([]string, len(recent))
	for i, m := range recent {
		lines[i] = m.Content
	}
	reply, err := r.llm.Generate(ctx, fmt.Sprintf(topicsPrompt, strings.Join(lines, "\n")))
	if err != nil {
		return nil, adapterFailure("reflection topics", err)
	}
	topics := parseLines(reply)
	if len(topics) == 0 {
		return nil, fmt.Errorf("reflection topics: empty reply")
	}
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}
	return topics, nil
}

func (r *Reflector) insights(ctx context.Context, topic string, evidence []Scored) ([]Insight, error) {
	var sb strings.Builder
	for i, e := range evidence {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, e.Memory.Content)
	}
	reply, err := r.llm.Generate(ctx, fmt.Sprintf(insightsPrompt, topic, strings.TrimRight(sb.String(), "\n"), topic))
	if err != nil {
		return nil, adapterFailure("reflection insights", err)
	}

	var out []Insight
	for _, line := range parseLines(reply) {
		content, refs := splitEvidence(line)
		if content == "" {
			continue
		}
		ids := evidenceIDs(refs, evidence)
		out = append(out, Insight{Topic: topic, Content: content, Evidence: ids})
	}
	return out, nil
}

// parseLines splits a model reply into non-empty lines without list markers.
func parseLines(reply string) []string {
	var out []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(listPrefix.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// splitEvidence separates "insight (because of 1, 5)" into the text and the 1-based references.
func splitEvidence(line string) (string, []int) {
	match := becauseOfRef.FindStringSubmatchIndex(line)
	if match == nil {
		return strings.TrimSpace(line), nil
	}
	var refs []int
	for _, n := range numberRef.FindAllString(line[match[2]:match[3]], -1) {
		if v, err := strconv.Atoi(n); err == nil {
			refs = append(refs, v)
		}
	}
	text := strings.TrimSpace(line[:match[0]] + line[match[1]:])
	return strings.TrimRight(text, " ."), refs
}

// evidenceIDs resolves references to memory ids; no valid reference cites all evidence.
func evidenceIDs(refs []int, evidence []Scored) []string {
	var ids []string
	seen := map[string]bool{}
	for _, ref := range refs {
		if ref < 1 || ref > len(evidence) {
			continue
		}
		id := evidence[ref-1].Memory.ID
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return ids
	}
	for _, e := range evidence {
		ids = append(ids, e.Memory.ID)
	}
	return ids
}
