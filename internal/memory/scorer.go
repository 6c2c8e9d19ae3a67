package memory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/raphaelgruber/mindstream/internal/llm"
	"github.com/raphaelgruber/mindstream/internal/metrics"
)

// DefaultImportance is used when the model's rating is unavailable.
const DefaultImportance = 0.5

const (
	minRating = 1
	maxRating = 10
)

const importancePrompt = `On the scale of 1 to 10, where 1 is purely mundane (e.g., brushing teeth, making bed) and 10 is extremely poignant (e.g., a break up, college acceptance), rate the likely poignancy of the following piece of memory. Respond with a single integer.
Memory: %s
Rating: `

var ratingPattern = regexp.MustCompile(`-?\d+`)

// Scorer rates the poignancy of new memories with a language model.
type Scorer struct {
	llm     llm.Generator
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewScorer creates a scorer backed by gen.
func NewScorer(gen llm.Generator, logger *slog.Logger, mc *metrics.Collector) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{llm: gen, logger: logger, metrics: mc}
}

// Score returns the importance of content in [0,1]. Model or parse failures
// degrade to DefaultImportance and are only logged.
func (s *Scorer) Score(ctx context.Context, content string) float64 {
	reply, err := s.llm.Generate(ctx, fmt.Sprintf(importancePrompt, strings.TrimSpace(content)))
	if err != nil {
		s.degraded(err, "")
		return DefaultImportance
	}
	rating, ok := ParseRating(reply)
	if !ok {
		s.degraded(fmt.Errorf("no integer in reply"), reply)
		return DefaultImportance
	}
	return NormalizeRating(rating)
}

func (s *Scorer) degraded(cause error, reply string) {
	s.metrics.Incr(metrics.CountScoringDegraded)
	s.logger.Warn("importance scoring degraded",
		"error", fmt.Errorf("%w: %w", ErrScoringDegraded, cause),
		"reply", reply,
		"default", DefaultImportance)
}

// ParseRating extracts the first integer of reply, clamped to 1..10.
func ParseRating(reply string) (int, bool) {
	match := ratingPattern.FindString(reply)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return min(max(n, minRating), maxRating), true
}

// NormalizeRating maps a 1..10 rating onto [0,1].
func NormalizeRating(rating int) float64 {
	rating = min(max(rating, minRating), maxRating)
	return float64(rating-minRating) / float64(maxRating-minRating)
}

// RatingScale maps a normalized importance back onto the 1..10 rating scale.
func RatingScale(importance float64) float64 {
	return importance*float64(maxRating-minRating) + minRating
}
