package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/mindstream/internal/llm"
	"github.com/raphaelgruber/mindstream/internal/memory"
	"github.com/raphaelgruber/mindstream/internal/models"
)

// Defaults for the controller.
const (
	DefaultRecallK        = 15
	DefaultSummaryRefresh = time.Hour
	recentObservations    = 5
)

// Option configures a Controller.
type Option func(*Controller)

// WithRecallK sets how many relevant memories go into a prompt.
func WithRecallK(k int) Option {
	return func(c *Controller) {
		if k > 0 {
			c.recallK = k
		}
	}
}

// WithSummaryRefresh sets how long a generated summary is reused.
func WithSummaryRefresh(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.summaryRefresh = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller answers interactions on behalf of one agent.
type Controller struct {
	persona Persona
	mem     *memory.Memory
	llm     llm.Generator

	recallK        int
	summaryRefresh time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	summary   string
	summaryAt time.Time
}

// New creates a controller for persona.
func New(persona Persona, mem *memory.Memory, gen llm.Generator, opts ...Option) *Controller {
	c := &Controller{
		persona:        persona,
		mem:            mem,
		llm:            gen,
		recallK:        DefaultRecallK,
		summaryRefresh: DefaultSummaryRefresh,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Persona returns the agent's persona.
func (c *Controller) Persona() Persona {
	return c.persona
}

// Respond validates in and produces the agent's reply as of now.
// Invalid input fails with memory.ErrInvalidRequest before any model or memory work.
// The whole turn, model calls included, holds the agent's memory lock, so
// turns and ingestion never interleave.
func (c *Controller) Respond(ctx context.Context, in models.Interaction, now time.Time) (string, error) {
	text, ok := in.Text()
	if !ok {
		return "", fmt.Errorf("%w: content must be text, got %T", memory.ErrInvalidRequest, in.Content)
	}

	var turn func(tx *memory.Tx) (string, error)
	switch in.Kind {
	case models.KindSay:
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("%w: empty message", memory.ErrInvalidRequest)
		}
		turn = func(tx *memory.Tx) (string, error) { return c.say(ctx, tx, in.SpeakerOrDefault(), text, now) }
	case models.KindReact:
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("%w: empty observation", memory.ErrInvalidRequest)
		}
		turn = func(tx *memory.Tx) (string, error) { return c.react(ctx, tx, text, now) }
	case models.KindSummarize:
		turn = func(tx *memory.Tx) (string, error) { return c.summary(ctx, tx, now, true) }
	default:
		panic(fmt.Sprintf("agent: unhandled interaction kind %v", in.Kind))
	}

	var out string
	err := c.mem.Exclusive(func(tx *memory.Tx) error {
		var err error
		out, err = turn(tx)
		return err
	})
	return out, err
}

func (c *Controller) say(ctx context.Context, tx *memory.Tx, speaker, text string, now time.Time) (string, error) {
	observation := fmt.Sprintf("%s says %s", speaker, strings.TrimSpace(text))
	reply, err := c.generateReaction(ctx, tx, observation, fmt.Sprintf(saySuffix, c.persona.Name), now)
	if err != nil {
		return "", err
	}

	said := cleanReply(reply)
	if s, ok := afterMarker(goodbyeMarker, reply); ok {
		said = s
	} else if s, ok := afterMarker(sayMarker, reply); ok {
		said = s
	}
	if said == "" {
		return "", fmt.Errorf("say: %w: empty reply", memory.ErrAdapterFailure)
	}

	content := fmt.Sprintf("%s observed %s and said %s", c.persona.Name, observation, said)
	md := map[string]any{models.MetaSpeaker: speaker}
	if _, err := tx.Add(ctx, content, now, models.SourceConversation, md); err != nil {
		return "", fmt.Errorf("remember conversation: %w", err)
	}
	return said, nil
}

func (c *Controller) react(ctx context.Context, tx *memory.Tx, observation string, now time.Time) (string, error) {
	observation = strings.TrimSpace(observation)
	reply, err := c.generateReaction(ctx, tx, observation, fmt.Sprintf(reactSuffix, c.persona.Name), now)
	if err != nil {
		return "", err
	}

	var content, out string
	if r, ok := afterMarker(reactMarker, reply); ok {
		out = r
		content = fmt.Sprintf("%s observed %s and reacted by %s", c.persona.Name, observation, r)
	} else if s, ok := afterMarker(sayMarker, reply); ok {
		out = s
		content = fmt.Sprintf("%s observed %s and said %s", c.persona.Name, observation, s)
	} else {
		out = cleanReply(reply)
		content = fmt.Sprintf("%s observed %s and reacted by %s", c.persona.Name, observation, out)
	}
	if out == "" {
		return "", fmt.Errorf("react: %w: empty reply", memory.ErrAdapterFailure)
	}

	if _, err := tx.Add(ctx, content, now, models.SourceReaction, nil); err != nil {
		return "", fmt.Errorf("remember reaction: %w", err)
	}
	return out, nil
}

func (c *Controller) generateReaction(ctx context.Context, tx *memory.Tx, observation, suffix string, now time.Time) (string, error) {
	summary, err := c.summary(ctx, tx, now, false)
	if err != nil {
		return "", err
	}
	relevant, err := tx.Recall(ctx, observation, c.recallK)
	if err != nil {
		return "", fmt.Errorf("recall: %w", err)
	}
	prompt := buildReactionPrompt(c.persona, summary, now, relevant, tx.Stream().Recent(recentObservations), observation, suffix)

	reply, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w: %w", memory.ErrAdapterFailure, err)
	}
	c.logger.Debug("agent replied", "observation_len", len(observation), "reply_len", len(reply))
	return reply, nil
}

// Summary returns the agent description, regenerating it when force is set
// or the cached copy is older than the refresh interval.
func (c *Controller) Summary(ctx context.Context, now time.Time, force bool) (string, error) {
	var out string
	err := c.mem.Exclusive(func(tx *memory.Tx) error {
		var err error
		out, err = c.summary(ctx, tx, now, force)
		return err
	})
	return out, err
}

// Caller must hold the memory lock through tx.
func (c *Controller) summary(ctx context.Context, tx *memory.Tx, now time.Time, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.summary != "" && now.Sub(c.summaryAt) < c.summaryRefresh {
		return c.summary, nil
	}

	characteristics, err := c.characteristics(ctx, tx)
	if err != nil {
		return "", err
	}
	c.summary = fmt.Sprintf("Name: %s (age: %d)\nInnate traits: %s\n%s",
		c.persona.Name, c.persona.Age, c.persona.Traits, characteristics)
	c.summaryAt = now
	return c.summary, nil
}

func (c *Controller) characteristics(ctx context.Context, tx *memory.Tx) (string, error) {
	query := fmt.Sprintf("%s's core characteristics", c.persona.Name)
	relevant, err := tx.Recall(ctx, query, c.recallK)
	if err != nil {
		return "", fmt.Errorf("recall characteristics: %w", err)
	}
	statements := make([]string, len(relevant))
	for i, s := range relevant {
		statements[i] = s.Memory.Content
	}

	reply, err := c.llm.Generate(ctx, fmt.Sprintf(summaryPrompt, c.persona.Name, strings.Join(statements, "\n")))
	if err != nil {
		return "", fmt.Errorf("summarize: %w: %w", memory.ErrAdapterFailure, err)
	}
	return strings.TrimSpace(reply), nil
}
