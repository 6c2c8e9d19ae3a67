// Package ingest rebuilds an agent's memory from external daily logs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/mindstream/internal/memory"
	"github.com/raphaelgruber/mindstream/internal/metrics"
	"github.com/raphaelgruber/mindstream/internal/models"
	"github.com/raphaelgruber/mindstream/internal/parser"
)

// ErrIngestionConflict marks a record whose external id is already in memory.
// Conflicts are skipped and logged, never returned.
var ErrIngestionConflict = errors.New("ingestion conflict")

// Result summarizes one ingestion run.
type Result struct {
	Deleted     int `json:"deleted"`
	Retained    int `json:"retained"`
	Added       int `json:"added"`
	Skipped     int `json:"skipped"`
	CoreAdded   int `json:"core_added"`
	Reflections int `json:"reflections"`
}

// ProgressFunc is called after each record or core memory is handled.
type ProgressFunc func(done, total int)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides time.Now for core memory timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = mc }
}

// Pipeline merges external records and core memories into an agent's memory.
type Pipeline struct {
	mem     *memory.Memory
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates a pipeline for mem.
func New(mem *memory.Memory, opts ...Option) *Pipeline {
	p := &Pipeline{mem: mem, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EffectiveDate is the record's title parsed as a date, else its CreatedAt.
// It is zero when the record carries neither.
func EffectiveDate(r models.ExternalRecord) time.Time {
	if t, ok := parser.ParseDate(r.Title); ok {
		return t
	}
	return r.CreatedAt
}

// datedAt returns the effective date of r, or now when it has none.
func datedAt(r models.ExternalRecord, now time.Time) time.Time {
	if t := EffectiveDate(r); !t.IsZero() {
		return t
	}
	return now
}

// Ingest drops derived memories, then adds every record and core memory not
// already present. Running it twice with the same input adds nothing the second time.
func (p *Pipeline) Ingest(ctx context.Context, records []models.ExternalRecord, core []string, progress ProgressFunc) (Result, error) {
	defer p.metrics.Since(metrics.OpIngest, time.Now())
	if progress == nil {
		progress = func(int, int) {}
	}

	var res Result
	now := p.now()
	err := p.mem.Exclusive(func(tx *memory.Tx) error {
		reflectionsBefore := tx.Reflections()
		defer func() { res.Reflections = tx.Reflections() - reflectionsBefore }()

		retained, err := p.prune(ctx, tx, &res)
		if err != nil {
			return err
		}

		seenIDs := make(map[string]bool, len(retained))
		seenContent := make(map[string]bool, len(retained))
		for _, m := range retained {
			if id := m.ExternalID(); id != "" {
				seenIDs[id] = true
			}
			seenContent[m.Content] = true
		}

		ordered := slices.Clone(records)
		slices.SortStableFunc(ordered, func(a, b models.ExternalRecord) int {
			return datedAt(a, now).Compare(datedAt(b, now))
		})

		total := len(ordered) + len(core)
		done := 0
		for _, rec := range ordered {
			if err := ctx.Err(); err != nil {
				return err
			}
			added, err := p.addRecord(ctx, tx, rec, datedAt(rec, now), seenIDs)
			if err != nil {
				return err
			}
			if added {
				res.Added++
			} else {
				res.Skipped++
			}
			done++
			progress(done, total)
		}

		for _, content := range core {
			if err := ctx.Err(); err != nil {
				return err
			}
			content = strings.TrimSpace(content)
			if content != "" && !seenContent[content] {
				if _, err := tx.Add(ctx, content, now, models.SourceCore, nil); err != nil {
					return fmt.Errorf("add core memory: %w", err)
				}
				seenContent[content] = true
				res.CoreAdded++
			}
			done++
			progress(done, total)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	p.logger.Info("ingestion complete",
		"deleted", res.Deleted,
		"retained", res.Retained,
		"added", res.Added,
		"skipped", res.Skipped,
		"core_added", res.CoreAdded,
		"reflections", res.Reflections)
	return res, nil
}

// prune deletes non-retained memories from store and stream and reloads the
// stream with what is left.
func (p *Pipeline) prune(ctx context.Context, tx *memory.Tx, res *Result) ([]models.Memory, error) {
	all, err := tx.Store().ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w: %w", memory.ErrAdapterFailure, err)
	}

	var (
		retained []models.Memory
		drop     []string
	)
	for _, m := range all {
		if m.Source.Retained() {
			retained = append(retained, m)
		} else {
			drop = append(drop, m.ID)
		}
	}

	if len(drop) > 0 {
		p.logger.Info("clearing derived memories", "count", len(drop))
		if err := tx.Store().DeleteByIDs(ctx, drop); err != nil {
			return nil, fmt.Errorf("delete derived memories: %w: %w", memory.ErrAdapterFailure, err)
		}
		tx.Stream().Remove(drop...)
	}
	tx.Stream().Initialize(retained)

	res.Deleted = len(drop)
	res.Retained = len(retained)
	return retained, nil
}

func (p *Pipeline) addRecord(ctx context.Context, tx *memory.Tx, rec models.ExternalRecord, at time.Time, seen map[string]bool) (bool, error) {
	content := strings.TrimSpace(rec.Content)
	if content == "" {
		p.logger.Debug("skipping empty record", "external_id", rec.ExternalID)
		return false, nil
	}
	if rec.ExternalID != "" && seen[rec.ExternalID] {
		p.metrics.Incr(metrics.CountIngestionConflicts)
		p.logger.Info("skipping known record", "external_id", rec.ExternalID, "reason", ErrIngestionConflict)
		return false, nil
	}

	md := make(map[string]any, len(rec.Metadata)+2)
	for k, v := range rec.Metadata {
		md[k] = v
	}
	if rec.ExternalID != "" {
		md[models.MetaExternalID] = rec.ExternalID
	}
	if rec.Title != "" {
		md[models.MetaTitle] = rec.Title
	}

	if _, err := tx.Add(ctx, content, at, models.SourceDailyLog, md); err != nil {
		return false, fmt.Errorf("add record %s: %w", rec.ExternalID, err)
	}
	if rec.ExternalID != "" {
		seen[rec.ExternalID] = true
	}
	return true, nil
}
