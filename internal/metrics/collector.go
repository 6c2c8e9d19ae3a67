// Package metrics provides in-memory runtime statistics for the memory engine.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Timed operations.
const (
	OpEmbedding   = "embedding"
	OpLLMGenerate = "llm_generate"
	OpStorePut    = "store_put"
	OpStoreSearch = "store_search"
	OpStoreList   = "store_list"
	OpStoreDelete = "store_delete"
	OpRetrieve    = "retrieve"
	OpReflect     = "reflect"
	OpIngest      = "ingest"
)

// Event counters.
const (
	CountMemoriesAdded      = "memories_added"
	CountReflections        = "reflections"
	CountReflectionFailures = "reflection_failures"
	CountScoringDegraded    = "scoring_degraded"
	CountIngestionConflicts = "ingestion_conflicts"
	CountRetries            = "adapter_retries"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	TotalInputTokens  int64
	TotalOutputTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Name              string  `json:"name"`
	Count             int64   `json:"count"`
	TotalTimeMs       int64   `json:"total_time_ms"`
	AvgTimeMs         float64 `json:"avg_time_ms"`
	MinTimeMs         int64   `json:"min_time_ms"`
	MaxTimeMs         int64   `json:"max_time_ms"`
	TotalInputTokens  int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens int64   `json:"total_output_tokens,omitempty"`
}

// Snapshot is the full statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64             `json:"uptime_seconds"`
	Operations    []OperationSnapshot `json:"operations"`
	Counters      map[string]int64    `json:"counters"`
}

// Operation returns the snapshot for op, or nil when op was never recorded.
func (s Snapshot) Operation(op string) *OperationSnapshot {
	for i := range s.Operations {
		if s.Operations[i].Name == op {
			return &s.Operations[i]
		}
	}
	return nil
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and safe to call on a nil *Collector.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	counters  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		counters:  make(map[string]int64),
	}
}

// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.RecordLLMUsage(op, duration, 0, 0)
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	m.MinTime = min(m.MinTime, duration)
	m.MaxTime = max(m.MaxTime, duration)
	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens
}

// Since records the time elapsed since start for op. Intended for defer.
func (c *Collector) Since(op string, start time.Time) {
	c.RecordTiming(op, time.Since(start))
}

// Incr bumps a named counter.
func (c *Collector) Incr(name string) {
	c.Add(name, 1)
}

// Add adds delta to a named counter.
func (c *Collector) Add(name string, delta int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name] += delta
	c.mu.Unlock()
}

// Counter returns the current value of a named counter.
func (c *Collector) Counter(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Snapshot returns a point-in-time snapshot of all metrics, operations sorted by name.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Counters: map[string]int64{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    make([]OperationSnapshot, 0, len(c.ops)),
		Counters:      make(map[string]int64, len(c.counters)),
	}
	for name, m := range c.ops {
		if m.Count == 0 {
			continue
		}
		snap.Operations = append(snap.Operations, OperationSnapshot{
			Name:              name,
			Count:             m.Count,
			TotalTimeMs:       m.TotalTime.Milliseconds(),
			AvgTimeMs:         float64(m.TotalTime.Milliseconds()) / float64(m.Count),
			MinTimeMs:         m.MinTime.Milliseconds(),
			MaxTimeMs:         m.MaxTime.Milliseconds(),
			TotalInputTokens:  m.TotalInputTokens,
			TotalOutputTokens: m.TotalOutputTokens,
		})
	}
	sort.Slice(snap.Operations, func(i, j int) bool {
		return snap.Operations[i].Name < snap.Operations[j].Name
	})
	for k, v := range c.counters {
		snap.Counters[k] = v
	}
	return snap
}
