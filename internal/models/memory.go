// Package models defines the data structures of the agent memory engine.
package models

import (
	"fmt"
	"time"
)

// Source classifies where a memory came from.
type Source string

const (
	SourceCore         Source = "core"
	SourceDailyLog     Source = "daily_log"
	SourceConversation Source = "conversation"
	SourceReaction     Source = "reaction"
	SourceReflection   Source = "reflection"
)

// Well-known metadata keys.
const (
	MetaExternalID = "external_id"
	MetaTitle      = "title"
	MetaEvidence   = "evidence"
	MetaSpeaker    = "speaker"
)

// Retained reports whether memories of this source survive re-ingestion.
func (s Source) Retained() bool {
	return s == SourceCore || s == SourceDailyLog
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceCore, SourceDailyLog, SourceConversation, SourceReaction, SourceReflection:
		return true
	}
	return false
}

// ParseSource converts a stored source tag into a Source.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.Valid() {
		return "", fmt.Errorf("unknown memory source %q", s)
	}
	return src, nil
}

// Memory is a single observation in the agent's memory stream.
type Memory struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	Importance     float64        `json:"importance"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Source         Source         `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewMemory creates a memory with a fresh ID. LastAccessedAt starts at createdAt.
func NewMemory(content string, createdAt time.Time, source Source, importance float64, metadata map[string]any) Memory {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Memory{
		ID:             NewID(createdAt),
		Content:        content,
		CreatedAt:      createdAt,
		LastAccessedAt: createdAt,
		Importance:     ClampImportance(importance),
		Source:         source,
		Metadata:       metadata,
	}
}

// ExternalID returns the dedup key carried by ingested records, or "".
func (m Memory) ExternalID() string {
	return MetadataString(m.Metadata, MetaExternalID)
}

// Touch records an access at t. LastAccessedAt never moves backwards and
// never precedes CreatedAt.
func (m *Memory) Touch(t time.Time) {
	if t.Before(m.CreatedAt) {
		t = m.CreatedAt
	}
	if t.After(m.LastAccessedAt) {
		m.LastAccessedAt = t
	}
}

// Clone returns a copy that shares no mutable state with m.
func (m Memory) Clone() Memory {
	c := m
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	return c
}

// ClampImportance bounds v to [0,1].
func ClampImportance(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// ExternalRecord is a dated text record produced by a log source.
type ExternalRecord struct {
	ExternalID string
	Title      string
	Content    string
	CreatedAt  time.Time
	Metadata   map[string]any
}
