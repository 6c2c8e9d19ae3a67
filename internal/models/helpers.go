package models

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a ULID whose timestamp component is t.
// Backdated memories therefore sort by occurrence, not by insertion.
// Times outside the ULID range (before 1970, after year 10889) are clamped.
func NewID(t time.Time) string {
	ms := max(t.UnixMilli(), 0)
	ts := min(uint64(ms), ulid.MaxTime())

	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ts, entropy).String()
}

// MetadataString reads a string value from metadata, tolerating non-string values.
func MetadataString(md map[string]any, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}
