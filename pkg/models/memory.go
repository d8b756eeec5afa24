package models

import (
	"time"
)

// ============================================================================
// Memory Kinds
// ============================================================================

// MemoryKind classifies a persisted memory.
type MemoryKind string

const (
	MemoryEpisodic   MemoryKind = "episodic"
	MemorySemantic   MemoryKind = "semantic"
	MemoryProfile    MemoryKind = "profile"
	MemoryCommitment MemoryKind = "commitment"
	MemoryTodo       MemoryKind = "todo"
)

// ValidMemoryKinds contains all valid memory kind values.
var ValidMemoryKinds = []MemoryKind{
	MemoryEpisodic,
	MemorySemantic,
	MemoryProfile,
	MemoryCommitment,
	MemoryTodo,
}

// IsValidMemoryKind checks if the given kind is valid.
func IsValidMemoryKind(k MemoryKind) bool {
	for _, v := range ValidMemoryKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Default lifetimes. Semantic memories are permanent (nil TTL); episodic
// memories expire after 30 days unless the classifier says otherwise.
const DefaultEpisodicTTLDays = 30

// ============================================================================
// Memory External References
// ============================================================================

// Memory external_ref types. Alias and multilingual mappings live in the
// memories table as semantic rows keyed through this reference.
const (
	RefTypeAliasMapping        = "alias_mapping"
	RefTypeMultilingualMapping = "multilingual_mapping"
)

// MemoryRef is the structured external_ref payload on a memory row.
// Only the fields for the given Type are populated.
type MemoryRef struct {
	Type string `json:"type"`

	// alias_mapping fields
	AliasText  string `json:"alias_text,omitempty"` // lowercased
	EntityName string `json:"entity_name,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// multilingual_mapping fields
	ForeignText string `json:"foreign_text,omitempty"` // lowercased
	EnglishText string `json:"english_text,omitempty"`

	UserID string `json:"user_id,omitempty"`
}

// ============================================================================
// Memories
// ============================================================================

// Memory is a typed, optionally embedded record extracted from conversation.
type Memory struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	Kind      MemoryKind `json:"kind"`
	Text      string     `json:"text"`
	Embedding []float32  `json:"-"`
	// Importance is clamped to [0,1] at persistence.
	Importance float64    `json:"importance"`
	TTLDays    *int       `json:"ttl_days,omitempty"` // nil = permanent
	Ref        *MemoryRef `json:"external_ref,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsExpired reports whether the memory's TTL has elapsed as of now.
func (m *Memory) IsExpired(now time.Time) bool {
	if m.TTLDays == nil {
		return false
	}
	return m.CreatedAt.AddDate(0, 0, *m.TTLDays).Before(now)
}

// AgeDays returns the age of the memory in whole days as of now.
func (m *Memory) AgeDays(now time.Time) int {
	return int(now.Sub(m.CreatedAt).Hours() / 24)
}

// MemorySummary is a consolidated per-user digest of recent memories,
// upserted per (user_id, session_window).
type MemorySummary struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	SessionWindow int       `json:"session_window"`
	Summary       string    `json:"summary"`
	Embedding     []float32 `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}
