package models

import (
	"time"
)

// ============================================================================
// Chat Roles
// ============================================================================

// ChatRole represents the role of a chat event sender.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleSystem    ChatRole = "system"
)

// ValidChatRoles contains all valid chat role values.
var ValidChatRoles = []ChatRole{
	ChatRoleUser,
	ChatRoleAssistant,
	ChatRoleSystem,
}

// IsValidChatRole checks if the given role is valid.
func IsValidChatRole(r ChatRole) bool {
	for _, v := range ValidChatRoles {
		if v == r {
			return true
		}
	}
	return false
}

// ============================================================================
// Chat Events
// ============================================================================

// ChatEvent is one append-only turn of a session's conversation.
type ChatEvent struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// IsFromUser returns true if the event is from a user.
func (e *ChatEvent) IsFromUser() bool {
	return e.Role == ChatRoleUser
}

// IsFromAssistant returns true if the event is from the assistant.
func (e *ChatEvent) IsFromAssistant() bool {
	return e.Role == ChatRoleAssistant
}

// ============================================================================
// Entities
// ============================================================================

// EntityType classifies an extracted business entity.
type EntityType string

const (
	EntityTypeCustomer  EntityType = "customer"
	EntityTypeOrder     EntityType = "order"
	EntityTypeInvoice   EntityType = "invoice"
	EntityTypeWorkOrder EntityType = "work_order"
	EntityTypeTask      EntityType = "task"
)

// ValidEntityTypes contains all valid entity type values.
var ValidEntityTypes = []EntityType{
	EntityTypeCustomer,
	EntityTypeOrder,
	EntityTypeInvoice,
	EntityTypeWorkOrder,
	EntityTypeTask,
}

// IsValidEntityType checks if the given entity type is valid.
func IsValidEntityType(t EntityType) bool {
	for _, v := range ValidEntityTypes {
		if v == t {
			return true
		}
	}
	return false
}

// EntitySource records where an entity came from.
type EntitySource string

const (
	EntitySourceMessage EntitySource = "message"
	EntitySourceDB      EntitySource = "db"
)

// EntityRef is the structured reference from an extracted entity to the
// backing database row.
type EntityRef struct {
	Table      string `json:"table"`
	ID         string `json:"id"`
	Confidence string `json:"confidence,omitempty"` // "exact" or "fuzzy"
}

// Entity is a business entity recognized in a session's messages.
// Created during extraction; never edited.
type Entity struct {
	ID        int64        `json:"id"`
	SessionID string       `json:"session_id"`
	Name      string       `json:"name"`
	Type      EntityType   `json:"type"`
	Source    EntitySource `json:"source"`
	Ref       EntityRef    `json:"external_ref"`
	CreatedAt time.Time    `json:"created_at"`
}
