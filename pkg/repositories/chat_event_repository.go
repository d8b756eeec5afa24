package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/contexthq/memory-engine/pkg/database"
	"github.com/contexthq/memory-engine/pkg/models"
)

// ChatEventRepository provides append-only access to session conversations.
type ChatEventRepository interface {
	Append(ctx context.Context, event *models.ChatEvent) error
	RecentBySession(ctx context.Context, sessionID string, limit int) ([]*models.ChatEvent, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

type chatEventRepository struct {
	db *database.DB
}

// NewChatEventRepository creates a new ChatEventRepository.
func NewChatEventRepository(db *database.DB) ChatEventRepository {
	return &chatEventRepository{db: db}
}

var _ ChatEventRepository = (*chatEventRepository)(nil)

func (r *chatEventRepository) Append(ctx context.Context, event *models.ChatEvent) error {
	if !models.IsValidChatRole(event.Role) {
		return fmt.Errorf("invalid chat role %q", event.Role)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO app.chat_events (session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		event.SessionID, event.Role, event.Content, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to append chat event: %w", err)
	}

	return nil
}

func (r *chatEventRepository) RecentBySession(ctx context.Context, sessionID string, limit int) ([]*models.ChatEvent, error) {
	if limit <= 0 {
		limit = 10 // Default window
	}

	// Get events in chronological order, but limit to most recent
	query := `
		SELECT id, session_id, role, content, created_at
		FROM app.chat_events
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	defer rows.Close()

	events := make([]*models.ChatEvent, 0)
	for rows.Next() {
		var e models.ChatEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat events: %w", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return events, nil
}

func (r *chatEventRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM app.chat_events
		WHERE session_id = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chat events: %w", err)
	}

	return count, nil
}
