package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/contexthq/memory-engine/pkg/database"
	"github.com/contexthq/memory-engine/pkg/models"
)

// EntityFilter narrows ListBySession. Zero values mean no filtering.
type EntityFilter struct {
	Type   models.EntityType
	Source models.EntitySource
	Limit  int
}

// EntityRepository persists business entities recognized in sessions.
type EntityRepository interface {
	Create(ctx context.Context, entity *models.Entity) error
	ListBySession(ctx context.Context, sessionID string, filter EntityFilter) ([]*models.Entity, error)
}

type entityRepository struct {
	db *database.DB
}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository(db *database.DB) EntityRepository {
	return &entityRepository{db: db}
}

var _ EntityRepository = (*entityRepository)(nil)

func (r *entityRepository) Create(ctx context.Context, entity *models.Entity) error {
	if !models.IsValidEntityType(entity.Type) {
		return fmt.Errorf("invalid entity type %q", entity.Type)
	}

	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now()
	}

	refJSON, err := json.Marshal(entity.Ref)
	if err != nil {
		return fmt.Errorf("failed to marshal external_ref: %w", err)
	}

	query := `
		INSERT INTO app.entities (session_id, name, type, source, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		entity.SessionID, entity.Name, entity.Type, entity.Source, refJSON, entity.CreatedAt,
	).Scan(&entity.ID)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	return nil
}

func (r *entityRepository) ListBySession(ctx context.Context, sessionID string, filter EntityFilter) ([]*models.Entity, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50 // Default limit
	}

	query := `
		SELECT id, session_id, name, type, source, external_ref, created_at
		FROM app.entities
		WHERE session_id = $1
		  AND ($2 = '' OR type = $2)
		  AND ($3 = '' OR source = $3)
		ORDER BY id
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, sessionID, string(filter.Type), string(filter.Source), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := make([]*models.Entity, 0)
	for rows.Next() {
		var e models.Entity
		var refJSON []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Name, &e.Type, &e.Source, &refJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if len(refJSON) > 0 {
			if err := json.Unmarshal(refJSON, &e.Ref); err != nil {
				return nil, fmt.Errorf("failed to unmarshal external_ref: %w", err)
			}
		}
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}
