package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/contexthq/memory-engine/pkg/database"
	"github.com/contexthq/memory-engine/pkg/models"
)

// SimilarSummary pairs a summary with its cosine similarity to a query vector.
type SimilarSummary struct {
	Summary    *models.MemorySummary
	Similarity float64
}

// SummaryRepository persists consolidated per-user memory summaries,
// one row per (user_id, session_window).
type SummaryRepository interface {
	Upsert(ctx context.Context, summary *models.MemorySummary) error
	ListByUser(ctx context.Context, userID string) ([]*models.MemorySummary, error)
	SearchSimilar(ctx context.Context, userID string, query []float32, limit int) ([]*SimilarSummary, error)
}

type summaryRepository struct {
	db *database.DB
}

// NewSummaryRepository creates a new SummaryRepository.
func NewSummaryRepository(db *database.DB) SummaryRepository {
	return &summaryRepository{db: db}
}

var _ SummaryRepository = (*summaryRepository)(nil)

func (r *summaryRepository) Upsert(ctx context.Context, summary *models.MemorySummary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}

	var embedding any
	if len(summary.Embedding) > 0 {
		embedding = pgvector.NewVector(summary.Embedding)
	}

	query := `
		INSERT INTO app.memory_summaries (user_id, session_window, summary, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, session_window)
		DO UPDATE SET summary = EXCLUDED.summary,
		              embedding = EXCLUDED.embedding,
		              created_at = EXCLUDED.created_at
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		summary.UserID, summary.SessionWindow, summary.Summary, embedding, summary.CreatedAt,
	).Scan(&summary.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}

	return nil
}

func (r *summaryRepository) ListByUser(ctx context.Context, userID string) ([]*models.MemorySummary, error) {
	query := `
		SELECT id, user_id, session_window, summary, embedding, created_at
		FROM app.memory_summaries
		WHERE user_id = $1
		ORDER BY session_window`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]*models.MemorySummary, 0)
	for rows.Next() {
		var s models.MemorySummary
		var embedding *pgvector.Vector
		if err := rows.Scan(&s.ID, &s.UserID, &s.SessionWindow, &s.Summary, &embedding, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		if embedding != nil {
			s.Embedding = embedding.Slice()
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summaries: %w", err)
	}

	return summaries, nil
}

func (r *summaryRepository) SearchSimilar(ctx context.Context, userID string, queryVec []float32, limit int) ([]*SimilarSummary, error) {
	if limit <= 0 {
		limit = 5
	}

	vec := pgvector.NewVector(queryVec)

	query := `
		SELECT id, user_id, session_window, summary, embedding, created_at,
		       1 - (embedding <=> $2) AS similarity
		FROM app.memory_summaries
		WHERE user_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, userID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search summaries: %w", err)
	}
	defer rows.Close()

	results := make([]*SimilarSummary, 0)
	for rows.Next() {
		var s models.MemorySummary
		var embedding *pgvector.Vector
		var similarity float64
		if err := rows.Scan(&s.ID, &s.UserID, &s.SessionWindow, &s.Summary, &embedding, &s.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		if embedding != nil {
			s.Embedding = embedding.Slice()
		}
		results = append(results, &SimilarSummary{Summary: &s, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar summaries: %w", err)
	}

	return results, nil
}
