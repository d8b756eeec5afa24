package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/contexthq/memory-engine/pkg/database"
	"github.com/contexthq/memory-engine/pkg/models"
)

// SimilarMemory pairs a memory with its cosine similarity to a query vector.
type SimilarMemory struct {
	Memory     *models.Memory
	Similarity float64
}

// MemoryRepository persists typed memories. Deduplication policy and score
// weighting live in the memory service; this layer only stores and queries.
type MemoryRepository interface {
	Create(ctx context.Context, memory *models.Memory) error
	FindBySessionText(ctx context.Context, sessionID, text string) (*models.Memory, error)
	UpdateImportance(ctx context.Context, id int64, importance float64) error

	ListBySession(ctx context.Context, sessionID string) ([]*models.Memory, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Memory, error)
	ListByUserKind(ctx context.Context, userID string, kind models.MemoryKind, limit int) ([]*models.Memory, error)
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*models.Memory, error)
	ListSemanticByUser(ctx context.Context, userID string) ([]*models.Memory, error)

	// SearchSimilar runs an ANN scan over non-expired embedded memories for
	// the user, across all sessions, ordered by cosine distance.
	SearchSimilar(ctx context.Context, userID string, query []float32, limit int) ([]*SimilarMemory, error)

	FindAliasMapping(ctx context.Context, userID, aliasText string) (*models.Memory, error)
	FindMultilingualMapping(ctx context.Context, userID, foreignText string) (*models.Memory, error)
}

type memoryRepository struct {
	db *database.DB
}

// NewMemoryRepository creates a new MemoryRepository.
func NewMemoryRepository(db *database.DB) MemoryRepository {
	return &memoryRepository{db: db}
}

var _ MemoryRepository = (*memoryRepository)(nil)

const memoryColumns = `id, session_id, user_id, kind, text, embedding, importance, ttl_days, external_ref, created_at`

func (r *memoryRepository) Create(ctx context.Context, memory *models.Memory) error {
	if !models.IsValidMemoryKind(memory.Kind) {
		return fmt.Errorf("invalid memory kind %q", memory.Kind)
	}
	if memory.TTLDays != nil && *memory.TTLDays < 0 {
		return fmt.Errorf("negative ttl_days %d", *memory.TTLDays)
	}

	// Importance is clamped to [0,1] at persistence.
	if memory.Importance < 0 {
		memory.Importance = 0
	}
	if memory.Importance > 1 {
		memory.Importance = 1
	}

	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now()
	}

	var embedding any
	if len(memory.Embedding) > 0 {
		embedding = pgvector.NewVector(memory.Embedding)
	}

	var refJSON []byte
	if memory.Ref != nil {
		var err error
		refJSON, err = json.Marshal(memory.Ref)
		if err != nil {
			return fmt.Errorf("failed to marshal external_ref: %w", err)
		}
	}

	query := `
		INSERT INTO app.memories (session_id, user_id, kind, text, embedding, importance, ttl_days, external_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		memory.SessionID, memory.UserID, memory.Kind, memory.Text,
		embedding, memory.Importance, memory.TTLDays, refJSON, memory.CreatedAt,
	).Scan(&memory.ID)
	if err != nil {
		return fmt.Errorf("failed to create memory: %w", err)
	}

	return nil
}

func (r *memoryRepository) FindBySessionText(ctx context.Context, sessionID, text string) (*models.Memory, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM app.memories
		WHERE session_id = $1 AND text = $2
		ORDER BY id
		LIMIT 1`, memoryColumns)

	row := r.db.QueryRow(ctx, query, sessionID, text)
	m, err := scanMemoryRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (r *memoryRepository) UpdateImportance(ctx context.Context, id int64, importance float64) error {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	query := `UPDATE app.memories SET importance = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, importance)
	if err != nil {
		return fmt.Errorf("failed to update importance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory %d not found", id)
	}

	return nil
}

// notExpired excludes memories whose TTL has elapsed. Expired rows are kept
// in place and purged lazily; queries just skip them.
const notExpired = `(ttl_days IS NULL OR created_at + make_interval(days => ttl_days) > now())`

func (r *memoryRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Memory, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM app.memories
		WHERE session_id = $1
		ORDER BY id`, memoryColumns)

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

func (r *memoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM app.memories
		WHERE user_id = $1 AND %s
		ORDER BY id DESC
		LIMIT $2`, memoryColumns, notExpired)

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

func (r *memoryRepository) ListByUserKind(ctx context.Context, userID string, kind models.MemoryKind, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM app.memories
		WHERE user_id = $1 AND kind = $2 AND %s
		ORDER BY id DESC
		LIMIT $3`, memoryColumns, notExpired)

	rows, err := r.db.Query(ctx, query, userID, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories by kind: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

func (r *memoryRepository) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*models.Memory, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM app.memories
		WHERE user_id = $1 AND created_at >= $2 AND %s
		ORDER BY created_at`, memoryColumns, notExpired)

	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

func (r *memoryRepository) ListSemanticByUser(ctx context.Context, userID string) ([]*models.Memory, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM app.memories
		WHERE user_id = $1 AND kind = 'semantic'
		ORDER BY id`, memoryColumns)

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list semantic memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

func (r *memoryRepository) SearchSimilar(ctx context.Context, userID string, queryVec []float32, limit int) ([]*SimilarMemory, error) {
	if limit <= 0 {
		limit = 20
	}

	vec := pgvector.NewVector(queryVec)

	// Cosine distance; the ivfflat index on app.memories serves this scan.
	query := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $2) AS similarity
		FROM app.memories
		WHERE user_id = $1 AND embedding IS NOT NULL AND %s
		ORDER BY embedding <=> $2
		LIMIT $3`, memoryColumns, notExpired)

	rows, err := r.db.Query(ctx, query, userID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	results := make([]*SimilarMemory, 0)
	for rows.Next() {
		m, similarity, err := scanMemoryWithSimilarity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, &SimilarMemory{Memory: m, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar memories: %w", err)
	}

	return results, nil
}

func (r *memoryRepository) FindAliasMapping(ctx context.Context, userID, aliasText string) (*models.Memory, error) {
	return r.findByRef(ctx, userID, models.RefTypeAliasMapping, "alias_text", aliasText)
}

func (r *memoryRepository) FindMultilingualMapping(ctx context.Context, userID, foreignText string) (*models.Memory, error) {
	return r.findByRef(ctx, userID, models.RefTypeMultilingualMapping, "foreign_text", foreignText)
}

func (r *memoryRepository) findByRef(ctx context.Context, userID, refType, key, value string) (*models.Memory, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM app.memories
		WHERE user_id = $1
		  AND external_ref->>'type' = $2
		  AND external_ref->>'%s' = $3
		ORDER BY id DESC
		LIMIT 1`, memoryColumns, key)

	row := r.db.QueryRow(ctx, query, userID, refType, value)
	m, err := scanMemoryRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanMemoryFields(scan func(dest ...any) error, withSimilarity bool) (*models.Memory, float64, error) {
	var m models.Memory
	var embedding *pgvector.Vector
	var refJSON []byte
	var similarity float64

	dest := []any{
		&m.ID, &m.SessionID, &m.UserID, &m.Kind, &m.Text,
		&embedding, &m.Importance, &m.TTLDays, &refJSON, &m.CreatedAt,
	}
	if withSimilarity {
		dest = append(dest, &similarity)
	}

	if err := scan(dest...); err != nil {
		return nil, 0, err
	}

	if embedding != nil {
		m.Embedding = embedding.Slice()
	}
	if len(refJSON) > 0 {
		m.Ref = &models.MemoryRef{}
		if err := json.Unmarshal(refJSON, m.Ref); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal external_ref: %w", err)
		}
	}

	return &m, similarity, nil
}

func scanMemoryRow(row pgx.Row) (*models.Memory, error) {
	m, _, err := scanMemoryFields(row.Scan, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}
	return m, nil
}

func scanMemories(rows pgx.Rows) ([]*models.Memory, error) {
	memories := make([]*models.Memory, 0)
	for rows.Next() {
		m, _, err := scanMemoryFields(rows.Scan, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}
	return memories, nil
}

func scanMemoryWithSimilarity(rows pgx.Rows) (*models.Memory, float64, error) {
	m, similarity, err := scanMemoryFields(rows.Scan, true)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan memory: %w", err)
	}
	return m, similarity, nil
}
