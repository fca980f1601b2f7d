package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
)

const (
	upsertEmbeddingQuery = `
		INSERT INTO account_embeddings (account_id, embedding, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
		        embedding = EXCLUDED.embedding,
		        updated_at = EXCLUDED.updated_at`

	similarAccountsQuery = `
		SELECT account_id, 1 - (embedding <=> $2) AS similarity
		FROM account_embeddings
		WHERE account_id <> $1
		ORDER BY embedding <=> $2
		LIMIT $3`

	getEmbeddingQuery = `
		SELECT embedding FROM account_embeddings WHERE account_id = $1`
)

// SimilarAccount is one cosine-similarity neighbor of an account
type SimilarAccount struct {
	AccountID  uuid.UUID `db:"account_id"`
	Similarity float64   `db:"similarity"`
}

// VectorStore persists account profile embeddings for similarity lookups
type VectorStore struct {
	db *sqlx.DB
}

// NewVectorStore creates a vector store over db
func NewVectorStore(db *sqlx.DB) *VectorStore {
	return &VectorStore{db: db}
}

func (s *VectorStore) UpsertAccountEmbedding(ctx context.Context, accountID uuid.UUID, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, upsertEmbeddingQuery,
		accountID, pgvector.NewVector(embedding), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert account embedding: %w", err)
	}
	return nil
}

// SimilarAccounts returns the nearest neighbors of an account's embedding by
// cosine distance. The account itself must already have an embedding.
func (s *VectorStore) SimilarAccounts(ctx context.Context, accountID uuid.UUID, limit int) ([]SimilarAccount, error) {
	if limit <= 0 {
		limit = 10
	}
	var embedding pgvector.Vector
	if err := s.db.GetContext(ctx, &embedding, getEmbeddingQuery, accountID); err != nil {
		return nil, fmt.Errorf("get account embedding: %w", err)
	}
	var neighbors []SimilarAccount
	if err := s.db.SelectContext(ctx, &neighbors, similarAccountsQuery, accountID, embedding, limit); err != nil {
		return nil, fmt.Errorf("similar accounts: %w", err)
	}
	return neighbors, nil
}
