// Package store persists repositories, code chunks, and question/answer
// turns in PostgreSQL, with pgvector similarity search over chunk embeddings.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/asadalpha/gitflair/internal/faults"
	"github.com/asadalpha/gitflair/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies the schema. embedDim fixes the vector column width; every
// stored embedding must match it.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repositories (
  id          UUID PRIMARY KEY,
  user_id     TEXT NOT NULL,
  url         TEXT NOT NULL,
  name        TEXT NOT NULL,
  full_name   TEXT NOT NULL,
  indexed_at  TIMESTAMP WITH TIME ZONE,
  created_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  UNIQUE (url, user_id)
);

CREATE TABLE IF NOT EXISTS code_chunks (
  id          UUID PRIMARY KEY,
  repo_id     UUID NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
  file_path   TEXT NOT NULL,
  content     TEXT NOT NULL,
  start_line  INT NOT NULL,
  end_line    INT NOT NULL,
  language    TEXT,
  embedding   vector(%d) NOT NULL
);

CREATE INDEX IF NOT EXISTS code_chunks_repo_idx
  ON code_chunks (repo_id);

CREATE INDEX IF NOT EXISTS code_chunks_embedding_idx
  ON code_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS qa_history (
  id              UUID PRIMARY KEY,
  repo_id         UUID NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
  user_id         TEXT NOT NULL,
  question        TEXT NOT NULL,
  answer          TEXT NOT NULL,
  references_json JSONB NOT NULL DEFAULT '[]',
  created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS qa_history_repo_user_idx
  ON qa_history (repo_id, user_id);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, embedDim))
	return err
}

// GetRepositoryByURL looks up the repository for a (url, user) pair.
func (s *Store) GetRepositoryByURL(ctx context.Context, url, userID string) (models.Repository, bool, error) {
	const q = `
      SELECT id, user_id, url, name, full_name, indexed_at, created_at
      FROM repositories
      WHERE url = $1 AND user_id = $2`
	var r models.Repository
	err := s.pool.QueryRow(ctx, q, url, userID).
		Scan(&r.ID, &r.UserID, &r.URL, &r.Name, &r.FullName, &r.IndexedAt, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Repository{}, false, nil
		}
		return models.Repository{}, false, err
	}
	return r, true, nil
}

// CountRepositories returns the number of repositories owned by a user.
func (s *Store) CountRepositories(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM repositories WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// CreateRepository inserts a new repository row and returns it.
func (s *Store) CreateRepository(ctx context.Context, userID, url, name, fullName string) (models.Repository, error) {
	r := models.Repository{
		ID:       uuid.NewString(),
		UserID:   userID,
		URL:      url,
		Name:     name,
		FullName: fullName,
	}
	const q = `
      INSERT INTO repositories (id, user_id, url, name, full_name)
      VALUES ($1, $2, $3, $4, $5)
      RETURNING created_at`
	if err := s.pool.QueryRow(ctx, q, r.ID, r.UserID, r.URL, r.Name, r.FullName).Scan(&r.CreatedAt); err != nil {
		return models.Repository{}, err
	}
	return r, nil
}

// StampIndexed records a successful ingestion time on the repository.
func (s *Store) StampIndexed(ctx context.Context, repoID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE repositories SET indexed_at = $2 WHERE id = $1`, repoID, at)
	return err
}

// ListIndexedRepositories returns a user's repositories that have completed
// at least one ingestion, most recently indexed first.
func (s *Store) ListIndexedRepositories(ctx context.Context, userID string, limit int) ([]models.Repository, error) {
	const q = `
      SELECT id, user_id, url, name, full_name, indexed_at, created_at
      FROM repositories
      WHERE user_id = $1 AND indexed_at IS NOT NULL
      ORDER BY indexed_at DESC
      LIMIT $2`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Repository
	for rows.Next() {
		var r models.Repository
		if err := rows.Scan(&r.ID, &r.UserID, &r.URL, &r.Name, &r.FullName, &r.IndexedAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRepository removes a repository; chunks and turns cascade with it.
// The core never calls this — it exists for administrative cleanup.
func (s *Store) DeleteRepository(ctx context.Context, repoID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1`, repoID)
	return err
}

// InsertChunks writes one file's chunks and their vectors in a single
// transaction: either every row lands or the call fails as a unit.
// chunks and vecs are paired by position.
func (s *Store) InsertChunks(ctx context.Context, chunks []models.Chunk, vecs [][]float32) error {
	if len(chunks) != len(vecs) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vecs))
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `
      INSERT INTO code_chunks (id, repo_id, file_path, content, start_line, end_line, language, embedding)
      VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.Exec(ctx, q,
			id, c.RepoID, c.FilePath, c.Content, c.StartLine, c.EndLine, c.Language,
			pgvector.NewVector(vecs[i]),
		)
		if err != nil {
			return dimensionAware(err)
		}
	}
	return tx.Commit(ctx)
}

// CountChunks returns the number of stored chunks for a repository.
func (s *Store) CountChunks(ctx context.Context, repoID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM code_chunks WHERE repo_id = $1`, repoID).Scan(&n)
	return n, err
}

// SimilaritySearch returns up to limit chunks of the repository whose cosine
// similarity to queryVec exceeds threshold, most similar first.
func (s *Store) SimilaritySearch(ctx context.Context, repoID string, queryVec []float32, threshold float64, limit int) ([]models.Chunk, error) {
	const q = `
      SELECT id, repo_id, file_path, content, start_line, end_line, COALESCE(language, ''),
             1 - (embedding <=> $2) AS similarity
      FROM code_chunks
      WHERE repo_id = $1 AND 1 - (embedding <=> $2) > $3
      ORDER BY embedding <=> $2
      LIMIT $4`
	rows, err := s.pool.Query(ctx, q, repoID, pgvector.NewVector(queryVec), threshold, limit)
	if err != nil {
		return nil, dimensionAware(err)
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.RepoID, &c.FilePath, &c.Content, &c.StartLine, &c.EndLine, &c.Language, &c.Similarity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountTurns returns the number of stored turns for a (repository, user)
// pair; the question quota is evaluated against this count.
func (s *Store) CountTurns(ctx context.Context, repoID, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM qa_history WHERE repo_id = $1 AND user_id = $2`, repoID, userID).Scan(&n)
	return n, err
}

// InsertTurn persists one question/answer exchange with its citations.
func (s *Store) InsertTurn(ctx context.Context, turn models.QueryTurn) error {
	refs, err := json.Marshal(turn.Citations)
	if err != nil {
		return err
	}
	id := turn.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := turn.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	const q = `
      INSERT INTO qa_history (id, repo_id, user_id, question, answer, references_json, created_at)
      VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, q, id, turn.RepoID, turn.UserID, turn.Question, turn.Answer, refs, created)
	return err
}

// RecentTurns returns the latest turns for a (repository, user) pair,
// newest first.
func (s *Store) RecentTurns(ctx context.Context, repoID, userID string, limit int) ([]models.QueryTurn, error) {
	const q = `
      SELECT id, repo_id, user_id, question, answer, references_json, created_at
      FROM qa_history
      WHERE repo_id = $1 AND user_id = $2
      ORDER BY created_at DESC
      LIMIT $3`
	rows, err := s.pool.Query(ctx, q, repoID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueryTurn
	for rows.Next() {
		var t models.QueryTurn
		var refs []byte
		if err := rows.Scan(&t.ID, &t.RepoID, &t.UserID, &t.Question, &t.Answer, &refs, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(refs, &t.Citations); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// dimensionAware recognizes pgvector's dimensionality complaint, which means
// the stored schema no longer matches the embedder. That is not recoverable
// at query time; the repository must be reindexed against the current width.
func dimensionAware(err error) error {
	if err != nil && strings.Contains(err.Error(), "dimensions") {
		return &faults.Dependency{
			System: "store",
			Hint:   "embedding width changed; drop code_chunks and reindex the repository",
			Err:    err,
		}
	}
	return err
}
