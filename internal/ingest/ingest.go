// Package ingest drives repository ingestion: fetch the candidate files,
// chunk each file, batch-embed the chunk texts, and persist chunks with
// their vectors, processing files with bounded parallelism.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/asadalpha/gitflair/internal/chunker"
	"github.com/asadalpha/gitflair/internal/faults"
	"github.com/asadalpha/gitflair/internal/github"
	"github.com/asadalpha/gitflair/internal/source"
	"github.com/asadalpha/gitflair/pkg/models"
)

const (
	// DefaultRepoQuota is the maximum number of repositories per user.
	DefaultRepoQuota = 2
	// DefaultFreshness is the window within which a repository is not
	// re-ingested.
	DefaultFreshness = 24 * time.Hour
	// DefaultWorkers is the number of files processed concurrently.
	DefaultWorkers = 3
)

// Store is the persistence surface ingestion needs.
type Store interface {
	GetRepositoryByURL(ctx context.Context, url, userID string) (models.Repository, bool, error)
	CountRepositories(ctx context.Context, userID string) (int, error)
	CreateRepository(ctx context.Context, userID, url, name, fullName string) (models.Repository, error)
	InsertChunks(ctx context.Context, chunks []models.Chunk, vecs [][]float32) error
	StampIndexed(ctx context.Context, repoID string, at time.Time) error
}

// Embedder converts document texts into vectors, preserving input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Ingestor handles ingestion of a source repository.
type Ingestor struct {
	Store     Store
	Embedder  Embedder
	Source    source.Lister
	Splitter  *chunker.Splitter
	RepoQuota int
	Freshness time.Duration
	Workers   int
}

// New creates an Ingestor with default quota, freshness window, worker
// width, and chunking parameters.
func New(st Store, emb Embedder, src source.Lister) *Ingestor {
	return &Ingestor{
		Store:     st,
		Embedder:  emb,
		Source:    src,
		Splitter:  chunker.New(),
		RepoQuota: DefaultRepoQuota,
		Freshness: DefaultFreshness,
		Workers:   DefaultWorkers,
	}
}

// Result reports the outcome of one ingestion request.
type Result struct {
	RepoID         string `json:"repo_id"`
	FilesProcessed int    `json:"files_processed"`
	AlreadyIndexed bool   `json:"already_indexed"`
}

// Run ingests the repository at rawURL for the given user identity. A
// repository indexed within the freshness window short-circuits without any
// fetch, embed, or store work. A failed file write aborts the run; chunks
// already committed for other files stay, and re-ingestion after the window
// recovers fully.
func (ix *Ingestor) Run(ctx context.Context, rawURL, userID string) (Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Result{}, faults.Validationf("repository URL is required")
	}
	if strings.TrimSpace(userID) == "" {
		userID = "anonymous"
	}
	owner, name, err := github.ParseURL(rawURL)
	if err != nil {
		return Result{}, err
	}

	repo, found, err := ix.Store.GetRepositoryByURL(ctx, rawURL, userID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup repository: %w", err)
	}

	if found && repo.IndexedAt != nil && time.Since(*repo.IndexedAt) < ix.Freshness {
		log.Info().Str("repo_id", repo.ID).Time("indexed_at", *repo.IndexedAt).
			Msg("repository already indexed recently")
		return Result{RepoID: repo.ID, AlreadyIndexed: true}, nil
	}

	if !found {
		// Admission check only; a concurrent burst can briefly exceed the
		// quota (soft limit).
		n, err := ix.Store.CountRepositories(ctx, userID)
		if err != nil {
			return Result{}, fmt.Errorf("count repositories: %w", err)
		}
		if n >= ix.RepoQuota {
			return Result{}, &faults.Quota{
				Resource: "repositories",
				Limit:    ix.RepoQuota,
				Msg: fmt.Sprintf("limit reached: you can only index up to %d repositories; delete an old repository to index a new one",
					ix.RepoQuota),
			}
		}
		repo, err = ix.Store.CreateRepository(ctx, userID, rawURL, name, owner+"/"+name)
		if err != nil {
			return Result{}, fmt.Errorf("create repository: %w", err)
		}
	}

	files, err := ix.Source.ListSupportedFiles(ctx, owner, name)
	if err != nil {
		return Result{}, err
	}

	log.Info().Str("repo", owner+"/"+name).Int("files", len(files)).
		Int("workers", ix.Workers).Msg("starting ingestion")

	if err := ix.processAll(ctx, repo.ID, files); err != nil {
		return Result{}, err
	}

	if err := ix.Store.StampIndexed(ctx, repo.ID, time.Now()); err != nil {
		return Result{}, fmt.Errorf("stamp repository: %w", err)
	}
	return Result{RepoID: repo.ID, FilesProcessed: len(files)}, nil
}

// processAll runs the file pipeline with a fixed worker width. The first
// file failure cancels the remaining work and is returned; files already
// written stay written.
func (ix *Ingestor) processAll(ctx context.Context, repoID string, files []source.File) error {
	workers := ix.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workChan := make(chan source.File)
	errChan := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range workChan {
				if ctx.Err() != nil {
					continue // drain remaining work after a failure
				}
				if err := ix.processFile(ctx, repoID, f); err != nil {
					select {
					case errChan <- err:
						cancel()
					default:
						log.Error().Err(err).Str("path", f.Path).Msg("file processing error")
					}
				}
			}
		}()
	}

	for _, f := range files {
		workChan <- f
	}
	close(workChan)
	wg.Wait()

	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}

// processFile chunks one file, embeds the non-empty chunk texts in order,
// pairs vectors back to chunks by position, and writes the surviving pairs
// as a single batch.
func (ix *Ingestor) processFile(ctx context.Context, repoID string, f source.File) error {
	frags := ix.Splitter.Split(f.Path, f.Content)

	var (
		kept  []chunker.Fragment
		texts []string
	)
	for _, fr := range frags {
		if strings.TrimSpace(fr.Content) == "" {
			continue
		}
		kept = append(kept, fr)
		texts = append(texts, fr.Content)
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := ix.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", f.Path, err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embed %s: got %d vectors for %d chunks", f.Path, len(vecs), len(texts))
	}

	var (
		chunks  []models.Chunk
		vectors [][]float32
	)
	for i, fr := range kept {
		if len(vecs[i]) == 0 {
			log.Warn().Str("path", f.Path).Int("start_line", fr.StartLine).
				Msg("dropping chunk with empty embedding")
			continue
		}
		chunks = append(chunks, models.Chunk{
			RepoID:    repoID,
			FilePath:  f.Path,
			Content:   fr.Content,
			StartLine: fr.StartLine,
			EndLine:   fr.EndLine,
			Language:  f.Language,
		})
		vectors = append(vectors, vecs[i])
	}
	if len(chunks) == 0 {
		return nil
	}

	if err := ix.Store.InsertChunks(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("store chunks for %s: %w", f.Path, err)
	}
	log.Debug().Str("path", f.Path).Int("chunks", len(chunks)).Msg("file indexed")
	return nil
}
