// Package qa answers natural-language questions about an indexed repository
// by retrieving similar chunks and grounding a chat model on them.
package qa

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/asadalpha/gitflair/internal/faults"
	"github.com/asadalpha/gitflair/pkg/models"
)

const (
	// DefaultTurnQuota is the maximum number of questions per user per
	// repository.
	DefaultTurnQuota = 10
	// DefaultTopK is the number of chunks retrieved per question.
	DefaultTopK = 4
	// DefaultThreshold is the minimum cosine similarity for a chunk to be
	// considered relevant.
	DefaultThreshold = 0.15
	// DefaultHistoryDepth is how many prior turns feed the prompt.
	DefaultHistoryDepth = 5
)

// disclosurePattern gates whether retrieved chunk bodies are returned to the
// caller alongside the answer.
var disclosurePattern = regexp.MustCompile(`(?i)show|code|snippet|implementation|function|how does|source|example`)

// Store is the persistence surface question answering needs.
type Store interface {
	CountTurns(ctx context.Context, repoID, userID string) (int, error)
	CountChunks(ctx context.Context, repoID string) (int, error)
	SimilaritySearch(ctx context.Context, repoID string, queryVec []float32, threshold float64, limit int) ([]models.Chunk, error)
	InsertTurn(ctx context.Context, turn models.QueryTurn) error
	RecentTurns(ctx context.Context, repoID, userID string, limit int) ([]models.QueryTurn, error)
}

// AI is the model surface question answering needs.
type AI interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service answers questions against one repository's index.
type Service struct {
	Store        Store
	AI           AI
	TurnQuota    int
	TopK         int
	Threshold    float64
	HistoryDepth int
}

// New creates a Service with default quota and retrieval parameters.
func New(st Store, ai AI) *Service {
	return &Service{
		Store:        st,
		AI:           ai,
		TurnQuota:    DefaultTurnQuota,
		TopK:         DefaultTopK,
		Threshold:    DefaultThreshold,
		HistoryDepth: DefaultHistoryDepth,
	}
}

// Response is the outcome of one question.
type Response struct {
	Answer        string            `json:"answer"`
	Kind          models.AnswerKind `json:"kind"`
	Chunks        []models.Chunk    `json:"chunks,omitempty"`
	Citations     []models.Citation `json:"citations,omitempty"`
	CanDisclose   bool              `json:"can_disclose"`
	TurnPersisted bool              `json:"turn_persisted"`
}

// Ask answers one question about the given repository. The turn quota is
// checked before any model call. Answers that cannot be grounded (nothing
// indexed, or nothing similar enough) are diagnostics, not errors.
func (s *Service) Ask(ctx context.Context, repoID, userID, question string) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, faults.Validationf("question is required")
	}
	if strings.TrimSpace(repoID) == "" {
		return Response{}, faults.Validationf("repository id is required")
	}
	if strings.TrimSpace(userID) == "" {
		userID = "anonymous"
	}

	// Admission check only; a concurrent burst can briefly exceed the
	// quota (soft limit).
	turns, err := s.Store.CountTurns(ctx, repoID, userID)
	if err != nil {
		return Response{}, fmt.Errorf("count turns: %w", err)
	}
	if turns >= s.TurnQuota {
		return Response{}, &faults.Quota{
			Resource: "questions",
			Limit:    s.TurnQuota,
			Msg: fmt.Sprintf("limit reached: you can only ask up to %d questions per repository; start with a new repository to continue",
				s.TurnQuota),
		}
	}

	queryVec, err := s.AI.EmbedQuery(ctx, question)
	if err != nil {
		return Response{}, err
	}
	if len(queryVec) == 0 {
		return Response{}, &faults.Dependency{
			System: "embedding",
			Err:    fmt.Errorf("provider returned an empty vector for the question"),
		}
	}

	indexed, err := s.Store.CountChunks(ctx, repoID)
	if err != nil {
		return Response{}, fmt.Errorf("count chunks: %w", err)
	}
	// Diagnostic answers are returned directly: no turn is recorded, so
	// they neither consume the question quota nor feed later prompts as
	// conversation history.
	if indexed == 0 {
		return Response{
			Answer: "This repository has no indexed content. It may still be ingesting, " +
				"or the index was cleared after an embedding width change; re-index the repository and try again.",
			Kind: models.AnswerNotIndexed,
		}, nil
	}

	chunks, err := s.Store.SimilaritySearch(ctx, repoID, queryVec, s.Threshold, s.TopK)
	if err != nil {
		return Response{}, fmt.Errorf("similarity search: %w", err)
	}
	if len(chunks) == 0 {
		return Response{
			Answer: fmt.Sprintf("Found %d chunks in the index but none matched your query. "+
				"Try asking about a specific file, function, or feature.", indexed),
			Kind: models.AnswerNoMatch,
		}, nil
	}

	history, err := s.Store.RecentTurns(ctx, repoID, userID, s.HistoryDepth)
	if err != nil {
		log.Warn().Err(err).Str("repo_id", repoID).Msg("loading chat history failed; answering without it")
		history = nil
	}

	answer, err := s.AI.Generate(ctx, buildPrompt(question, chunks, history))
	if err != nil {
		return Response{}, err
	}

	return s.finish(ctx, repoID, userID, question, Response{
		Answer: answer,
		Kind:   models.AnswerGrounded,
		Chunks: chunks,
	})
}

// finish completes a grounded answer: it persists the turn best-effort and
// applies the disclosure gate. A failed write never blocks the answer; the
// caller sees TurnPersisted=false. CanDisclose is set only on withheld
// responses, signalling that a follow-up question can surface the chunks.
func (s *Service) finish(ctx context.Context, repoID, userID, question string, resp Response) (Response, error) {
	resp.Citations = citationsFor(resp.Chunks)

	turn := models.QueryTurn{
		RepoID:    repoID,
		UserID:    userID,
		Question:  question,
		Answer:    resp.Answer,
		Citations: resp.Citations,
		CreatedAt: time.Now(),
	}
	if err := s.Store.InsertTurn(ctx, turn); err != nil {
		log.Warn().Err(err).Str("repo_id", repoID).Msg("persisting turn failed; answer returned anyway")
	} else {
		resp.TurnPersisted = true
	}

	if !disclosurePattern.MatchString(question) {
		resp.CanDisclose = len(resp.Chunks) > 0
		resp.Chunks = nil
	}
	return resp, nil
}

// History returns the most recent turns for the repository and user, newest
// first.
func (s *Service) History(ctx context.Context, repoID, userID string, limit int) ([]models.QueryTurn, error) {
	if strings.TrimSpace(repoID) == "" {
		return nil, faults.Validationf("repository id is required")
	}
	if strings.TrimSpace(userID) == "" {
		userID = "anonymous"
	}
	if limit <= 0 {
		limit = s.TurnQuota
	}
	turns, err := s.Store.RecentTurns(ctx, repoID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return turns, nil
}

func citationsFor(chunks []models.Chunk) []models.Citation {
	if len(chunks) == 0 {
		return nil
	}
	cites := make([]models.Citation, 0, len(chunks))
	for _, c := range chunks {
		cites = append(cites, models.Citation{
			FilePath:  c.FilePath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
		})
	}
	return cites
}

// buildPrompt assembles the grounded prompt: system rules, the retrieved
// context block, prior turns oldest-first, then the question.
func buildPrompt(question string, chunks []models.Chunk, history []models.QueryTurn) string {
	blocks := make([]string, 0, len(chunks))
	for _, c := range chunks {
		blocks = append(blocks, fmt.Sprintf("File: %s (Lines %d-%d)\nContent:\n%s",
			c.FilePath, c.StartLine, c.EndLine, c.Content))
	}

	var b strings.Builder
	b.WriteString(`You are a codebase assistant. Answer strictly from the provided context.

Rules:
- Never paste source code into the answer; describe behavior in prose.
- Cite the files you draw on inline, wrapping paths in backticks.
- If the context does not cover the question, reply exactly: "I couldn't find that in the indexed codebase."
- Adapt the format of the answer to the question: lists for enumerations, short prose otherwise.

Context:
`)
	b.WriteString(strings.Join(blocks, "\n\n---\n\n"))

	if len(history) > 0 {
		b.WriteString("\n\nPrevious conversation:\n")
		// RecentTurns returns newest first; replay oldest first.
		for i := len(history) - 1; i >= 0; i-- {
			t := history[i]
			b.WriteString("User: " + t.Question + "\n")
			b.WriteString("Assistant: " + t.Answer + "\n")
		}
	}

	b.WriteString("\n\nQuestion: " + question + "\n")
	return b.String()
}
