package models

import "time"

// Repository is an indexed source tree, owned by the user identity that
// requested it. IndexedAt is nil until the first ingestion completes.
type Repository struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	URL       string     `json:"url"`
	Name      string     `json:"name"`
	FullName  string     `json:"full_name"`
	IndexedAt *time.Time `json:"indexed_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Chunk is a contiguous, line-numbered slice of one file. Line numbers are
// 1-indexed and inclusive. Similarity is only populated by retrieval.
type Chunk struct {
	ID         string  `json:"id"`
	RepoID     string  `json:"repo_id"`
	FilePath   string  `json:"file_path"`
	Content    string  `json:"content"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Language   string  `json:"language"`
	Similarity float64 `json:"similarity,omitempty"`
}

// Citation locates a chunk without carrying its text.
type Citation struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// QueryTurn is one question/answer exchange against a repository.
type QueryTurn struct {
	ID        string     `json:"id"`
	RepoID    string     `json:"repo_id"`
	UserID    string     `json:"user_id"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	CreatedAt time.Time  `json:"created_at"`
}

// AnswerKind labels the state an answer came out of, so callers can tell
// "nothing indexed" from "nothing relevant" from a grounded answer.
type AnswerKind string

const (
	AnswerGrounded   AnswerKind = "grounded"
	AnswerNotIndexed AnswerKind = "not_indexed"
	AnswerNoMatch    AnswerKind = "no_match"
)
