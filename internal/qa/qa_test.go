package qa

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/asadalpha/gitflair/internal/faults"
	"github.com/asadalpha/gitflair/pkg/models"
)

type fakeStore struct {
	CountTurnsFunc  func(repoID, userID string) (int, error)
	CountChunksFunc func(repoID string) (int, error)
	SearchFunc      func(repoID string, vec []float32, threshold float64, limit int) ([]models.Chunk, error)
	InsertFunc      func(turn models.QueryTurn) error
	RecentFunc      func(repoID, userID string, limit int) ([]models.QueryTurn, error)

	inserted []models.QueryTurn
}

func (f *fakeStore) CountTurns(_ context.Context, repoID, userID string) (int, error) {
	if f.CountTurnsFunc != nil {
		return f.CountTurnsFunc(repoID, userID)
	}
	return 0, nil
}

func (f *fakeStore) CountChunks(_ context.Context, repoID string) (int, error) {
	if f.CountChunksFunc != nil {
		return f.CountChunksFunc(repoID)
	}
	return 1, nil
}

func (f *fakeStore) SimilaritySearch(_ context.Context, repoID string, vec []float32, threshold float64, limit int) ([]models.Chunk, error) {
	if f.SearchFunc != nil {
		return f.SearchFunc(repoID, vec, threshold, limit)
	}
	return nil, nil
}

func (f *fakeStore) InsertTurn(_ context.Context, turn models.QueryTurn) error {
	f.inserted = append(f.inserted, turn)
	if f.InsertFunc != nil {
		return f.InsertFunc(turn)
	}
	return nil
}

func (f *fakeStore) RecentTurns(_ context.Context, repoID, userID string, limit int) ([]models.QueryTurn, error) {
	if f.RecentFunc != nil {
		return f.RecentFunc(repoID, userID, limit)
	}
	return nil, nil
}

type fakeAI struct {
	embeds    int
	generates int
	prompt    string
	vec       []float32
	embedErr  error
	answer    string
	genErr    error
}

func (f *fakeAI) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.embeds++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if f.vec == nil {
		return []float32{0.1, 0.2}, nil
	}
	return f.vec, nil
}

func (f *fakeAI) Generate(_ context.Context, prompt string) (string, error) {
	f.generates++
	f.prompt = prompt
	if f.genErr != nil {
		return "", f.genErr
	}
	if f.answer == "" {
		return "the login handler validates credentials", nil
	}
	return f.answer, nil
}

func sampleChunks() []models.Chunk {
	return []models.Chunk{
		{FilePath: "auth/login.go", Content: "func Login() {}", StartLine: 10, EndLine: 14, Similarity: 0.9},
		{FilePath: "auth/session.go", Content: "func NewSession() {}", StartLine: 3, EndLine: 8, Similarity: 0.4},
	}
}

func TestAsk_Validation(t *testing.T) {
	svc := New(&fakeStore{}, &fakeAI{})
	if _, err := svc.Ask(context.Background(), "repo-1", "u", "   "); !faults.IsValidation(err) {
		t.Errorf("blank question: got %v, want validation error", err)
	}
	if _, err := svc.Ask(context.Background(), "", "u", "what is this"); !faults.IsValidation(err) {
		t.Errorf("blank repo id: got %v, want validation error", err)
	}
}

func TestAsk_QuotaCheckedBeforeEmbedding(t *testing.T) {
	st := &fakeStore{
		CountTurnsFunc: func(repoID, userID string) (int, error) { return 10, nil },
	}
	ai := &fakeAI{}
	svc := New(st, ai)

	_, err := svc.Ask(context.Background(), "repo-1", "u", "what is this")
	if !faults.IsQuota(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if ai.embeds != 0 || ai.generates != 0 {
		t.Error("no model call may happen past the quota")
	}
	if len(st.inserted) != 0 {
		t.Error("no turn may be recorded past the quota")
	}
}

func TestAsk_NothingIndexed(t *testing.T) {
	st := &fakeStore{
		CountChunksFunc: func(repoID string) (int, error) { return 0, nil },
	}
	ai := &fakeAI{}
	svc := New(st, ai)

	resp, err := svc.Ask(context.Background(), "repo-1", "u", "what is this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != models.AnswerNotIndexed {
		t.Errorf("kind = %v, want not-indexed", resp.Kind)
	}
	if ai.generates != 0 {
		t.Error("an empty index must not reach the chat model")
	}
	if len(resp.Citations) != 0 {
		t.Error("a diagnostic answer carries no citations")
	}
	if len(st.inserted) != 0 || resp.TurnPersisted {
		t.Error("a diagnostic answer must not be recorded as a turn")
	}
}

func TestAsk_NoMatch(t *testing.T) {
	st := &fakeStore{
		CountChunksFunc: func(repoID string) (int, error) { return 42, nil },
		SearchFunc: func(repoID string, vec []float32, threshold float64, limit int) ([]models.Chunk, error) {
			if threshold != DefaultThreshold || limit != DefaultTopK {
				t.Errorf("search called with threshold=%v limit=%d", threshold, limit)
			}
			return nil, nil
		},
	}
	ai := &fakeAI{}
	svc := New(st, ai)

	resp, err := svc.Ask(context.Background(), "repo-1", "u", "what is this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != models.AnswerNoMatch {
		t.Errorf("kind = %v, want no-match", resp.Kind)
	}
	if !strings.Contains(resp.Answer, "42 chunks") {
		t.Errorf("diagnostic should mention the index size, got %q", resp.Answer)
	}
	if ai.generates != 0 {
		t.Error("zero matches must not reach the chat model")
	}
	if len(st.inserted) != 0 || resp.TurnPersisted {
		t.Error("a diagnostic answer must not be recorded as a turn")
	}
}

func TestAsk_GroundedAnswer(t *testing.T) {
	history := []models.QueryTurn{
		{Question: "second question", Answer: "second answer"},
		{Question: "first question", Answer: "first answer"},
	}
	st := &fakeStore{
		SearchFunc: func(repoID string, vec []float32, threshold float64, limit int) ([]models.Chunk, error) {
			return sampleChunks(), nil
		},
		RecentFunc: func(repoID, userID string, limit int) ([]models.QueryTurn, error) {
			if limit != DefaultHistoryDepth {
				t.Errorf("history loaded with limit %d, want %d", limit, DefaultHistoryDepth)
			}
			return history, nil
		},
	}
	ai := &fakeAI{}
	svc := New(st, ai)

	resp, err := svc.Ask(context.Background(), "repo-1", "u", "what does the login handler do")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != models.AnswerGrounded {
		t.Errorf("kind = %v, want grounded", resp.Kind)
	}
	if !resp.TurnPersisted {
		t.Error("turn should be persisted")
	}
	if len(st.inserted) != 1 || st.inserted[0].CreatedAt.IsZero() {
		t.Error("persisted turn should carry its creation time")
	}

	if !strings.Contains(ai.prompt, "File: auth/login.go (Lines 10-14)") {
		t.Errorf("prompt missing context header:\n%s", ai.prompt)
	}
	if !strings.Contains(ai.prompt, "\n\n---\n\n") {
		t.Error("context blocks should be separated by ---")
	}
	// Oldest turn replays first.
	first := strings.Index(ai.prompt, "first question")
	second := strings.Index(ai.prompt, "second question")
	if first == -1 || second == -1 || first > second {
		t.Errorf("history not replayed oldest-first:\n%s", ai.prompt)
	}

	wantCites := []models.Citation{
		{FilePath: "auth/login.go", StartLine: 10, EndLine: 14},
		{FilePath: "auth/session.go", StartLine: 3, EndLine: 8},
	}
	if len(resp.Citations) != len(wantCites) {
		t.Fatalf("got %d citations, want %d", len(resp.Citations), len(wantCites))
	}
	for i, c := range resp.Citations {
		if c != wantCites[i] {
			t.Errorf("citation[%d] = %+v, want %+v", i, c, wantCites[i])
		}
	}
}

func TestAsk_DisclosureGate(t *testing.T) {
	tests := []struct {
		question   string
		wantChunks bool
	}{
		{"show me the login handler", true},
		{"how does authentication work", true},
		{"what is the Example function", true},
		{"why is the config loaded twice", false},
		{"what are the quotas", false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			st := &fakeStore{
				SearchFunc: func(repoID string, vec []float32, threshold float64, limit int) ([]models.Chunk, error) {
					return sampleChunks(), nil
				},
			}
			svc := New(st, &fakeAI{})

			resp, err := svc.Ask(context.Background(), "repo-1", "u", tt.question)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantChunks {
				if len(resp.Chunks) == 0 {
					t.Error("disclosing answer should carry the retrieved chunks")
				}
				if resp.CanDisclose {
					t.Error("CanDisclose should be false once chunks are already disclosed")
				}
			} else {
				if resp.Chunks != nil {
					t.Error("withheld answer must not carry chunk bodies")
				}
				// The withheld set is non-empty, so a follow-up can ask
				// for it.
				if !resp.CanDisclose {
					t.Error("withheld answer should advertise that disclosure is available")
				}
			}
			// Citations are independent of disclosure.
			if len(resp.Citations) != 2 {
				t.Errorf("got %d citations, want 2", len(resp.Citations))
			}
			if len(st.inserted) != 1 || len(st.inserted[0].Citations) != 2 {
				t.Error("persisted turn should carry the full citation set")
			}
		})
	}
}

func TestAsk_PersistFailureIsNotFatal(t *testing.T) {
	st := &fakeStore{
		SearchFunc: func(repoID string, vec []float32, threshold float64, limit int) ([]models.Chunk, error) {
			return sampleChunks(), nil
		},
		InsertFunc: func(turn models.QueryTurn) error { return errors.New("disk full") },
	}
	svc := New(st, &fakeAI{})

	resp, err := svc.Ask(context.Background(), "repo-1", "u", "what does the login handler do")
	if err != nil {
		t.Fatalf("answer should survive a failed history write, got %v", err)
	}
	if resp.TurnPersisted {
		t.Error("TurnPersisted should be false when the write fails")
	}
	if resp.Answer == "" {
		t.Error("answer should still be returned")
	}
}

func TestAsk_EmptyQueryVector(t *testing.T) {
	svc := New(&fakeStore{}, &fakeAI{vec: []float32{}})
	_, err := svc.Ask(context.Background(), "repo-1", "u", "what is this")
	if !faults.IsDependency(err) {
		t.Errorf("empty query vector: got %v, want dependency error", err)
	}
}

func TestAsk_HistoryFailureAnswersWithoutIt(t *testing.T) {
	st := &fakeStore{
		SearchFunc: func(repoID string, vec []float32, threshold float64, limit int) ([]models.Chunk, error) {
			return sampleChunks(), nil
		},
		RecentFunc: func(repoID, userID string, limit int) ([]models.QueryTurn, error) {
			return nil, errors.New("timeout")
		},
	}
	ai := &fakeAI{}
	svc := New(st, ai)

	resp, err := svc.Ask(context.Background(), "repo-1", "u", "what does the login handler do")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != models.AnswerGrounded {
		t.Errorf("kind = %v, want grounded", resp.Kind)
	}
	if strings.Contains(ai.prompt, "Previous conversation") {
		t.Error("prompt should omit the history section when loading failed")
	}
}

func TestHistory(t *testing.T) {
	st := &fakeStore{
		RecentFunc: func(repoID, userID string, limit int) ([]models.QueryTurn, error) {
			if limit != 10 {
				t.Errorf("limit = %d, want 10", limit)
			}
			return []models.QueryTurn{{Question: "q"}}, nil
		},
	}
	svc := New(st, &fakeAI{})

	turns, err := svc.History(context.Background(), "repo-1", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("got %d turns, want 1", len(turns))
	}
	if _, err := svc.History(context.Background(), "", "u", 5); !faults.IsValidation(err) {
		t.Errorf("blank repo id: got %v, want validation error", err)
	}
}
