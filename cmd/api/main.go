package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/asadalpha/gitflair/internal/ai"
	"github.com/asadalpha/gitflair/internal/config"
	"github.com/asadalpha/gitflair/internal/faults"
	"github.com/asadalpha/gitflair/internal/github"
	"github.com/asadalpha/gitflair/internal/ingest"
	"github.com/asadalpha/gitflair/internal/qa"
	"github.com/asadalpha/gitflair/internal/store"
	"github.com/asadalpha/gitflair/pkg/models"
)

type errorBody struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses: validation 400,
// user quotas 403, provider rate exhaustion 429, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError
	var dep *faults.Dependency
	switch {
	case faults.IsValidation(err):
		status = http.StatusBadRequest
	case faults.IsQuota(err):
		status = http.StatusForbidden
	case faults.IsProviderQuota(err):
		status = http.StatusTooManyRequests
	case errors.As(err, &dep):
		body.Hint = dep.Hint
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("gitflair-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting gitflair api")

	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderGemini,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := client.Dim()
	if dim == 0 {
		log.Fatal("embedding dimension must be set")
	}
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	ix := ingest.New(st, client, github.NewClient(cfg.GithubToken))
	ix.RepoQuota = cfg.RepoQuota
	ix.Freshness = time.Duration(cfg.FreshnessHours) * time.Hour
	ix.Workers = cfg.Workers

	svc := qa.New(st, client)
	svc.TurnQuota = cfg.TurnQuota
	svc.TopK = cfg.TopK
	svc.Threshold = cfg.Threshold
	svc.HistoryDepth = cfg.HistoryDepth

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/ingest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			URL    string `json:"url"`
			UserID string `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, faults.Validationf("invalid request body: %v", err))
			return
		}

		start := time.Now()
		res, err := ix.Run(r.Context(), req.URL, req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		hlog.FromRequest(r).Info().Str("repo_id", res.RepoID).Int("files", res.FilesProcessed).
			Bool("already_indexed", res.AlreadyIndexed).Dur("dur", time.Since(start)).Msg("ingested")
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("/ask", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Question string `json:"question"`
			RepoID   string `json:"repoId"`
			UserID   string `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, faults.Validationf("invalid request body: %v", err))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		start := time.Now()
		resp, err := svc.Ask(ctx, req.RepoID, req.UserID, req.Question)
		if err != nil {
			writeError(w, err)
			return
		}
		hlog.FromRequest(r).Info().Str("repo_id", req.RepoID).Str("kind", string(resp.Kind)).
			Dur("dur", time.Since(start)).Msg("answered")
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		repoID := r.URL.Query().Get("repoId")
		userID := r.URL.Query().Get("userId")

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		turns, err := svc.History(ctx, repoID, userID, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		if turns == nil {
			turns = []models.QueryTurn{}
		}
		writeJSON(w, http.StatusOK, turns)
	})

	mux.HandleFunc("/repositories", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		repos, err := st.ListIndexedRepositories(ctx, userID, 50)
		if err != nil {
			writeError(w, err)
			return
		}
		if repos == nil {
			repos = []models.Repository{}
		}
		writeJSON(w, http.StatusOK, repos)
	})

	mux.HandleFunc("/repositories/lookup", func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		userID := r.URL.Query().Get("userId")
		if strings.TrimSpace(url) == "" {
			writeError(w, faults.Validationf("query parameter url is required"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		repo, found, err := st.GetRepositoryByURL(ctx, url, userID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !found {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "repository not indexed"})
			return
		}
		writeJSON(w, http.StatusOK, repo)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		type probe struct {
			OK        bool   `json:"ok"`
			LatencyMS int64  `json:"latency_ms"`
			Error     string `json:"error,omitempty"`
		}

		dbStart := time.Now()
		dbErr := st.Ping(ctx)
		db := probe{OK: dbErr == nil, LatencyMS: time.Since(dbStart).Milliseconds()}
		if dbErr != nil {
			db.Error = dbErr.Error()
		}

		aiStart := time.Now()
		_, aiErr := client.EmbedQuery(ctx, "health check")
		aiProbe := probe{OK: aiErr == nil, LatencyMS: time.Since(aiStart).Milliseconds()}
		if aiErr != nil {
			aiProbe.Error = aiErr.Error()
		}

		overall := "operational"
		switch {
		case !db.OK && !aiProbe.OK:
			overall = "down"
		case !db.OK || !aiProbe.OK:
			overall = "degraded"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":    overall,
			"database":  db,
			"embedding": aiProbe,
		})
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
