package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/asadalpha/gitflair/internal/ai"
	"github.com/asadalpha/gitflair/internal/config"
	"github.com/asadalpha/gitflair/internal/github"
	"github.com/asadalpha/gitflair/internal/ingest"
	"github.com/asadalpha/gitflair/internal/source"
	"github.com/asadalpha/gitflair/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("gitflair-indexer", pflag.ExitOnError)
	fs.String("user", "anonymous", "User identity the repository is indexed under")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	// The repository URL identifies the index row even when content comes
	// from a local checkout.
	if strings.TrimSpace(cfg.RepoURL) == "" {
		log.Fatal("--git-repo (or GITFLAIR_GIT_REPO) is required")
	}
	userID, _ := fs.GetString("user")

	provider := strings.ToLower(cfg.Provider)
	log.Printf("using provider: %s", provider)
	var clientConfig *ai.ClientConfig
	switch provider {
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
		log.Fatalf("unsupported provider: %s", provider)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatal(err)
	}

	var src source.Lister
	if cfg.RepoRoot != "" {
		if _, err := os.Stat(cfg.RepoRoot); err != nil {
			log.Fatalf("repo root %s: %v", cfg.RepoRoot, err)
		}
		src = source.NewDir(cfg.RepoRoot)
	} else {
		src = github.NewClient(cfg.GithubToken)
	}

	ix := ingest.New(st, client, src)
	ix.RepoQuota = cfg.RepoQuota
	ix.Freshness = time.Duration(cfg.FreshnessHours) * time.Hour
	ix.Workers = cfg.Workers

	res, err := ix.Run(ctx, cfg.RepoURL, userID)
	if err != nil {
		log.Fatal(err)
	}
	report(res)
}

func report(res ingest.Result) {
	if res.AlreadyIndexed {
		log.Printf("repository %s indexed recently, nothing to do", res.RepoID)
		return
	}
	log.Printf("repository %s indexed: %d files processed", res.RepoID, res.FilesProcessed)
}
