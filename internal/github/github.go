// Package github fetches repository contents over the GitHub REST API:
// one tree listing per repository, then blob downloads for the supported
// files, bounded to a few concurrent requests.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/asadalpha/gitflair/internal/faults"
	"github.com/asadalpha/gitflair/internal/source"
)

const blobConcurrency = 5

// ParseURL extracts owner and repository name from a GitHub URL. The host
// must be github.com; a github.com path segment on another host does not
// qualify.
func ParseURL(raw string) (owner, repo string, err error) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if raw == "" {
		return "", "", faults.Validationf("invalid GitHub URL: %q", raw)
	}
	u, perr := url.Parse(raw)
	if perr != nil || u.Host == "" {
		u, perr = url.Parse("https://" + raw)
	}
	if perr != nil {
		return "", "", faults.Validationf("invalid GitHub URL: %q", raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "github.com" {
		return "", "", faults.Validationf("invalid GitHub URL: %q", raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", faults.Validationf("invalid GitHub URL: %q", raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// Client lists repository files via the GitHub API. An empty token means
// unauthenticated access (60 requests/hour).
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a GitHub client. Placeholder tokens are treated as unset.
func NewClient(token string) *Client {
	if len(token) <= 10 || strings.Contains(token, "your_") {
		token = ""
	}
	return &Client{
		BaseURL: "https://api.github.com",
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type treeItem struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// ListSupportedFiles resolves the default branch, lists the recursive tree,
// and downloads every supported, non-vendor blob under the size cap.
func (c *Client) ListSupportedFiles(ctx context.Context, owner, repo string) ([]source.File, error) {
	var info struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s", owner, repo), &info); err != nil {
		return nil, err
	}

	var tree struct {
		Tree []treeItem `json:"tree"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, repo, url.PathEscape(info.DefaultBranch))
	if err := c.get(ctx, path, &tree); err != nil {
		return nil, err
	}

	var candidates []treeItem
	for _, item := range tree.Tree {
		if item.Type != "blob" || item.Path == "" {
			continue
		}
		if source.Ignored(item.Path) {
			continue
		}
		if _, ok := source.LanguageForPath(item.Path); !ok {
			continue
		}
		if item.Size > source.MaxFileSize {
			continue
		}
		candidates = append(candidates, item)
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		files []source.File
		sem   = make(chan struct{}, blobConcurrency)
	)
	for _, item := range candidates {
		wg.Add(1)
		go func(item treeItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			content, err := c.fetchFileContent(ctx, owner, repo, item.Path)
			if err != nil {
				// A single unreadable blob is skipped, not fatal.
				log.Warn().Err(err).Str("path", item.Path).Msg("failed to fetch file")
				return
			}
			if len(content) == 0 || len(content) > source.MaxFileSize {
				return
			}
			lang, _ := source.LanguageForPath(item.Path)

			mu.Lock()
			files = append(files, source.File{Path: item.Path, Content: content, Language: lang})
			mu.Unlock()
		}(item)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Client) fetchFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	var out struct {
		Content     string `json:"content"`
		Encoding    string `json:"encoding"`
		DownloadURL string `json:"download_url"`
	}
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), &out); err != nil {
		return "", err
	}

	if out.Content != "" {
		b, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", path, err)
		}
		return string(b), nil
	}

	// Large blobs come back with a download URL instead of inline content.
	if out.DownloadURL != "" {
		return c.download(ctx, out.DownloadURL)
	}
	return "", nil
}

func (c *Client) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: %s", rawURL, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, source.MaxFileSize+1))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &faults.Dependency{System: "github", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return &faults.Dependency{
			System: "github",
			Hint:   "GitHub rate limit reached; set GITFLAIR_GITHUB_TOKEN or wait",
			Err:    fmt.Errorf("GET %s: %s", path, resp.Status),
		}
	default:
		return &faults.Dependency{System: "github", Err: fmt.Errorf("GET %s: %s", path, resp.Status)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &faults.Dependency{System: "github", Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return nil
}
