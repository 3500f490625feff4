package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirco-team/talky/internal/errs"
)

const (
	defaultAPIBase = "https://api.github.com"
	apiVersion     = "2022-11-28"
	userAgent      = "talky-store"
)

// GitHub stores the document as a file in a repository through the REST
// contents API. The blob sha doubles as the version token: a PUT that
// carries a stale sha is rejected, which is exactly the compare-and-swap
// contract ContentBackend asks for.
type GitHub struct {
	apiBase string
	owner   string
	repo    string
	branch  string
	token   string
	client  *http.Client
}

// GitHubOpts configures a GitHub backend.
type GitHubOpts struct {
	Owner   string
	Repo    string
	Branch  string
	Token   string
	APIBase string        // override for tests
	Timeout time.Duration // per-request; zero means 15s
}

// NewGitHub creates a contents-API backed ContentBackend.
func NewGitHub(opts GitHubOpts) (*GitHub, error) {
	if opts.Owner == "" || opts.Repo == "" || opts.Token == "" {
		return nil, fmt.Errorf("github backend requires owner, repo, and token")
	}
	base := opts.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	branch := opts.Branch
	if branch == "" {
		branch = "main"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &GitHub{
		apiBase: base,
		owner:   opts.Owner,
		repo:    opts.Repo,
		branch:  branch,
		token:   opts.Token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type contentsResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (g *GitHub) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.apiBase, g.owner, g.repo, url.PathEscape(path))
}

func (g *GitHub) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	return resp, nil
}

// Read fetches and decodes the file at path on the configured branch.
func (g *GitHub) Read(ctx context.Context, path string) (Content, error) {
	u := g.contentsURL(path) + "?ref=" + url.QueryEscape(g.branch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Content{}, err
	}

	resp, err := g.do(req)
	if err != nil {
		return Content{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Content{}, errs.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Content{}, fmt.Errorf("%w: github read %d: %s", errs.ErrUnavailable, resp.StatusCode, body)
	}

	var cr contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Content{}, fmt.Errorf("decode contents response: %w", err)
	}
	// The API base64-encodes file content with embedded newlines.
	data, err := base64.StdEncoding.DecodeString(stripNewlines(cr.Content))
	if err != nil {
		return Content{}, fmt.Errorf("decode file content: %w", err)
	}
	return Content{Data: data, Version: cr.SHA}, nil
}

// Write replaces the file, carrying the previously-read sha so the API
// rejects the write if someone else committed in between.
func (g *GitHub) Write(ctx context.Context, path string, data []byte, expectedVersion string) (string, error) {
	body := map[string]string{
		"message": "Update " + path,
		"content": base64.StdEncoding.EncodeToString(data),
		"branch":  g.branch,
	}
	if expectedVersion != "" {
		body["sha"] = expectedVersion
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, g.contentsURL(path), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return "", errs.ErrConflict
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The API reports a stale or missing sha as 422.
		return "", errs.ErrConflict
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: github write %d: %s", errs.ErrUnavailable, resp.StatusCode, raw)
	}

	var pr putResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode put response: %w", err)
	}
	return pr.Content.SHA, nil
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
