package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrDocumentNotFound indicates the content repository has no such file.
var ErrDocumentNotFound = errors.New("content document not found")

// ErrContentUnavailable indicates the content repository could not be reached
// or answered with an unexpected status. Callers should treat it as transient.
var ErrContentUnavailable = errors.New("content repository unavailable")

// Source fetches raw lesson documents by repository-relative path.
type Source interface {
	Fetch(ctx context.Context, path string) (string, error)
}

// GitHubConfig configures access to the content repository.
type GitHubConfig struct {
	BaseURL    string
	Repository string
	Ref        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GitHubSource reads files through the GitHub Contents API.
type GitHubSource struct {
	cfg    GitHubConfig
	client *http.Client
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// NewGitHubSource builds a content source for owner/repo.
func NewGitHubSource(cfg GitHubConfig) (*GitHubSource, error) {
	if strings.Count(cfg.Repository, "/") != 1 {
		return nil, fmt.Errorf("content repository must be owner/name, got %q", cfg.Repository)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &GitHubSource{cfg: cfg, client: client}, nil
}

// Fetch downloads and decodes one file. The call is bounded by the configured timeout.
func (s *GitHubSource) Fetch(parent context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/repos/%s/contents/%s", s.cfg.BaseURL, s.cfg.Repository, strings.TrimLeft(path, "/"))
	if s.cfg.Ref != "" {
		url += "?ref=" + s.cfg.Ref
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build content request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrContentUnavailable, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: %s: status %d", ErrContentUnavailable, path, resp.StatusCode)
	}

	var payload contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrContentUnavailable, path, err)
	}

	if payload.Encoding != "" && payload.Encoding != "base64" {
		return "", fmt.Errorf("%w: %s: unsupported encoding %q", ErrContentUnavailable, path, payload.Encoding)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(payload.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrContentUnavailable, path, err)
	}

	return string(decoded), nil
}
