package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dotalias/internal/retry"
)

const (
	defaultGitHubBaseURL = "https://api.github.com"
	// maxReleaseResponseSize bounds the metadata body kept in memory.
	maxReleaseResponseSize = 10 * 1024 * 1024
	userAgent              = "dotalias/1.0"
)

// TokenEnvs are consulted in order for a GitHub API token.
var TokenEnvs = []string{"DOTALIAS_GITHUB_TOKEN", "GITHUB_TOKEN"}

type githubReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

type githubRelease struct {
	TagName string               `json:"tag_name"`
	Assets  []githubReleaseAsset `json:"assets"`
}

// Resolver looks up the latest GitHub release of a repository and picks an
// asset by name.
type Resolver struct {
	BaseURL  string
	Client   *http.Client
	Token    string
	DebugDir string
	// CacheDir holds release_cache.json; empty disables caching.
	CacheDir string
	Policy   retry.Policy
	Logger   Logger
}

// NewResolver returns a Resolver talking to api.github.com with the token
// from the environment.
func NewResolver(debugDir, cacheDir string, logger Logger) *Resolver {
	return &Resolver{
		BaseURL:  defaultGitHubBaseURL,
		Client:   &http.Client{Timeout: 30 * time.Second},
		Token:    tokenFromEnv(),
		DebugDir: debugDir,
		CacheDir: cacheDir,
		Policy:   retry.MetadataPolicy,
		Logger:   logger,
	}
}

func tokenFromEnv() string {
	for _, name := range TokenEnvs {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// ResolveAsset returns the asset of the latest release of repo (owner/name)
// that best matches pattern.
func (r *Resolver) ResolveAsset(ctx context.Context, repo, pattern string) (ReleaseAsset, error) {
	logger := loggerOrNoop(r.Logger)
	if strings.TrimSpace(pattern) == "" {
		return ReleaseAsset{}, &ReleaseNotFoundError{Repo: repo, Pattern: pattern, Reason: "no asset published for this platform"}
	}
	if asset, ok := cachedRelease(r.CacheDir, repo, pattern); ok {
		logger.Printf("release cache hit for %s (%s)", repo, asset.Name)
		return asset, nil
	}

	endpoint := strings.TrimRight(r.baseURL(), "/") + "/repos/" + repo + "/releases/latest"
	var release githubRelease
	attempts := 0
	err := retry.DoNotify(ctx, r.Policy, func(attempt int) error {
		attempts = attempt
		rel, err := r.fetchLatest(ctx, endpoint, repo, pattern)
		if err != nil {
			return err
		}
		release = rel
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		logger.Printf("release lookup for %s failed (attempt %d): %v; retrying in %s", repo, attempt, err, wait.Round(time.Millisecond))
	})
	if err != nil {
		var notFound *ReleaseNotFoundError
		if errors.As(err, &notFound) {
			return ReleaseAsset{}, notFound
		}
		if ctx.Err() != nil {
			return ReleaseAsset{}, err
		}
		return ReleaseAsset{}, &NetworkError{URL: endpoint, Attempts: attempts, Err: err}
	}

	if len(release.Assets) == 0 {
		return ReleaseAsset{}, &ReleaseNotFoundError{Repo: repo, Pattern: pattern, Reason: "latest release has no assets"}
	}

	chosen, notes, ok := matchAsset(release.Assets, pattern)
	if !ok {
		names := make([]string, 0, len(release.Assets))
		for _, a := range release.Assets {
			names = append(names, a.Name)
		}
		return ReleaseAsset{}, &ReleaseNotFoundError{Repo: repo, Pattern: pattern, Reason: "no asset name matched", Available: names}
	}
	for _, n := range notes {
		logger.Printf("%s: %s", repo, n)
	}

	asset := ReleaseAsset{
		Name:  chosen.Name,
		URL:   chosen.BrowserDownloadURL,
		Size:  chosen.Size,
		Tag:   release.TagName,
		Notes: notes,
	}
	for _, a := range release.Assets {
		if a.Name == chosen.Name+".minisig" {
			asset.SignatureURL = a.BrowserDownloadURL
		}
	}
	logger.Printf("resolved %s %s -> %s (%d bytes)", repo, release.TagName, asset.Name, asset.Size)
	cacheRelease(r.CacheDir, repo, pattern, asset)
	return asset, nil
}

// Forget drops the cached lookup for repo and pattern.
func (r *Resolver) Forget(repo, pattern string) {
	forgetRelease(r.CacheDir, repo, pattern)
}

func (r *Resolver) baseURL() string {
	if r.BaseURL == "" {
		return defaultGitHubBaseURL
	}
	return r.BaseURL
}

func (r *Resolver) client() *http.Client {
	if r.Client == nil {
		return http.DefaultClient
	}
	return r.Client
}

func (r *Resolver) fetchLatest(ctx context.Context, endpoint, repo, pattern string) (githubRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return githubRelease{}, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := r.client().Do(req)
	if err != nil {
		return githubRelease{}, fmt.Errorf("query %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReleaseResponseSize))
	if err != nil {
		return githubRelease{}, fmt.Errorf("read release metadata: %w", err)
	}
	r.writeDebug(repo, body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return githubRelease{}, retry.Permanent(&ReleaseNotFoundError{Repo: repo, Pattern: pattern, Reason: "repository has no published release"})
	case retryableStatus(resp.StatusCode):
		return githubRelease{}, fmt.Errorf("release query failed: %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return githubRelease{}, retry.Permanent(fmt.Errorf("release query failed: %s", resp.Status))
	}

	var release githubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return githubRelease{}, retry.Permanent(fmt.Errorf("decode release metadata: %w", err))
	}
	return release, nil
}

func (r *Resolver) writeDebug(repo string, body []byte) {
	if r.DebugDir == "" {
		return
	}
	name := strings.ReplaceAll(repo, "/", "_") + "_latest.json"
	if err := os.MkdirAll(r.DebugDir, 0o755); err != nil {
		loggerOrNoop(r.Logger).Printf("debug dir unavailable: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(r.DebugDir, name), body, 0o644); err != nil {
		loggerOrNoop(r.Logger).Printf("write release debug file: %v", err)
	}
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// matchAsset picks an asset: exact name, then case-insensitive exact, then
// case-insensitive substring, then at least two shared name tokens. Among
// several fallback candidates the first in API order wins and the choice is
// described in notes.
func matchAsset(assets []githubReleaseAsset, pattern string) (githubReleaseAsset, []string, bool) {
	for _, a := range assets {
		if a.Name == pattern {
			return a, nil, true
		}
	}

	lower := strings.ToLower(pattern)
	tiers := []struct {
		label string
		match func(name string) bool
	}{
		{"case-insensitive name", func(name string) bool { return name == lower }},
		{"substring", func(name string) bool { return strings.Contains(name, lower) }},
		{"token overlap", func(name string) bool { return sharedTokens(name, lower) >= 2 }},
	}
	for _, tier := range tiers {
		var candidates []githubReleaseAsset
		for _, a := range assets {
			if strings.HasSuffix(strings.ToLower(a.Name), ".minisig") {
				continue
			}
			if tier.match(strings.ToLower(a.Name)) {
				candidates = append(candidates, a)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		notes := []string{fmt.Sprintf("asset %q chosen by %s match for %q", candidates[0].Name, tier.label, pattern)}
		if len(candidates) > 1 {
			names := make([]string, len(candidates))
			for i, c := range candidates {
				names[i] = c.Name
			}
			notes = append(notes, fmt.Sprintf("ambiguous %s match, candidates: %s", tier.label, strings.Join(names, ", ")))
		}
		return candidates[0], notes, true
	}
	return githubReleaseAsset{}, nil, false
}

func nameTokens(name string) map[string]struct{} {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		switch f {
		case "zip", "tar", "gz", "tgz", "exe":
			// extensions say nothing about the platform
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

func sharedTokens(a, b string) int {
	ta, tb := nameTokens(a), nameTokens(b)
	n := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			n++
		}
	}
	return n
}
