package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	releaseCacheFile = "release_cache.json"
	releaseCacheTTL  = 1 * time.Hour
)

var nowFunc = time.Now

var releaseCacheMu sync.Mutex

type releaseCacheEntry struct {
	Repo      string       `json:"repo"`
	Pattern   string       `json:"pattern"`
	Asset     ReleaseAsset `json:"asset"`
	FetchedAt time.Time    `json:"fetched_at"`
}

type releaseCache struct {
	Entries map[string]releaseCacheEntry `json:"entries"`
}

func releaseCacheKey(repo, pattern string) string {
	return repo + "|" + pattern
}

func loadReleaseCache(dir string) releaseCache {
	empty := releaseCache{Entries: map[string]releaseCacheEntry{}}
	if dir == "" {
		return empty
	}
	data, err := os.ReadFile(filepath.Join(dir, releaseCacheFile))
	if err != nil {
		return empty
	}
	var rc releaseCache
	if err := json.Unmarshal(data, &rc); err != nil {
		return empty
	}
	if rc.Entries == nil {
		rc.Entries = map[string]releaseCacheEntry{}
	}
	return rc
}

func saveReleaseCache(dir string, rc releaseCache) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	data, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, releaseCacheFile), data, 0o644)
}

// cachedRelease returns a cached asset if available and not expired.
func cachedRelease(dir, repo, pattern string) (ReleaseAsset, bool) {
	rc := loadReleaseCache(dir)
	entry, ok := rc.Entries[releaseCacheKey(repo, pattern)]
	if !ok {
		return ReleaseAsset{}, false
	}
	if nowFunc().Sub(entry.FetchedAt) > releaseCacheTTL {
		return ReleaseAsset{}, false
	}
	return entry.Asset, true
}

func cacheRelease(dir, repo, pattern string, asset ReleaseAsset) {
	releaseCacheMu.Lock()
	defer releaseCacheMu.Unlock()
	rc := loadReleaseCache(dir)
	rc.Entries[releaseCacheKey(repo, pattern)] = releaseCacheEntry{
		Repo:      repo,
		Pattern:   pattern,
		Asset:     asset,
		FetchedAt: nowFunc(),
	}
	saveReleaseCache(dir, rc)
}

// forgetRelease drops a cached lookup, used when its asset turned out to be
// unusable.
func forgetRelease(dir, repo, pattern string) {
	releaseCacheMu.Lock()
	defer releaseCacheMu.Unlock()
	rc := loadReleaseCache(dir)
	if _, ok := rc.Entries[releaseCacheKey(repo, pattern)]; !ok {
		return
	}
	delete(rc.Entries, releaseCacheKey(repo, pattern))
	saveReleaseCache(dir, rc)
}
