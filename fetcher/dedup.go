package fetcher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// urlEntry remembers when a URL was last fetched and what it returned.
type urlEntry struct {
	FetchedAt time.Time `json:"fetched_at"`
	BodyHash  string    `json:"body_hash"`
}

// dedupFile is the persisted shape of the content cache.
type dedupFile struct {
	ContentHashes map[string]string   `json:"content_hashes"` // body hash -> first URL seen
	URLHashes     map[string]urlEntry `json:"url_hashes"`     // url hash -> entry
	LastUpdated   time.Time           `json:"last_updated"`
}

// ContentCache is the fetcher's content-addressed dedup cache, persisted to
// <cacheDir>/content_hashes.json.
type ContentCache struct {
	mu     sync.Mutex
	path   string
	maxAge time.Duration
	data   dedupFile
	now    func() time.Time
}

func NewContentCache(cacheDir string, maxAge time.Duration) (*ContentCache, error) {
	c := &ContentCache{
		path:   filepath.Join(cacheDir, "content_hashes.json"),
		maxAge: maxAge,
		data: dedupFile{
			ContentHashes: make(map[string]string),
			URLHashes:     make(map[string]urlEntry),
		},
		now: time.Now,
	}
	if cacheDir == "" {
		c.path = ""
		return c, nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, err
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hashString(s string) string {
	return hashBytes([]byte(s))
}

// SeenURL reports whether the URL was fetched successfully within maxAge.
func (c *ContentCache) SeenURL(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data.URLHashes[hashString(url)]
	if !ok {
		return false
	}
	return c.now().Sub(entry.FetchedAt) < c.maxAge
}

// SeenBody reports whether an identical response body is already stored.
func (c *ContentCache) SeenBody(body []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data.ContentHashes[hashBytes(body)]
	return ok
}

// Record stores the URL and body hashes and persists the cache file.
func (c *ContentCache) Record(url string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bodyHash := hashBytes(body)
	c.data.URLHashes[hashString(url)] = urlEntry{FetchedAt: c.now(), BodyHash: bodyHash}
	if _, ok := c.data.ContentHashes[bodyHash]; !ok {
		c.data.ContentHashes[bodyHash] = url
	}
	c.data.LastUpdated = c.now()
	return c.save()
}

// Forget drops the URL entry so a force-refreshed fetch re-records it.
func (c *ContentCache) Forget(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data.URLHashes, hashString(url))
}

func (c *ContentCache) load() error {
	if c.path == "" {
		return nil
	}
	raw, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var f dedupFile
	if err := json.Unmarshal(raw, &f); err != nil {
		// Corrupt cache file: start fresh rather than fail the process.
		return nil
	}
	if f.ContentHashes == nil {
		f.ContentHashes = make(map[string]string)
	}
	if f.URLHashes == nil {
		f.URLHashes = make(map[string]urlEntry)
	}
	c.data = f
	return nil
}

func (c *ContentCache) save() error {
	if c.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
