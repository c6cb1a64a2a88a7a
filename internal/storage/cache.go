// cache.go - In-memory cache for recognition results

package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ResultCache remembers recognised text keyed by image content, prompt and
// token budget, so re-running the same image is instant.
type ResultCache struct {
	cache *gocache.Cache
}

// NewResultCache creates a cache whose entries expire after ttl. A ttl of zero
// or less disables caching.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		return &ResultCache{}
	}
	return &ResultCache{cache: gocache.New(ttl, 2*ttl)}
}

// ResultKey builds the cache key for one recognition request.
func ResultKey(image []byte, prompt string, maxNewTokens int) string {
	h := sha256.New()
	h.Write(image)
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(maxNewTokens)))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached text for key.
func (c *ResultCache) Get(key string) (string, bool) {
	if c == nil || c.cache == nil {
		return "", false
	}
	v, ok := c.cache.Get(key)
	if !ok {
		return "", false
	}
	text, ok := v.(string)
	return text, ok
}

// Set stores text under key with the default expiration.
func (c *ResultCache) Set(key, text string) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.SetDefault(key, text)
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	if c == nil || c.cache == nil {
		return 0
	}
	return c.cache.ItemCount()
}

// Clear removes all cached data
func (c *ResultCache) Clear() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Flush()
}
