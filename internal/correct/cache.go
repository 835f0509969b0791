package correct

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultCacheTTL is how long a suggestion stays reusable. Rule reloads
// invalidate explicitly; the TTL bounds staleness against changes the
// process cannot observe, such as a retrain published elsewhere.
const DefaultCacheTTL = 15 * time.Minute

// ResultCache bounds repeat inference: suggestions are cached by
// (field, value, context) with a TTL so identical values in one ingest
// hit the strategy once.
type ResultCache struct {
	store *gocache.Cache
}

// NewResultCache creates a cache with the given TTL. Expired entries are
// swept at twice the TTL.
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{store: gocache.New(ttl, 2*ttl)}
}

// Get returns a cached suggestion for the request, if present.
func (c *ResultCache) Get(req SuggestRequest, contextKey string) (Suggestion, bool) {
	v, ok := c.store.Get(cacheKey(req, contextKey))
	if !ok {
		return Suggestion{}, false
	}
	return v.(Suggestion), true
}

// Set stores a suggestion under the request key with the default TTL.
func (c *ResultCache) Set(req SuggestRequest, contextKey string, s Suggestion) {
	c.store.Set(cacheKey(req, contextKey), s, gocache.DefaultExpiration)
}

// Invalidate drops every cached result, e.g. after a model retrain or a
// rule reload.
func (c *ResultCache) Invalidate() {
	c.store.Flush()
}

// Len returns the current number of cached suggestions.
func (c *ResultCache) Len() int {
	return c.store.ItemCount()
}

func cacheKey(req SuggestRequest, contextKey string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%s", req.Field, req.Value, req.DateFormat, contextKey)))
	return hex.EncodeToString(sum[:16])
}
