package geocode

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTTL is how long a resolved entry stays valid.
const DefaultTTL = 24 * time.Hour

// DefaultMinInterval is the minimum spacing between outbound geocode
// requests (Nominatim courtesy limit is ~1 req/s).
const DefaultMinInterval = 1100 * time.Millisecond

type entry struct {
	coords    Coordinates
	expiresAt time.Time
}

// Cache is a TTL cache over a Geocoder. Lookups are side-effect free;
// fetches are paced through a shared limiter so concurrent callers
// serialize instead of each firing their own request. Eviction is lazy:
// an expired entry is treated as absent and dropped on the next lookup.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	ttl      time.Duration
	geocoder Geocoder
	limiter  *rate.Limiter

	// now is injectable so TTL expiry is testable without sleeping.
	now func() time.Time
}

func NewCache(geocoder Geocoder, ttl, minInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Cache{
		entries:  make(map[string]entry),
		ttl:      ttl,
		geocoder: geocoder,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		now:      time.Now,
	}
}

// NormalizeQuery folds case and trims whitespace so queries differing
// only in those hit the same entry.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Resolve returns the cached coordinates for a query if present and
// unexpired. It never triggers a network call.
func (c *Cache) Resolve(query string) (Coordinates, bool) {
	key := NormalizeQuery(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Coordinates{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return Coordinates{}, false
	}
	return e.coords, true
}

// ResolveOrFetch returns cached coordinates or performs exactly one
// outbound geocode call on miss. Failed or empty results are not
// cached, so a later retry stays possible.
func (c *Cache) ResolveOrFetch(ctx context.Context, query string) (Coordinates, error) {
	if coords, ok := c.Resolve(query); ok {
		return coords, nil
	}

	// One permit per minInterval; burst 1. Callers queue here and
	// drain one at a time with the enforced spacing.
	if err := c.limiter.Wait(ctx); err != nil {
		return Coordinates{}, err
	}

	// Another caller may have resolved the same query while we waited.
	if coords, ok := c.Resolve(query); ok {
		return coords, nil
	}

	coords, err := c.geocoder.Geocode(ctx, NormalizeQuery(query))
	if err != nil {
		return Coordinates{}, err
	}

	c.mu.Lock()
	c.entries[NormalizeQuery(query)] = entry{
		coords:    coords,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()

	return coords, nil
}

// Len reports the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
