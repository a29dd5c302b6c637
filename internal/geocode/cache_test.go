package geocode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeGeocoder counts calls and records their timestamps.
type fakeGeocoder struct {
	mu      sync.Mutex
	calls   []time.Time
	queries []string
	result  Coordinates
	err     error
}

func (f *fakeGeocoder) Geocode(_ context.Context, query string) (Coordinates, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return Coordinates{}, f.err
	}
	return f.result, nil
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNormalizeQuery(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Ada Ciganlija", "ada ciganlija"},
		{"  Ada Ciganlija  ", "ada ciganlija"},
		{"KALEMEGDAN", "kalemegdan"},
	}
	for _, c := range cases {
		if got := NormalizeQuery(c.in); got != c.want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveIsPure(t *testing.T) {
	fake := &fakeGeocoder{result: Coordinates{Lat: 44.79, Lng: 20.40}}
	cache := NewCache(fake, DefaultTTL, time.Millisecond)

	if _, ok := cache.Resolve("ada ciganlija"); ok {
		t.Fatal("empty cache reported a hit")
	}
	if fake.callCount() != 0 {
		t.Errorf("Resolve triggered %d network calls, want 0", fake.callCount())
	}
}

func TestResolveOrFetchCachesAndNormalizes(t *testing.T) {
	fake := &fakeGeocoder{result: Coordinates{Lat: 44.79, Lng: 20.40}}
	cache := NewCache(fake, DefaultTTL, time.Millisecond)

	coords, err := cache.ResolveOrFetch(context.Background(), "  Ada Ciganlija ")
	if err != nil {
		t.Fatalf("ResolveOrFetch: %v", err)
	}
	if coords.Lat != 44.79 || coords.Lng != 20.40 {
		t.Errorf("unexpected coordinates %+v", coords)
	}

	// Case/whitespace variants must hit the same entry without a call.
	for _, variant := range []string{"ada ciganlija", "ADA CIGANLIJA", " Ada Ciganlija"} {
		if _, ok := cache.Resolve(variant); !ok {
			t.Errorf("variant %q missed the cache", variant)
		}
	}
	if fake.callCount() != 1 {
		t.Errorf("made %d outbound calls, want 1", fake.callCount())
	}
}

func TestTTLExpiry(t *testing.T) {
	fake := &fakeGeocoder{result: Coordinates{Lat: 44.79, Lng: 20.40}}
	cache := NewCache(fake, DefaultTTL, time.Millisecond)

	current := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return current }

	if _, err := cache.ResolveOrFetch(context.Background(), "kalemegdan"); err != nil {
		t.Fatalf("ResolveOrFetch: %v", err)
	}

	// Just before expiry: still a hit.
	current = current.Add(DefaultTTL - time.Second)
	if _, ok := cache.Resolve("kalemegdan"); !ok {
		t.Fatal("entry expired early")
	}

	// Past expiry: treated as absent and evicted lazily.
	current = current.Add(2 * time.Second)
	if _, ok := cache.Resolve("kalemegdan"); ok {
		t.Fatal("expired entry still served")
	}
	if cache.Len() != 0 {
		t.Errorf("expired entry not evicted, len=%d", cache.Len())
	}

	// A new fetch goes out exactly once.
	if _, err := cache.ResolveOrFetch(context.Background(), "kalemegdan"); err != nil {
		t.Fatalf("ResolveOrFetch after expiry: %v", err)
	}
	if fake.callCount() != 2 {
		t.Errorf("made %d outbound calls, want 2", fake.callCount())
	}
}

func TestFetchFailureNotCached(t *testing.T) {
	fake := &fakeGeocoder{err: errors.New("upstream down")}
	cache := NewCache(fake, DefaultTTL, time.Millisecond)

	if _, err := cache.ResolveOrFetch(context.Background(), "usce park"); err == nil {
		t.Fatal("expected fetch error")
	}
	if cache.Len() != 0 {
		t.Error("failed fetch poisoned the cache")
	}

	// Retry is possible: the provider recovered.
	fake.mu.Lock()
	fake.err = nil
	fake.result = Coordinates{Lat: 44.81, Lng: 20.43}
	fake.mu.Unlock()

	if _, err := cache.ResolveOrFetch(context.Background(), "usce park"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if fake.callCount() != 2 {
		t.Errorf("made %d outbound calls, want 2", fake.callCount())
	}
}

func TestConcurrentFetchesAreSpaced(t *testing.T) {
	const minInterval = 120 * time.Millisecond

	fake := &fakeGeocoder{result: Coordinates{Lat: 44.8, Lng: 20.5}}
	cache := NewCache(fake, DefaultTTL, minInterval)

	queries := []string{"q one", "q two", "q three", "q four", "q five"}

	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			if _, err := cache.ResolveOrFetch(context.Background(), q); err != nil {
				t.Errorf("ResolveOrFetch(%q): %v", q, err)
			}
		}(q)
	}
	wg.Wait()

	if got := fake.callCount(); got != len(queries) {
		t.Fatalf("made %d outbound calls, want %d", got, len(queries))
	}

	// Callers serialized through the limiter: successive outbound
	// calls must be at least minInterval apart (small scheduling slack).
	fake.mu.Lock()
	defer fake.mu.Unlock()
	for i := 1; i < len(fake.calls); i++ {
		gap := fake.calls[i].Sub(fake.calls[i-1])
		if gap < minInterval-10*time.Millisecond {
			t.Errorf("calls %d and %d only %v apart, want >= %v", i-1, i, gap, minInterval)
		}
	}
}

func TestConcurrentSameQueryCollapses(t *testing.T) {
	fake := &fakeGeocoder{result: Coordinates{Lat: 44.8, Lng: 20.5}}
	cache := NewCache(fake, DefaultTTL, 20*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.ResolveOrFetch(context.Background(), "Tasmajdan"); err != nil {
				t.Errorf("ResolveOrFetch: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := fake.callCount(); got != 1 {
		t.Errorf("duplicate concurrent queries made %d calls, want 1", got)
	}
}
