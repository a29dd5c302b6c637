package services

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func testCandidates() []candidate {
	now := time.Now()
	return []candidate{
		{UserID: 1, Name: "Ana", IsActive: true, Lat: 44.8070, Lng: 20.4520, LastSeenAt: now},
		{UserID: 2, Name: "Marko", IsActive: true, Lat: 44.8205, Lng: 20.4366, LastSeenAt: now},
		{UserID: 3, Name: "Jelena", IsActive: true, Lat: 44.8130, Lng: 20.4620, LastSeenAt: now},
		{UserID: 4, Name: "Nikola", IsActive: true, Lat: 45.2671, Lng: 19.8335, LastSeenAt: now}, // Novi Sad, ~70 km out
	}
}

func TestRankCandidatesOrderingAndExclusion(t *testing.T) {
	origin := Origin{Lat: 44.8070, Lng: 20.4520}

	users := rankCandidates(testCandidates(), origin, 5, 200, false, 1)

	for _, u := range users {
		if u.ID == 1 {
			t.Errorf("include_self=false returned the requester")
		}
	}
	for i := 1; i < len(users); i++ {
		if users[i].DistanceKm < users[i-1].DistanceKm {
			t.Errorf("results not ordered by distance: %v before %v", users[i-1].DistanceKm, users[i].DistanceKm)
		}
	}
	for _, u := range users {
		if u.ID == 4 {
			t.Errorf("candidate outside radius was returned")
		}
	}
}

func TestRankCandidatesIncludeSelf(t *testing.T) {
	origin := Origin{Lat: 44.8070, Lng: 20.4520}

	users := rankCandidates(testCandidates(), origin, 5, 200, true, 1)

	if len(users) == 0 || users[0].ID != 1 {
		t.Fatalf("include_self=true should rank the requester first, got %+v", users)
	}
	if users[0].DistanceKm != 0 {
		t.Errorf("requester at origin has distance %v, want 0", users[0].DistanceKm)
	}
}

func TestRankCandidatesConcreteScenario(t *testing.T) {
	// User A at (44.8070, 20.4520), user B at (44.8205, 20.4366):
	// B is roughly 1.93 km away and must be the only hit within 5 km
	// that is not A herself.
	origin := Origin{Lat: 44.8070, Lng: 20.4520}
	candidates := []candidate{
		{UserID: 1, Name: "A", IsActive: true, Lat: 44.8070, Lng: 20.4520},
		{UserID: 2, Name: "B", IsActive: true, Lat: 44.8205, Lng: 20.4366},
	}

	users := rankCandidates(candidates, origin, 5, 200, false, 1)

	if len(users) != 1 || users[0].ID != 2 {
		t.Fatalf("want only user B, got %+v", users)
	}
	if math.Abs(users[0].DistanceKm-1.93) > 0.05 {
		t.Errorf("distance to B = %v km, want 1.93 +- 0.05", users[0].DistanceKm)
	}
}

func TestRankCandidatesMonotonicRadius(t *testing.T) {
	origin := Origin{Lat: 44.8070, Lng: 20.4520}

	var prev map[uint]bool
	for _, radius := range []float64{0.5, 2, 5, 20, 100} {
		users := rankCandidates(testCandidates(), origin, radius, 500, true, 1)
		got := make(map[uint]bool, len(users))
		for _, u := range users {
			got[u.ID] = true
		}
		for id := range prev {
			if !got[id] {
				t.Errorf("radius %v lost user %d present at a smaller radius", radius, id)
			}
		}
		prev = got
	}
}

func TestRankCandidatesTiebreakAndDeterminism(t *testing.T) {
	origin := Origin{Lat: 44.8125, Lng: 20.4612}
	// Two users at the identical position: the lower id wins the tie.
	candidates := []candidate{
		{UserID: 9, Name: "Y", IsActive: true, Lat: 44.8130, Lng: 20.4620},
		{UserID: 3, Name: "X", IsActive: true, Lat: 44.8130, Lng: 20.4620},
	}

	for i := 0; i < 10; i++ {
		users := rankCandidates(candidates, origin, 5, 200, false, 100)
		if len(users) != 2 || users[0].ID != 3 || users[1].ID != 9 {
			t.Fatalf("run %d: tie not broken by ascending user_id: %+v", i, users)
		}
	}
}

func TestRankCandidatesTruncateAfterSort(t *testing.T) {
	origin := Origin{Lat: 44.8125, Lng: 20.4612}

	// 10 users at increasing distance; limit 3 must keep the 3 nearest,
	// not the first 3 scanned.
	var candidates []candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, candidate{
			UserID:   uint(i + 1),
			Name:     fmt.Sprintf("user-%d", i+1),
			IsActive: true,
			Lat:      origin.Lat + float64(10-i)*0.001, // reverse order on purpose
			Lng:      origin.Lng,
		})
	}

	users := rankCandidates(candidates, origin, 100, 3, false, 100)

	if len(users) != 3 {
		t.Fatalf("limit not applied, got %d results", len(users))
	}
	if users[0].ID != 10 || users[1].ID != 9 || users[2].ID != 8 {
		t.Errorf("truncation dropped nearer candidates: %+v", users)
	}
}

func TestRankCandidatesExcludesDeactivatedAccounts(t *testing.T) {
	origin := Origin{Lat: 44.8125, Lng: 20.4612}
	candidates := []candidate{
		{UserID: 1, Name: "Ana", IsActive: true, Lat: 44.8130, Lng: 20.4620},
		{UserID: 2, Name: "Marko", IsActive: false, Lat: 44.8130, Lng: 20.4620},
	}

	users := rankCandidates(candidates, origin, 5, 200, false, 100)
	if len(users) != 1 || users[0].ID != 1 {
		t.Fatalf("deactivated account leaked into results: %+v", users)
	}

	// A deactivated requester is invisible even to themselves.
	users = rankCandidates(candidates, origin, 5, 200, true, 2)
	for _, u := range users {
		if u.ID == 2 {
			t.Errorf("include_self returned a deactivated requester: %+v", users)
		}
	}
}

func TestClampRadiusAndLimit(t *testing.T) {
	radiusCases := []struct{ in, want float64 }{
		{0, 0.1},
		{0.05, 0.1},
		{5, 5},
		{100, 100},
		{250, 100},
	}
	for _, c := range radiusCases {
		if got := ClampRadius(c.in); got != c.want {
			t.Errorf("ClampRadius(%v) = %v, want %v", c.in, got, c.want)
		}
	}

	limitCases := []struct{ in, want int }{
		{0, 1},
		{-5, 1},
		{200, 200},
		{500, 500},
		{9999, 500},
	}
	for _, c := range limitCases {
		if got := ClampLimit(c.in); got != c.want {
			t.Errorf("ClampLimit(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
