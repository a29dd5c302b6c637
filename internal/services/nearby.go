package services

import (
	"errors"
	"sort"
	"time"

	"github.com/runmates/runmates/internal/database"
	"github.com/runmates/runmates/internal/telemetry"
)

// ErrMissingOrigin is returned when a nearby query has no explicit
// origin and the requester has no stored location to fall back on.
var ErrMissingOrigin = errors.New("missing origin")

// Radius and limit bounds. Out-of-range values are clamped, not
// rejected - carried over from the observed product behavior.
const (
	MinRadiusKm = 0.1
	MaxRadiusKm = 100
	MinLimit    = 1
	MaxLimit    = 500
)

type NearbyService struct {
	db        *database.DB
	locations *LocationService
}

func NewNearbyService(db *database.DB) *NearbyService {
	return &NearbyService{db: db, locations: NewLocationService(db)}
}

// NearbyQuery describes one proximity lookup. Ephemeral, never persisted.
type NearbyQuery struct {
	OriginLat   *float64
	OriginLng   *float64
	RadiusKm    float64
	Limit       int
	IncludeSelf bool
}

type Origin struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NearbyUser is one ranked result row.
type NearbyUser struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	LastSeenAt time.Time `json:"last_seen_at"`
	DistanceKm float64   `json:"distance_km"`
}

type NearbyResponse struct {
	Origin Origin       `json:"origin"`
	Users  []NearbyUser `json:"users"`
}

// candidate is a scanned user_locations row joined with the owning user.
type candidate struct {
	UserID     uint
	Name       string
	IsActive   bool
	Lat        float64
	Lng        float64
	LastSeenAt time.Time
}

// Query ranks all tracked users around the origin, nearest first. If the
// query carries no origin the requester's stored location is used; with
// neither available it fails with ErrMissingOrigin.
func (s *NearbyService) Query(requesterID uint, q *NearbyQuery) (*NearbyResponse, error) {
	start := time.Now()

	origin, err := s.resolveOrigin(requesterID, q)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	err = s.db.Table("user_locations").
		Select("user_locations.user_id, users.name, users.is_active, user_locations.lat, user_locations.lng, user_locations.last_seen_at").
		Joins("JOIN users ON users.id = user_locations.user_id").
		Scan(&candidates).Error
	if err != nil {
		return nil, err
	}

	users := rankCandidates(candidates, origin, q.RadiusKm, q.Limit, q.IncludeSelf, requesterID)

	telemetry.ObserveNearbyQuery(time.Since(start), len(users))

	return &NearbyResponse{Origin: origin, Users: users}, nil
}

func (s *NearbyService) resolveOrigin(requesterID uint, q *NearbyQuery) (Origin, error) {
	if q.OriginLat != nil && q.OriginLng != nil {
		return Origin{Lat: *q.OriginLat, Lng: *q.OriginLng}, nil
	}

	stored, err := s.locations.Get(requesterID)
	if err != nil {
		if errors.Is(err, ErrLocationNotFound) {
			return Origin{}, ErrMissingOrigin
		}
		return Origin{}, err
	}
	return Origin{Lat: stored.Lat, Lng: stored.Lng}, nil
}

// rankCandidates is the pure ranking core: filter by radius, order by
// ascending distance with user_id as the deterministic tiebreak, then
// truncate to limit. Truncation happens after sorting so a candidate
// just inside the radius is never dropped by an early cutoff.
// Deactivated accounts are invisible to everyone, the requester's own
// deactivated account included, regardless of include_self.
func rankCandidates(candidates []candidate, origin Origin, radiusKm float64, limit int, includeSelf bool, requesterID uint) []NearbyUser {
	radiusKm = ClampRadius(radiusKm)
	limit = ClampLimit(limit)

	type scored struct {
		candidate
		distance float64
	}

	kept := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if !c.IsActive {
			continue
		}
		if !includeSelf && c.UserID == requesterID {
			continue
		}
		d := Haversine(origin.Lat, origin.Lng, c.Lat, c.Lng)
		if d <= radiusKm {
			kept = append(kept, scored{candidate: c, distance: d})
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].distance != kept[j].distance {
			return kept[i].distance < kept[j].distance
		}
		return kept[i].UserID < kept[j].UserID
	})

	if len(kept) > limit {
		kept = kept[:limit]
	}

	users := make([]NearbyUser, 0, len(kept))
	for _, s := range kept {
		users = append(users, NearbyUser{
			ID:         s.UserID,
			Name:       s.Name,
			Lat:        s.Lat,
			Lng:        s.Lng,
			LastSeenAt: s.LastSeenAt,
			DistanceKm: roundKm(s.distance),
		})
	}
	return users
}

// ClampRadius coerces a radius into [MinRadiusKm, MaxRadiusKm].
func ClampRadius(radiusKm float64) float64 {
	if radiusKm < MinRadiusKm {
		return MinRadiusKm
	}
	if radiusKm > MaxRadiusKm {
		return MaxRadiusKm
	}
	return radiusKm
}

// ClampLimit coerces a limit into [MinLimit, MaxLimit].
func ClampLimit(limit int) int {
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
