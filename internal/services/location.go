package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/runmates/runmates/internal/database"
	"github.com/runmates/runmates/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLocationNotFound is returned when a user has never pushed a location.
var ErrLocationNotFound = errors.New("location not found")

// ValidationError carries per-field messages for a rejected push.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type LocationService struct {
	db *database.DB
}

func NewLocationService(db *database.DB) *LocationService {
	return &LocationService{db: db}
}

// UpsertLocationRequest is the wire body of POST /location. Lat and Lng
// are pointers so an absent field is distinguishable from a genuine 0:
// a body missing a coordinate must never overwrite the stored position
// with (0,0).
type UpsertLocationRequest struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
}

// validatePush checks coordinate presence before range: both halves are
// required, only accuracy_m is optional.
func validatePush(req *UpsertLocationRequest) *ValidationError {
	fields := map[string]string{}
	if req.Lat == nil {
		fields["lat"] = "is required"
	}
	if req.Lng == nil {
		fields["lng"] = "is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return ValidateCoordinates(*req.Lat, *req.Lng)
}

// ValidateCoordinates checks lat/lng ranges and returns field-level
// messages on failure.
func ValidateCoordinates(lat, lng float64) *ValidationError {
	fields := map[string]string{}
	if lat < -90 || lat > 90 {
		fields["lat"] = "must be between -90 and 90"
	}
	if lng < -180 || lng > 180 {
		fields["lng"] = "must be between -180 and 180"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// NormalizeAccuracy converts the client-reported accuracy to a stored
// value: fractional meters round to an integer, negative or absent
// becomes unknown (null).
func NormalizeAccuracy(accuracy *float64) *uint {
	if accuracy == nil || *accuracy < 0 {
		return nil
	}
	v := uint(*accuracy + 0.5)
	return &v
}

// Upsert records the last known position of a user. last_seen_at is the
// request receipt time, never client-supplied, so a skewed device clock
// cannot spoof freshness. The write is a single-statement upsert:
// last write wins, no partial row is ever visible.
func (s *LocationService) Upsert(userID uint, req *UpsertLocationRequest) (*models.UserLocation, error) {
	if verr := validatePush(req); verr != nil {
		return nil, verr
	}

	loc := models.UserLocation{
		UserID:     userID,
		Lat:        *req.Lat,
		Lng:        *req.Lng,
		AccuracyM:  NormalizeAccuracy(req.AccuracyM),
		LastSeenAt: time.Now().UTC(),
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"lat", "lng", "accuracy_m", "last_seen_at"}),
	}).Create(&loc).Error
	if err != nil {
		return nil, err
	}

	return &loc, nil
}

// Me returns the caller's display name alongside their stored location.
// The location is nil, not an error, when the user has never pushed one.
func (s *LocationService) Me(userID uint) (string, *models.UserLocation, error) {
	var user models.User
	if err := s.db.Select("id", "name").First(&user, userID).Error; err != nil {
		return "", nil, err
	}
	loc, err := s.Get(userID)
	if errors.Is(err, ErrLocationNotFound) {
		return user.Name, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return user.Name, loc, nil
}

// Get returns the stored location of a user, or ErrLocationNotFound if
// the user has never pushed one.
func (s *LocationService) Get(userID uint) (*models.UserLocation, error) {
	var loc models.UserLocation
	err := s.db.Where("user_id = ?", userID).First(&loc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return &loc, nil
}
