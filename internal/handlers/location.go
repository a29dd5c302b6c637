package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/runmates/runmates/internal/config"
	"github.com/runmates/runmates/internal/database"
	"github.com/runmates/runmates/internal/services"
	"github.com/runmates/runmates/internal/telemetry"
)

type LocationHandler struct {
	locations *services.LocationService
	nearby    *services.NearbyService
	cfg       *config.Config
}

func NewLocationHandler(db *database.DB, cfg *config.Config) *LocationHandler {
	return &LocationHandler{
		locations: services.NewLocationService(db),
		nearby:    services.NewNearbyService(db),
		cfg:       cfg,
	}
}

func SetupLocationRoutes(router fiber.Router, db *database.DB, cfg *config.Config) {
	h := NewLocationHandler(db, cfg)

	router.Post("/location", h.Push)
	router.Get("/location/me", h.Me)
	router.Get("/nearby", h.Nearby)
}

// Push godoc
// @Summary Record the caller's last known position
// @Tags location
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.UpsertLocationRequest true "Position"
// @Success 200 {object} map[string]string
// @Failure 422 {object} map[string]interface{}
// @Router /location [post]
func (h *LocationHandler) Push(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req services.UpsertLocationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	_, err := h.locations.Upsert(userID, &req)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "The given data was invalid.",
				"errors":  verr.Fields,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	telemetry.RecordLocationPush()

	return c.JSON(fiber.Map{"message": "ok"})
}

// Me godoc
// @Summary Get the caller's stored location
// @Tags location
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /location/me [get]
func (h *LocationHandler) Me(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	name, loc, err := h.locations.Me(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if loc == nil {
		// Never pushed: nulls rather than 404, the map treats this
		// endpoint as optional.
		return c.JSON(fiber.Map{
			"name":         name,
			"lat":          nil,
			"lng":          nil,
			"accuracy_m":   nil,
			"last_seen_at": nil,
		})
	}

	return c.JSON(fiber.Map{
		"name":         name,
		"lat":          loc.Lat,
		"lng":          loc.Lng,
		"accuracy_m":   loc.AccuracyM,
		"last_seen_at": loc.LastSeenAt,
	})
}

// Nearby godoc
// @Summary List other users within a radius, nearest first
// @Tags location
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param lat query number false "Origin latitude (falls back to stored location)"
// @Param lng query number false "Origin longitude"
// @Param radius_km query number false "Search radius, clamped to [0.1,100]"
// @Param limit query int false "Max results, clamped to [1,500]"
// @Param include_self query bool false "Include the caller in results"
// @Success 200 {object} services.NearbyResponse
// @Failure 422 {object} map[string]string
// @Router /nearby [get]
func (h *LocationHandler) Nearby(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	query := &services.NearbyQuery{
		RadiusKm:    h.cfg.NearbyDefaultRadiusKm,
		Limit:       h.cfg.NearbyDefaultLimit,
		IncludeSelf: c.QueryBool("include_self", false),
	}

	// Origin is optional on the wire, but half an origin is an error:
	// lat and lng come together or not at all.
	latStr, lngStr := c.Query("lat"), c.Query("lng")
	if (latStr != "") != (lngStr != "") {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "lat and lng must be supplied together",
		})
	}
	if latStr != "" && lngStr != "" {
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lng, lngErr := strconv.ParseFloat(lngStr, 64)
		if latErr != nil || lngErr != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "lat and lng must be numbers",
			})
		}
		if verr := services.ValidateCoordinates(lat, lng); verr != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "The given data was invalid.",
				"errors":  verr.Fields,
			})
		}
		query.OriginLat, query.OriginLng = &lat, &lng
	}

	// Out-of-range radius/limit are clamped, not rejected
	if v, err := strconv.ParseFloat(c.Query("radius_km"), 64); err == nil {
		query.RadiusKm = v
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		query.Limit = v
	}

	resp, err := h.nearby.Query(userID, query)
	if err != nil {
		if errors.Is(err, services.ErrMissingOrigin) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "Missing lat/lng and no saved location",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(resp)
}
