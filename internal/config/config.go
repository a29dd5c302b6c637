package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort string
	ServerEnv  string

	// Database
	DatabaseURL string

	// JWT (validation only - tokens are issued by the auth service)
	JWTSecretKey string

	// Nearby query defaults
	NearbyDefaultRadiusKm float64
	NearbyDefaultLimit    int

	// SigNoz / OTLP
	SigNozEndpoint string

	// Tracker agent
	Tracker TrackerConfig
}

// TrackerConfig holds the settings of the client-side tracking agent.
type TrackerConfig struct {
	ServerBaseURL string
	APIToken      string
	PollInterval  time.Duration
	RadiusKm      float64
	// Fallback origin used for pulls before the first position fix.
	// Pushes never use it.
	FallbackLat float64
	FallbackLng float64
	// Minimum spacing between outbound geocode requests (Nominatim
	// courtesy limit is ~1 req/s).
	GeocodeMinInterval time.Duration
	GeocodeUserAgent   string
	PositionsPath      string
}

func Load() *Config {
	return &Config{
		// Server
		ServerPort: getEnv("SERVER_PORT", "3000"),
		ServerEnv:  getEnv("SERVER_ENV", "development"),

		// Database - DATABASE_URL wins, otherwise assemble from parts
		DatabaseURL: getDatabaseURL(),

		// JWT
		JWTSecretKey: getEnv("JWT_SECRET_KEY", ""),

		// Nearby defaults
		NearbyDefaultRadiusKm: getEnvAsFloat("NEARBY_DEFAULT_RADIUS_KM", 5),
		NearbyDefaultLimit:    getEnvAsInt("NEARBY_DEFAULT_LIMIT", 200),

		// SigNoz
		SigNozEndpoint: getEnv("SIGNOZ_ENDPOINT", ""),

		Tracker: TrackerConfig{
			ServerBaseURL:      getEnv("TRACKER_SERVER_URL", "http://localhost:3000"),
			APIToken:           getEnv("TRACKER_API_TOKEN", ""),
			PollInterval:       time.Duration(getEnvAsInt("TRACKER_POLL_INTERVAL_SECONDS", 15)) * time.Second,
			RadiusKm:           getEnvAsFloat("TRACKER_RADIUS_KM", 5),
			FallbackLat:        getEnvAsFloat("TRACKER_FALLBACK_LAT", 44.8125),
			FallbackLng:        getEnvAsFloat("TRACKER_FALLBACK_LNG", 20.4612),
			GeocodeMinInterval: time.Duration(getEnvAsInt("GEOCODE_MIN_INTERVAL_MS", 1100)) * time.Millisecond,
			GeocodeUserAgent:   getEnv("GEOCODE_USER_AGENT", "runmates-tracker/1.0"),
			PositionsPath:      getEnv("TRACKER_POSITIONS_PATH", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getDatabaseURL returns DATABASE_URL or builds it from individual env vars
func getDatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "postgres")
	password := getEnv("POSTGRES_PASSWORD", "")
	dbname := getEnv("POSTGRES_DB", "runmates")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbname, sslmode)
}
