package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	SnapshotPath string
	HistoryPath  string
	ActivePath   string
	RemovedPath  string
	LockPath     string

	PriceThreshold float64

	MirrorEnabled    bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	dataDir := getEnv("TRACKER_DATA_DIR", "./data")

	return &Config{
		SnapshotPath: getEnv("TRACKER_SNAPSHOT_PATH", filepath.Join(dataDir, "vienna_rent_clean.csv")),
		HistoryPath:  getEnv("TRACKER_HISTORY_PATH", filepath.Join(dataDir, "vienna_rent_history.csv")),
		ActivePath:   getEnv("TRACKER_ACTIVE_PATH", filepath.Join(dataDir, "vienna_rent_active.csv")),
		RemovedPath:  getEnv("TRACKER_REMOVED_PATH", filepath.Join(dataDir, "vienna_rent_removed.csv")),
		LockPath:     getEnv("TRACKER_LOCK_PATH", filepath.Join(dataDir, ".tracker.lock")),

		PriceThreshold: getEnvFloat("TRACKER_PRICE_THRESHOLD", 1.0),

		MirrorEnabled:    getEnvBool("TRACKER_PG_MIRROR", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "tracker"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "tracker123"),
		PostgresDB:       getEnv("POSTGRES_DB", "rental_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
