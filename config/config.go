package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rohanthewiz/logger"
)

const (
	defaultAddress            = ":8200"
	defaultDBPath             = "loom.db"
	defaultAdaptationInterval = 2 * time.Minute
)

// Config holds application configuration. It is built once at startup and
// passed explicitly to the components that need it.
type Config struct {
	Address            string
	DBPath             string
	AdaptationInterval time.Duration
}

// Load builds the configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		logger.Info("Loaded environment from .env")
	}

	cfg := &Config{
		Address:            defaultAddress,
		DBPath:             defaultDBPath,
		AdaptationInterval: defaultAdaptationInterval,
	}

	if addr := os.Getenv("LOOM_ADDR"); addr != "" {
		cfg.Address = addr
	}
	if path := os.Getenv("LOOM_DB_PATH"); path != "" {
		cfg.DBPath = path
	}
	if interval := os.Getenv("LOOM_ADAPTATION_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.AdaptationInterval = d
		}
	}

	return cfg
}

// PlatformKey returns the platform-held credential for a provider family,
// looked up as <FAMILY>_API_KEY in the environment. Empty when the platform
// holds no key for that family.
func PlatformKey(family string) string {
	return os.Getenv(strings.ToUpper(family) + "_API_KEY")
}
