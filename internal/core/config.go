package core

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime settings. Values come from LOCALEKIT_* environment
// variables and may be overridden by command-line flags.
type Config struct {
	DefaultLocale    string   `env:"DEFAULT_LOCALE" envDefault:"en"`
	SupportedLocales []string `env:"SUPPORTED_LOCALES" envDefault:"en,zh,ja" envSeparator:","`

	CacheSize    int           `env:"CACHE_SIZE" envDefault:"10"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	CachePersist bool          `env:"CACHE_PERSIST" envDefault:"true"`

	StorageBackend string `env:"STORAGE" envDefault:"file"`
	StoragePath    string `env:"STORAGE_PATH"`
	HistoryLimit   int    `env:"HISTORY_LIMIT" envDefault:"100"`

	GeoEnabled        bool   `env:"GEO_ENABLED" envDefault:"true"`
	GeoIPURL          string `env:"GEO_IP_URL" envDefault:"https://ipapi.co/{ip}/json/"`
	ReverseGeocodeURL string `env:"REVERSE_GEOCODE_URL" envDefault:"https://api.bigdatacloud.net/data/reverse-geocode-client"`

	NetworkTimeout     time.Duration `env:"NETWORK_TIMEOUT" envDefault:"3s"`
	GeolocationTimeout time.Duration `env:"GEOLOCATION_TIMEOUT" envDefault:"5s"`
	DetectionTimeout   time.Duration `env:"DETECTION_TIMEOUT" envDefault:"10s"`

	MessagesDir string `env:"MESSAGES_DIR"`
	MessagesURL string `env:"MESSAGES_URL"`

	Verbose      bool   `env:"VERBOSE"`
	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

// LoadConfig parses the environment into a Config and applies the
// derived defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize fills derived defaults and validates. Call it again after
// changing fields, for example from command-line flags.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.StoragePath == "" {
		switch c.StorageBackend {
		case StorageSQLite:
			c.StoragePath = filepath.Join(DataRoot(), "localekit.db")
		default:
			c.StoragePath = filepath.Join(DataRoot(), "store")
		}
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.NetworkTimeout <= 0 || c.NetworkTimeout > NetworkTimeout {
		c.NetworkTimeout = NetworkTimeout
	}
	if c.GeolocationTimeout <= 0 || c.GeolocationTimeout > GeolocationTimeout {
		c.GeolocationTimeout = GeolocationTimeout
	}
	if c.DetectionTimeout <= 0 || c.DetectionTimeout > DetectionTimeout {
		c.DetectionTimeout = DetectionTimeout
	}
}

// Validate reports configuration values that cannot be used.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory, StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q (expected memory, file or sqlite)", c.StorageBackend)
	}
	if len(c.SupportedLocales) == 0 {
		return fmt.Errorf("at least one supported locale is required")
	}
	return nil
}
