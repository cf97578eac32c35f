// Package core provides shared constants, configuration and logging for localekit.
package core

import (
	"os"
	"path/filepath"
	"time"
)

// Environment
const (
	EnvPrefix = "LOCALEKIT_"
	DefaultTZ = "UTC"
)

// APIDateFmt is the day layout used for history buckets and date flags.
const APIDateFmt = "2006-01-02"

// Detection time budgets. The whole detection never exceeds DetectionTimeout;
// the individual geolocation stages are bounded independently.
const (
	NetworkTimeout     = 3 * time.Second
	GeolocationTimeout = 5 * time.Second
	DetectionTimeout   = 10 * time.Second
)

// Translation cache defaults
const (
	DefaultCacheSize = 10
	DefaultCacheTTL  = 5 * time.Minute
)

// History defaults
const (
	DefaultHistoryLimit = 100
	DuplicateWindow     = 5 * time.Minute
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// DataRoot returns the default directory for persisted localekit state.
func DataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".localekit")
}

// Version is the current CLI version.
const Version = "0.3.0"
