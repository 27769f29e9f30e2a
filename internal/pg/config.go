package pg

import (
	"path/filepath"

	"github.com/markb/brandgallery/internal/config"
)

// Config holds the configuration for the embedded PostgreSQL database
type Config struct {
	Port        uint16
	Username    string
	Password    string
	Database    string
	DataDir     string
	Version     string
	RuntimePath string // Optional: unique runtime path to avoid conflicts
}

// DefaultConfig returns the settings used when the store section leaves
// them empty.
func DefaultConfig() Config {
	return Config{
		Port:     5432,
		Username: "postgres",
		Password: "postgres",
		Database: "brandgallery",
		Version:  "16.9.0",
	}
}

// FromStoreConfig maps the store section onto an embedded database config
// keeping its files under dataDir/postgres.
func FromStoreConfig(sc *config.StoreConfig, dataDir string) Config {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dataDir, "postgres")
	if sc == nil {
		return cfg
	}
	if sc.PGPort != 0 {
		cfg.Port = sc.PGPort
	}
	if sc.PGUsername != "" {
		cfg.Username = sc.PGUsername
	}
	if sc.PGPassword != "" {
		cfg.Password = sc.PGPassword
	}
	if sc.PGDatabase != "" {
		cfg.Database = sc.PGDatabase
	}
	return cfg
}
