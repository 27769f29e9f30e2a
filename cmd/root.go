package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/markb/brandgallery/internal/config"
	"github.com/markb/brandgallery/internal/log"
	"github.com/markb/brandgallery/internal/pg"
	"github.com/markb/brandgallery/internal/store"
)

var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

var (
	configFile    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:          "brandgallery",
	Short:        "brandgallery - logo gallery admin server",
	Long:         `Serves the brandgallery admin sign-in, signup and password-reset API and manages admin accounts.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	versionTmpl := "brandgallery version {{.Version}}"
	if BuildTime != "" {
		versionTmpl += " (built " + BuildTime
		if GitCommit != "" {
			versionTmpl += ", commit " + GitCommit
		}
		versionTmpl += ")"
	}
	versionTmpl += "\n"
	rootCmd.SetVersionTemplate(versionTmpl)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.FileName, "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: text or json (overrides config)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	log.SetLevel(log.ParseLevel(cfg.LogLevel))
	log.SetFormat(cfg.LogFormat)

	return cfg, nil
}

// openStore opens the configured credential store, starting the embedded
// database first when the postgres driver has no DSN. The returned cleanup
// closes everything that was opened.
func openStore(cfg *config.Config) (store.Store, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	opts := store.Options{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.DataDir,
		DSN:     cfg.Store.DSN,
	}

	var db *pg.EmbeddedDatabase
	if opts.Driver == "postgres" && opts.DSN == "" && cfg.Store.Embedded {
		db = pg.NewEmbeddedDatabase(pg.FromStoreConfig(cfg.Store, cfg.DataDir))
		if err := db.Start(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to start embedded postgres: %w", err)
		}
		opts.DSN = db.ConnectionString()
	}

	s, err := store.Open(ctx, opts)
	if err != nil {
		if db != nil {
			db.Stop()
		}
		return nil, nil, fmt.Errorf("failed to open %s store: %w", opts.Driver, err)
	}
	log.Debug("credential store opened", "driver", opts.Driver)

	cleanup := func() {
		if err := s.Close(); err != nil {
			log.Warn("failed to close store", "error", err)
		}
		if db != nil {
			db.Stop()
		}
	}
	return s, cleanup, nil
}
