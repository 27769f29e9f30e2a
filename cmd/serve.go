package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markb/brandgallery/internal/admin"
	"github.com/markb/brandgallery/internal/config"
	"github.com/markb/brandgallery/internal/keys"
	"github.com/markb/brandgallery/internal/log"
	"github.com/markb/brandgallery/internal/mailcapture"
	"github.com/markb/brandgallery/internal/mailer"
	"github.com/markb/brandgallery/internal/reset"
	"github.com/markb/brandgallery/internal/server"
	"github.com/markb/brandgallery/internal/session"
)

var (
	// Flags that override config file/env vars
	flagHost          string
	flagPort          int
	flagDataDir       string
	flagSiteURL       string
	flagSessionSecret string
	flagAdminLimit    int
	flagShowResetLink bool
	flagProduction    bool
	flagRateLimit     int

	// Store flags
	flagStoreDriver string
	flagStoreDSN    string

	// Email flags
	flagSmtpHost string
	flagSmtpPort int
	flagSmtpUser string
	flagSmtpPass string
	flagSmtpFrom string

	// Email capture mode flags
	flagCaptureMode bool
	flagCapturePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the brandgallery admin server",
	Long: `Start the admin auth HTTP server.

The session signing secret is resolved before the server accepts requests:
the configured value if any, otherwise the one persisted in the data
directory, which is generated on first start.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Flags take precedence over both file and environment variable values
	applyFlagOverrides(cmd, cfg)

	if cfg.SiteURL == "" {
		cfg.SiteURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	if cfg.ShowResetLink && cfg.Production {
		log.Warn("show_reset_link is enabled in production, reset links will be returned to any caller")
	}

	secret, err := keys.LoadOrCreate(cfg.DataDir, cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("failed to resolve session secret: %w", err)
	}
	log.Info("session secret ready", "source", secret.Source, "path", secret.Path)

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Email.CaptureMode {
		capture := mailcapture.NewServer(mailcapture.Config{
			Host:        "localhost",
			Port:        cfg.Email.CapturePort,
			MaxMessages: mailcapture.DefaultConfig().MaxMessages,
		})
		if err := capture.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start mail capture: %w", err)
		}
		defer capture.Stop()
	}

	hasher := admin.NewHasher()
	signer, err := session.NewSigner(secret.Value)
	if err != nil {
		return err
	}

	resets := reset.NewFlow(st, hasher,
		reset.WithNotifier(mailer.New(cfg.Email)),
		reset.WithSiteURL(cfg.SiteURL),
		reset.WithDisclosure(cfg.ShowResetLink))

	srv := server.New(server.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		Production:         cfg.Production,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		StoreTimeout:       cfg.StoreTimeout(),
		AllowedOrigins:     cfg.AllowedOrigins,
	}, server.Deps{
		Gate:     admin.NewGate(st, hasher, cfg.AdminLimit),
		Sessions: session.NewManager(signer, st, hasher, session.WithSecureCookies(cfg.Production)),
		Resets:   resets,
	})

	log.Info("starting brandgallery",
		"store", cfg.Store.Driver,
		"admin_limit", cfg.AdminLimit,
		"mail", mailMode(cfg.Email))

	err = srv.Run(context.Background())
	resets.Wait()
	return err
}

func mailMode(e *config.EmailConfig) string {
	switch {
	case e.CaptureMode:
		return "capture"
	case e.Enabled():
		return "smtp"
	default:
		return "log"
	}
}

// applyFlagOverrides applies command-line flag values to the config
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flagHost != "" {
		cfg.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagSiteURL != "" {
		cfg.SiteURL = flagSiteURL
	}
	if flagSessionSecret != "" {
		cfg.SessionSecret = flagSessionSecret
	}
	if flagAdminLimit > 0 {
		cfg.AdminLimit = flagAdminLimit
	}
	if flags.Changed("show-reset-link") {
		cfg.ShowResetLink = flagShowResetLink
	}
	if flags.Changed("production") {
		cfg.Production = flagProduction
	}
	if flagRateLimit > 0 {
		cfg.RateLimitPerMinute = flagRateLimit
	}

	if flagStoreDriver != "" {
		cfg.Store.Driver = flagStoreDriver
	}
	if flagStoreDSN != "" {
		cfg.Store.DSN = flagStoreDSN
	}

	if flagSmtpHost != "" {
		cfg.Email.SMTPHost = flagSmtpHost
	}
	if flagSmtpPort != 0 {
		cfg.Email.SMTPPort = flagSmtpPort
	}
	if flagSmtpUser != "" {
		cfg.Email.SMTPUser = flagSmtpUser
	}
	if flagSmtpPass != "" {
		cfg.Email.SMTPPass = flagSmtpPass
	}
	if flagSmtpFrom != "" {
		cfg.Email.From = flagSmtpFrom
	}
	if flagCaptureMode {
		cfg.Email.CaptureMode = true
	}
	if flagCapturePort != 0 {
		cfg.Email.CapturePort = flagCapturePort
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringVar(&flagHost, "host", "", "Host to bind to (overrides config file and env vars)")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "Port to listen on (overrides config file and env vars)")
	serveCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "Data directory for the store and session secret")
	serveCmd.Flags().StringVar(&flagSiteURL, "site-url", "", "Public site URL used in reset links")
	serveCmd.Flags().BoolVar(&flagProduction, "production", false, "Production mode: Secure cookies and HSTS")

	// Auth configuration
	serveCmd.Flags().StringVar(&flagSessionSecret, "session-secret", "", "Session signing secret (default: generated and stored in the data directory)")
	serveCmd.Flags().IntVar(&flagAdminLimit, "admin-limit", 0, "Maximum number of admin accounts open to self-service signup")
	serveCmd.Flags().BoolVar(&flagShowResetLink, "show-reset-link", false, "Return reset links in API responses (development only)")
	serveCmd.Flags().IntVar(&flagRateLimit, "rate-limit", 0, "Admin requests per minute per client IP")

	// Store configuration
	serveCmd.Flags().StringVar(&flagStoreDriver, "store", "", "Credential store driver: file, sqlite or postgres")
	serveCmd.Flags().StringVar(&flagStoreDSN, "store-dsn", "", "SQLite path or PostgreSQL connection string")

	// Email configuration (all optional)
	serveCmd.Flags().StringVar(&flagSmtpHost, "smtp-host", "", "SMTP server hostname")
	serveCmd.Flags().IntVar(&flagSmtpPort, "smtp-port", 0, "SMTP server port")
	serveCmd.Flags().StringVar(&flagSmtpUser, "smtp-user", "", "SMTP username")
	serveCmd.Flags().StringVar(&flagSmtpPass, "smtp-pass", "", "SMTP password")
	serveCmd.Flags().StringVar(&flagSmtpFrom, "smtp-from", "", "Sender address for reset emails")

	// Email capture mode (for development)
	serveCmd.Flags().BoolVar(&flagCaptureMode, "capture-mode", false, "Capture reset emails in a local SMTP sink instead of sending them")
	serveCmd.Flags().IntVar(&flagCapturePort, "capture-port", 0, "Port for mail capture SMTP server (default: 1025)")
}
