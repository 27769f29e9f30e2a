package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markb/brandgallery/internal/config"
	"github.com/markb/brandgallery/internal/keys"
)

var initConfig struct {
	dataDir string
	driver  string
	limit   int
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the data directory and config file",
	Long: `Creates the data directory, the session signing secret and the credential
store, and writes a config file with mail capture enabled for development.
An existing config file is left untouched.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	fmt.Println("Initializing brandgallery...")

	if err := os.MkdirAll(initConfig.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	secret, err := keys.LoadOrCreate(initConfig.dataDir, "")
	if err != nil {
		return fmt.Errorf("failed to create session secret: %w", err)
	}

	created, err := createDefaultConfig(configFile, initConfig.dataDir, initConfig.driver, initConfig.limit)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	closeStore()

	fmt.Printf("Data directory: %s\n", initConfig.dataDir)
	fmt.Printf("Session secret: %s (%s)\n", secret.Path, secret.Source)
	fmt.Printf("Credential store: %s\n", cfg.Store.Driver)
	if created {
		fmt.Printf("\nMail capture mode enabled by default for development.\n")
		fmt.Printf("Configuration written to: %s\n", configFile)
	} else {
		fmt.Printf("\nExisting configuration kept: %s\n", configFile)
	}
	fmt.Println("\nCreate the first admin with:")
	fmt.Println("  brandgallery admin add")

	return nil
}

// createDefaultConfig writes a starter config to path unless one exists.
func createDefaultConfig(path, dataDir, driver string, limit int) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	cfg := &config.Config{
		DataDir:    dataDir,
		AdminLimit: limit,
		Store:      &config.StoreConfig{Driver: driver},
		Email: &config.EmailConfig{
			CaptureMode: true,
			CapturePort: 1025,
		},
	}
	if err := config.Save(cfg, path); err != nil {
		return false, err
	}
	return true, nil
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initConfig.dataDir, "data-dir", "./data", "Data directory")
	initCmd.Flags().StringVar(&initConfig.driver, "store", "file", "Credential store driver: file, sqlite or postgres")
	initCmd.Flags().IntVar(&initConfig.limit, "admin-limit", config.DefaultAdminLimit, "Maximum number of admin accounts open to self-service signup")
}
