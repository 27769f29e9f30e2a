package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markb/brandgallery/internal/keys"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the session signing secret",
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the session signing secret",
	Long: `Replace the persisted session signing secret with a fresh random one.

Every existing admin session becomes invalid once the server restarts. A
secret set in the config file or environment takes precedence over the
persisted one and is not affected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		secret, err := keys.Rotate(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to rotate session secret: %w", err)
		}

		fmt.Printf("✓ Session secret rotated: %s\n", secret.Path)
		if cfg.SessionSecret != "" {
			fmt.Println("  Note: session_secret is set in the config and still takes precedence.")
		}
		fmt.Println("  Restart the server to sign out all admins.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysRotateCmd)
}
