package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markb/brandgallery/internal/config"
	"github.com/markb/brandgallery/internal/prompt"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure brandgallery settings",
	Long:  `Interactively configure brandgallery settings such as email/SMTP.`,
}

var emailCmd = &cobra.Command{
	Use:   "email",
	Short: "Configure the SMTP relay for password reset emails",
	Long: `Interactively configure the SMTP relay used to deliver password reset links.

This will prompt you for SMTP configuration and save it to the config file.`,
	RunE: runEmailConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(emailCmd)
}

// runEmailConfig runs the interactive email configuration wizard
func runEmailConfig(cmd *cobra.Command, args []string) error {
	fmt.Println("===========================================")
	fmt.Println("brandgallery Email Configuration Wizard")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("This wizard configures the SMTP relay that delivers password reset links.")
	fmt.Printf("Your configuration will be saved to %s\n", configFile)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p := prompt.Stdio()
	if err := promptEmailConfig(p, cfg.Email); err != nil {
		return err
	}
	fmt.Println()

	if warnings := validateEmailConfig(cfg.Email); len(warnings) > 0 {
		fmt.Println("⚠️  Configuration Warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	fmt.Println("Configuration Summary:")
	fmt.Printf("  SMTP Host: %s\n", valueOrEmpty(cfg.Email.SMTPHost))
	fmt.Printf("  SMTP Port: %d\n", cfg.Email.SMTPPort)
	fmt.Printf("  SMTP User: %s\n", valueOrEmpty(cfg.Email.SMTPUser))
	fmt.Printf("  SMTP Pass: %s\n", maskString(cfg.Email.SMTPPass))
	fmt.Printf("  From: %s\n", valueOrEmpty(cfg.Email.From))
	fmt.Printf("  STARTTLS: %t\n", cfg.Email.StartTLS)
	fmt.Println()

	confirm, err := p.Confirm(fmt.Sprintf("Save this configuration to %s?", configFile))
	if err != nil {
		return err
	}
	if !confirm {
		fmt.Println("Configuration cancelled.")
		return nil
	}

	if err := config.Save(cfg, configFile); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println()
	fmt.Printf("✓ Email configuration saved to %s\n", configFile)
	fmt.Println()
	fmt.Println("You can now start brandgallery with:")
	fmt.Println("  brandgallery serve")
	fmt.Println()

	return nil
}

// promptEmailConfig asks for each SMTP field, offering the current value as
// the default. Configuring a relay turns capture mode off.
func promptEmailConfig(p *prompt.Prompter, e *config.EmailConfig) error {
	var err error
	if e.SMTPHost, err = p.Line("SMTP host", defaultString(e.SMTPHost, "smtp.gmail.com")); err != nil {
		return err
	}

	port, err := p.Line("SMTP port", strconv.Itoa(e.SMTPPort))
	if err != nil {
		return err
	}
	if n, convErr := strconv.Atoi(port); convErr == nil && n > 0 {
		e.SMTPPort = n
	}

	if e.SMTPUser, err = p.Line("SMTP username", e.SMTPUser); err != nil {
		return err
	}
	if e.SMTPPass, err = p.Line("SMTP password", e.SMTPPass); err != nil {
		return err
	}
	if e.From, err = p.Line("Sender address", e.From); err != nil {
		return err
	}
	if e.StartTLS, err = p.Confirm("Use STARTTLS?"); err != nil {
		return err
	}

	if e.SMTPHost != "" {
		e.CaptureMode = false
	}
	return nil
}

func defaultString(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

// validateEmailConfig performs sanity checks on the email configuration
func validateEmailConfig(email *config.EmailConfig) []string {
	var warnings []string

	if email.SMTPHost == "" {
		warnings = append(warnings, "SMTP host is not set - reset links will only be written to the server log")
	}
	if email.SMTPPort != 25 && email.SMTPPort != 465 && email.SMTPPort != 587 {
		warnings = append(warnings, fmt.Sprintf("Unusual SMTP port %d (common ports: 25, 465, 587)", email.SMTPPort))
	}

	if email.SMTPHost != "" && email.SMTPUser == "" {
		warnings = append(warnings, "SMTP username is not set - most SMTP servers require authentication")
	}
	if email.SMTPHost != "" && email.SMTPPass == "" {
		warnings = append(warnings, "SMTP password is not set - most SMTP servers require authentication")
	}
	if email.SMTPUser != "" && !email.StartTLS {
		warnings = append(warnings, "STARTTLS is off - credentials will be sent in the clear")
	}
	if strings.HasSuffix(email.From, "@localhost") {
		warnings = append(warnings, "Sender address is on localhost - most relays will reject it")
	}

	// Check for common provider-specific issues
	if strings.Contains(email.SMTPHost, "gmail.com") && !strings.Contains(email.SMTPUser, "@gmail.com") {
		warnings = append(warnings, "Gmail requires your full email address as the username")
	}
	if strings.Contains(email.SMTPHost, "gmail.com") && email.SMTPPass != "" && len(email.SMTPPass) < 12 {
		warnings = append(warnings, "Gmail requires an App Password (16 characters), not your regular password")
	}

	return warnings
}

// valueOrEmpty returns the value or "(not set)" if empty
func valueOrEmpty(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// maskString masks a string for display (e.g., passwords)
func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
