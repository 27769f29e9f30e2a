package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/markb/brandgallery/internal/admin"
	"github.com/markb/brandgallery/internal/prompt"
	"github.com/markb/brandgallery/internal/reset"
	"github.com/markb/brandgallery/internal/store"
)

var (
	flagAdminEmail string
	flagAdminForce bool
	flagAdminYes   bool
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin users",
	Long:  `Manage admin accounts directly in the credential store.`,
}

var adminAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new admin user",
	Long: `Add a new admin user to the credential store.

You will be prompted for an email address and password. The admin limit
applies as it does to signup unless --force is given.`,
	RunE: runAdminAdd,
}

var adminChangePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Change an admin user's password",
	RunE:  runAdminChangePassword,
}

var adminDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete an admin user",
	Long: `Delete an admin user and any reset tokens issued to it.

You will be prompted for the email address and confirmation.`,
	RunE: runAdminDelete,
}

var adminListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all admin users",
	RunE:  runAdminList,
}

var adminResetLinkCmd = &cobra.Command{
	Use:   "reset-link",
	Short: "Print a password reset link for an admin user",
	Long: `Issue a one-hour password reset token and print its link, for handing
over out of band when no mail relay is configured.`,
	RunE: runAdminResetLink,
}

var adminPruneTokensCmd = &cobra.Command{
	Use:   "prune-tokens",
	Short: "Delete expired password reset tokens",
	RunE:  runAdminPruneTokens,
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminAddCmd)
	adminCmd.AddCommand(adminChangePasswordCmd)
	adminCmd.AddCommand(adminDeleteCmd)
	adminCmd.AddCommand(adminListCmd)
	adminCmd.AddCommand(adminResetLinkCmd)
	adminCmd.AddCommand(adminPruneTokensCmd)

	for _, c := range []*cobra.Command{adminAddCmd, adminChangePasswordCmd, adminDeleteCmd, adminResetLinkCmd} {
		c.Flags().StringVar(&flagAdminEmail, "email", "", "Admin email (prompted when omitted)")
	}
	adminAddCmd.Flags().BoolVar(&flagAdminForce, "force", false, "Create the account even when the admin limit is reached")
	adminDeleteCmd.Flags().BoolVarP(&flagAdminYes, "yes", "y", false, "Skip the confirmation prompt")
}

// adminEnv is what every admin subcommand needs.
type adminEnv struct {
	ctx     context.Context
	store   store.Store
	hasher  *admin.Hasher
	prompt  *prompt.Prompter
	limit   int
	siteURL string
	cleanup func()
}

func newAdminEnv() (*adminEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	siteURL := cfg.SiteURL
	if siteURL == "" {
		siteURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	return &adminEnv{
		ctx:     ctx,
		store:   st,
		hasher:  admin.NewHasher(),
		prompt:  prompt.Stdio(),
		limit:   cfg.AdminLimit,
		siteURL: siteURL,
		cleanup: func() {
			cancel()
			closeStore()
		},
	}, nil
}

func (e *adminEnv) email() (string, error) {
	if flagAdminEmail != "" {
		email := admin.NormalizeEmail(flagAdminEmail)
		return email, admin.ValidateEmail(email)
	}
	return e.prompt.Email("Email")
}

func header(title string) {
	fmt.Println("===========================================")
	fmt.Println(title)
	fmt.Println("===========================================")
	fmt.Println()
}

// runAdminAdd adds a new admin user
func runAdminAdd(cmd *cobra.Command, args []string) error {
	header("Add Admin User")

	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.cleanup()

	email, err := env.email()
	if err != nil {
		return err
	}
	password, err := env.prompt.NewPassword()
	if err != nil {
		return err
	}
	fmt.Println()

	gate := admin.NewGate(env.store, env.hasher, env.limit)
	user, err := gate.CreateOperatorUser(env.ctx, email, password, flagAdminForce)
	if errors.Is(err, admin.ErrSignupClosed) {
		return fmt.Errorf("admin limit of %d reached, rerun with --force to add anyway", env.limit)
	}
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	fmt.Printf("✓ Admin user created successfully!\n")
	fmt.Printf("  Email: %s\n", user.Email)
	fmt.Printf("  ID: %s\n", user.ID)
	fmt.Printf("  Created: %s\n", user.CreatedAt.Format(time.RFC3339))

	n, err := admin.NewUsers(env.store, env.hasher).Count(env.ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  Admins: %s\n", limitStatus(n, env.limit))
	return nil
}

// limitStatus reports how much of the admin cap is used.
func limitStatus(count, limit int) string {
	state := "signup open"
	if count >= limit {
		state = "signup closed"
	}
	return fmt.Sprintf("%d of %d (%s)", count, limit, state)
}

// runAdminChangePassword changes an admin user's password
func runAdminChangePassword(cmd *cobra.Command, args []string) error {
	header("Change Admin Password")

	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.cleanup()

	email, err := env.email()
	if err != nil {
		return err
	}
	password, err := env.prompt.NewPassword()
	if err != nil {
		return err
	}
	fmt.Println()

	if err := admin.NewUsers(env.store, env.hasher).UpdatePassword(env.ctx, email, password); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Printf("✓ Password updated successfully for: %s\n", email)
	return nil
}

// runAdminDelete deletes an admin user
func runAdminDelete(cmd *cobra.Command, args []string) error {
	header("Delete Admin User")

	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.cleanup()

	email, err := env.email()
	if err != nil {
		return err
	}

	if !flagAdminYes {
		ok, err := env.prompt.Confirm(fmt.Sprintf("Delete %s?", email))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Deletion cancelled.")
			return nil
		}
	}

	if err := admin.NewUsers(env.store, env.hasher).Delete(env.ctx, email); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	fmt.Printf("✓ Admin user deleted: %s\n", email)
	return nil
}

// runAdminList lists all admin users
func runAdminList(cmd *cobra.Command, args []string) error {
	header("Admin Users")

	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.cleanup()

	users, err := admin.NewUsers(env.store, env.hasher).List(env.ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No admin users found.")
		fmt.Println()
		fmt.Println("Create an admin user with:")
		fmt.Println("  brandgallery admin add")
		return nil
	}

	fmt.Printf("Found %d admin user(s), %s:\n", len(users), limitStatus(len(users), env.limit))
	fmt.Println()
	for i, user := range users {
		fmt.Printf("%d. %s\n", i+1, user.Email)
		fmt.Printf("   ID: %s\n", user.ID)
		fmt.Printf("   Created: %s\n", user.CreatedAt.Format(time.RFC3339))
		fmt.Println()
	}
	return nil
}

// runAdminResetLink issues a reset token and prints the link
func runAdminResetLink(cmd *cobra.Command, args []string) error {
	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.cleanup()

	email, err := env.email()
	if err != nil {
		return err
	}
	if _, err := admin.NewUsers(env.store, env.hasher).FindByEmail(env.ctx, email); err != nil {
		return err
	}

	flow := reset.NewFlow(env.store, env.hasher, reset.WithSiteURL(env.siteURL), reset.WithDisclosure(true))
	res, err := flow.CreatePasswordReset(env.ctx, email)
	if err != nil {
		return err
	}

	fmt.Printf("Reset link for %s (valid for %s):\n\n", email, reset.TokenTTL)
	fmt.Println(res.ResetURL)
	return nil
}

// runAdminPruneTokens deletes expired reset tokens
func runAdminPruneTokens(cmd *cobra.Command, args []string) error {
	env, err := newAdminEnv()
	if err != nil {
		return err
	}
	defer env.cleanup()

	n, err := reset.NewFlow(env.store, env.hasher).PruneExpired(env.ctx)
	if err != nil {
		return fmt.Errorf("failed to prune tokens: %w", err)
	}
	fmt.Printf("✓ Removed %d expired reset token(s)\n", n)
	return nil
}
