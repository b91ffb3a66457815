package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfmyers9/tidewatch/internal/config"
	"github.com/jfmyers9/tidewatch/internal/store"
)

var (
	userAccessToken  string
	userRefreshToken string
)

// userCmd represents the user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage registered users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <user-id> <tidal-user-id>",
	Short: "Register a user for syncing",
	Long: `Register a user so the sync loop picks them up.

The access and refresh tokens come from the external OAuth login flow;
without them the user is skipped each cycle until tokens are set.`,
	Args: cobra.ExactArgs(2),
	RunE: runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered users",
	Args:  cobra.NoArgs,
	RunE:  runUserList,
}

var userBlacklistCmd = &cobra.Command{
	Use:   "blacklist <user-id> <artist-id>",
	Short: "Blacklist an artist for a user",
	Long: `Add an artist to a user's blacklist.

Plays of blacklisted artists are still stored but carry a tag excluding
them from aggregate statistics.`,
	Args: cobra.ExactArgs(2),
	RunE: runUserBlacklist,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userBlacklistCmd)

	userAddCmd.Flags().StringVar(&userAccessToken, "access-token", "", "OAuth access token")
	userAddCmd.Flags().StringVar(&userRefreshToken, "refresh-token", "", "OAuth refresh token")
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return s, nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	u := store.User{
		ID:           args[0],
		TidalUserID:  args[1],
		AccessToken:  userAccessToken,
		RefreshToken: userRefreshToken,
	}
	if userAccessToken != "" {
		// Force a refresh on first sync to learn the real expiry.
		u.TokenExpiry = time.Now()
	}

	if err := s.CreateUser(context.Background(), u); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	fmt.Printf("Registered user %s\n", u.ID)
	if !u.HasCredentials() {
		fmt.Println("No tokens set; the sync loop will skip this user until tokens are added.")
	}
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No registered users")
		return nil
	}
	for _, u := range users {
		status := "ok"
		if u.NeedsRelogin {
			status = "needs relogin"
		} else if !u.HasCredentials() {
			status = "no credentials"
		}
		fmt.Printf("%s  tidal=%s  status=%s\n", u.ID, u.TidalUserID, status)
	}
	return nil
}

func runUserBlacklist(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.AddToBlacklist(context.Background(), args[0], args[1]); err != nil {
		return fmt.Errorf("failed to blacklist artist: %w", err)
	}

	fmt.Printf("Blacklisted artist %s for user %s\n", args[1], args[0])
	return nil
}
