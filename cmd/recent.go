package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	recentLimit  int
	recentOffset int
)

// recentCmd represents the recent command
var recentCmd = &cobra.Command{
	Use:   "recent <user-id>",
	Short: "Show a user's recently played tracks",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecent,
}

func init() {
	rootCmd.AddCommand(recentCmd)

	recentCmd.Flags().IntVar(&recentLimit, "limit", 20, "Number of plays to show")
	recentCmd.Flags().IntVar(&recentOffset, "offset", 0, "Plays to skip")
}

func runRecent(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	plays, err := s.RecentlyPlayed(ctx, args[0], recentLimit, recentOffset)
	if err != nil {
		return fmt.Errorf("failed to list plays: %w", err)
	}

	if len(plays) == 0 {
		fmt.Println("No plays stored")
		return nil
	}

	for _, p := range plays {
		track, err := s.GetTrack(ctx, p.TrackID)
		name := p.TrackID
		if err == nil {
			name = track.Name
		}
		tag := ""
		if p.Blacklisted {
			tag = "  [blacklisted]"
		}
		fmt.Printf("%s  %s%s\n", p.PlayedAt.Local().Format(time.DateTime), name, tag)
	}
	return nil
}
