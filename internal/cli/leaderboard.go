package cli

import (
	"encoding/json"
	"fmt"

	"ecolearn-gamification/internal/config"
	"ecolearn-gamification/internal/logger"

	"github.com/spf13/cobra"
)

// NewLeaderboardCmd groups leaderboard maintenance commands.
func NewLeaderboardCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Leaderboard maintenance",
	}
	cmd.AddCommand(newLeaderboardRebuildCmd(configPath))
	return cmd
}

// newLeaderboardRebuildCmd rebuilds the ranking from the ledger and prints a
// page of it. Useful for checking the store without starting the server.
func newLeaderboardRebuildCmd(configPath *string) *cobra.Command {
	var offset, limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the leaderboard from stored progress and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Env)
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			s, err := buildStack(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.reconciler.RebuildAll(ctx); err != nil {
				return fmt.Errorf("rebuild leaderboard: %w", err)
			}
			board := s.service.Leaderboard(offset, limit)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(board)
			}
			for _, e := range board.Entries {
				fmt.Fprintf(out, "%4d  %-24s %8d\n", e.Rank, e.UserID, e.Points)
			}
			fmt.Fprintf(out, "%d users ranked\n", board.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "rank offset to start from")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries to print")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
