package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pruner-io/pruner/internal/core/config"
	"github.com/pruner-io/pruner/internal/infra/storage/postgres"
)

var resetTrialCmd = &cobra.Command{
	Use:   "reset-trial [study_id] [trial_id]",
	Short: "Revert a stuck stopping trial back to active",
	Args:  cobra.ExactArgs(2),
	Run:   runResetTrial,
}

func init() {
	rootCmd.AddCommand(resetTrialCmd)
}

func runResetTrial(cmd *cobra.Command, args []string) {
	studyID := args[0]
	trialID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid trial id: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	// Direct SQL so the override works even when the service is down.
	// Only stopping trials qualify; anything else stays untouched.
	query := "UPDATE trials SET state = 'active', updated_at = now() WHERE study_id = $1 AND id = $2 AND state = 'stopping'"
	res, err := db.ExecContext(ctx, query, studyID, trialID)
	if err != nil {
		slog.Error("Failed to reset trial", "error", err)
		os.Exit(1)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		fmt.Printf("Trial %d of study %s is not in stopping state\n", trialID, studyID)
		os.Exit(1)
	}

	fmt.Printf("Successfully reverted trial %d of study %s to active\n", trialID, studyID)
}
