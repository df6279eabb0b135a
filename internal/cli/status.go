package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pruner-io/pruner/internal/core/config"
	"github.com/pruner-io/pruner/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show all studies and their trial counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	rows, err := db.QueryContext(ctx, `
		SELECT s.id, s.state,
		       COALESCE(s.spec->'pruner'->>'name', '') AS pruner,
		       count(t.id) FILTER (WHERE t.state IN ('requested', 'active', 'stopping')) AS live,
		       count(t.id) FILTER (WHERE t.state IN ('succeeded', 'infeasible', 'stopped')) AS done
		FROM studies s
		LEFT JOIN trials t ON t.study_id = s.id
		GROUP BY s.id
		ORDER BY s.created_at`)
	if err != nil {
		slog.Error("Failed to query studies", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STUDY\tSTATE\tPRUNER\tLIVE\tDONE")

	for rows.Next() {
		var id, state, pruner string
		var live, done int64
		if err := rows.Scan(&id, &state, &pruner, &live, &done); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", id, state, pruner, live, done)
	}
	_ = w.Flush()
}
