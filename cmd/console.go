package cmd

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"stockdispatch/internal/bootstrap"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/usecase/dispatch"
	"stockdispatch/internal/usecase/runconsole"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the interactive runs console",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		status, _ := cmd.Flags().GetString("status")
		actor, _ := cmd.Flags().GetString("actor")
		limit, _ := cmd.Flags().GetInt("limit")
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")

		model := runconsole.NewRunModel(ctx, svc, runconsole.Options{
			StatusFilter:    status,
			Actor:           actor,
			Limit:           limit,
			RefreshInterval: refreshInterval,
		})

		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run console")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().String("status", "", "Optional status filter (draft|manifest-loaded|store-counts-calculated|distributed|error)")
	consoleCmd.Flags().String("actor", "", "Actor recorded on allocations started from the console")
	consoleCmd.Flags().Int("limit", 20, "Maximum runs listed")
	consoleCmd.Flags().Duration("refresh-interval", 2*time.Second, "Auto refresh interval")
}
