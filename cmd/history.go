package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/revgraph/internal/console"
	"github.com/maxkimambo/revgraph/internal/errors"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded reviews",
	Long: `List the most recent reviews recorded in PostgreSQL.

The database comes from --database-url, REVGRAPH_DATABASE_URL or the
database_url setting of the configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.NewValidationError(errors.CodeMissingInput, "no database configured", "history").
				WithHint("Pass --database-url or set REVGRAPH_DATABASE_URL")
		}

		store, closeDB, err := openHistory(cmd.Context(), cfg.DatabaseURL)
		defer closeDB()
		if err != nil {
			return err
		}
		runs, err := store.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), console.Info("No reviews recorded yet"))
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), console.HistoryTable(runs))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	historyCmd.Flags().String("database-url", "", "PostgreSQL URL for the run history")
	addConfigFlags(historyCmd)
}
