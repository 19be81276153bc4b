package timeline

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/soundprediction/go-timeline/pkg/config"
	"github.com/soundprediction/go-timeline/pkg/telemetry"
	"github.com/spf13/cobra"
)

var errorsLimit int

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List recent reconciliation errors recorded by telemetry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Telemetry.DuckDBPath == "" {
			return fmt.Errorf("telemetry.duckdb_path is not configured")
		}

		db, err := telemetry.Open(cfg.Telemetry.DuckDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := telemetry.RecentErrors(cmd.Context(), db, errorsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tLEVEL\tMODE\tSOURCE\tINTERVAL\tMESSAGE\tATTRIBUTES")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Timestamp.Format(time.RFC3339), r.Level, r.Mode, r.RequestSource, r.IntervalID, r.Message, r.Attributes)
		}
		return w.Flush()
	},
}

func init() {
	errorsCmd.Flags().IntVar(&errorsLimit, "limit", 20, "Number of records to show")
	rootCmd.AddCommand(errorsCmd)
}
