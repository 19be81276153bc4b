package timeline

import (
	"fmt"
	"time"

	"github.com/soundprediction/go-timeline/pkg/utils"
	"github.com/spf13/cobra"
)

var expandCmd = &cobra.Command{
	Use:   "expand <start> [end]",
	Short: "Print the day origins an interval spans",
	Long: `Print the canonical origin of every calendar day between start and end,
inclusive. Without an end only the start day is printed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := utils.ParseTimestamp(args[0])
		if err != nil {
			return err
		}
		var end *time.Time
		if len(args) == 2 {
			t, err := utils.ParseTimestamp(args[1])
			if err != nil {
				return err
			}
			end = &t
		}

		days, err := utils.ExpandDateRange(start, end)
		if err != nil {
			return err
		}
		for _, day := range days {
			fmt.Fprintln(cmd.OutOrStdout(), utils.CanonicalOrigin(day))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(expandCmd)
}
