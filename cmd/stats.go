package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sellerwatch/sellerwatch/pkg/keepa"
	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints statistics about tracked items, badges and API spend.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		stats, err := db.GetStats(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintf(w, "Tracked items\t%d\t\n", stats.TrackedItems)
		fmt.Fprintf(w, "Active items\t%d\t\n", stats.ActiveItems)
		fmt.Fprintf(w, "Badges currently held\t%d\t\n", stats.BadgesHeld)
		fmt.Fprintf(w, "Transitions recorded\t%d\t\n", stats.TotalTransitions)
		fmt.Fprintf(w, "Batch runs\t%d\t\n", stats.TotalRuns)
		fmt.Fprintf(w, "Tokens spent\t%d\t(~$%.2f)\t\n", stats.TotalCostTokens, float64(keepa.EstimateCostCents(stats.TotalCostTokens))/100)
		w.Flush()

		runs, err := db.ListRuns(ctx, 5)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}

		fmt.Println("\nRecent runs:")
		rw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(rw, "STARTED\tSTATUS\tITEMS\tTRANSITIONS\tNOTIFIED\tTOKENS\t")
		for _, run := range runs {
			fmt.Fprintf(rw, "%s\t%s\t%d/%d\t%d\t%d\t%d\t\n",
				run.StartedAt.Format("2006-01-02 15:04"), run.Status,
				run.ItemsSucceeded, run.ItemsAttempted, run.TransitionsFound, run.NotificationsSent, run.CostTokens)
		}
		return rw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
