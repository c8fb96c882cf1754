package cmd

import (
	"fmt"

	"github.com/sellerwatch/sellerwatch/internal/utils"
	"github.com/sellerwatch/sellerwatch/pkg/keepa"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one monitoring batch over the due items",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		priority, _ := cmd.Flags().GetInt("priority")
		limit, _ := cmd.Flags().GetInt("limit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		dbPath, _ := cmd.Flags().GetString("dbpath")
		lock, err := utils.NewDBLock(dbPath)
		if err != nil {
			return err
		}
		if err := lock.Lock(); err != nil {
			return err
		}
		defer lock.Unlock()

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		runner, err := newRunner(db, dryRun)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		items, err := dueOrAllItems(ctx, db, all, limit, priority)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Nothing due. Use --all to check every active item now.")
			return nil
		}

		sum, err := runner.RunBatch(ctx, items)
		if err != nil {
			return err
		}

		transitions, err := db.RunTransitions(ctx, sum.RunID)
		if err != nil {
			return err
		}
		printTransitions(transitions)

		fmt.Printf("\nRun %s: %d/%d items checked, %d transitions, %d notified, %d tokens (~$%.2f)\n",
			sum.RunID, sum.ItemsSucceeded, sum.ItemsAttempted, sum.TransitionsFound, sum.NotificationsSent,
			sum.CostTokens, float64(keepa.EstimateCostCents(sum.CostTokens))/100)
		if sum.Errors > 0 {
			fmt.Printf("%d errors were recorded; see 'sellerwatch stats' or the run_errors table.\n", sum.Errors)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("all", false, "Check every active item regardless of interval")
	runCmd.Flags().Int("priority", 0, "Only check items with this priority")
	runCmd.Flags().Int("limit", 0, "Cap the number of items checked this run")
	runCmd.Flags().Bool("dry-run", false, "Record transitions without sending notifications")
}
