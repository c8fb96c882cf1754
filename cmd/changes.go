package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Show recent badge transitions (default 50)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asin, _ := cmd.Flags().GetString("asin")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		transitions, err := db.RecentTransitions(cmd.Context(), limit, strings.ToUpper(asin))
		if err != nil {
			return err
		}
		printTransitions(transitions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().Int("limit", 50, "Number of recent transitions to show")
	changesCmd.Flags().String("asin", "", "Only show transitions for this ASIN")
}
