package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/sellerwatch/sellerwatch/internal/utils"
	"github.com/sellerwatch/sellerwatch/pkg/storage"
	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Manage the set of tracked ASINs",
}

var trackAddCmd = &cobra.Command{
	Use:   "add ASIN [ASIN...]",
	Short: "Start tracking one or more ASINs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetInt("interval")
		priority, _ := cmd.Flags().GetInt("priority")
		title, _ := cmd.Flags().GetString("title")
		if interval < 15 || interval > 1440 {
			return fmt.Errorf("interval must be between 15 and 1440 minutes")
		}
		if priority < 1 || priority > 5 {
			return fmt.Errorf("priority must be between 1 (highest) and 5")
		}
		if title != "" && len(args) > 1 {
			return fmt.Errorf("--title only makes sense with a single ASIN")
		}

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		for _, raw := range args {
			asin := strings.ToUpper(strings.TrimSpace(raw))
			if !utils.IsASIN(asin) {
				utils.Log.Warnf("Skipping %q: not a valid ASIN", raw)
				continue
			}
			err := db.AddItem(cmd.Context(), storage.TrackedItem{
				ASIN:            asin,
				Title:           title,
				IntervalMinutes: interval,
				Priority:        priority,
			})
			if err != nil {
				utils.Log.Warnf("%v", err)
				continue
			}
			fmt.Printf("Tracking %s (every %d min, priority %d)\n", asin, interval, priority)
		}
		return nil
	},
}

var trackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked ASINs",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListItems(cmd.Context(), all)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No tracked items. Add one with 'sellerwatch track add <ASIN>'.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ASIN\tTITLE\tINTERVAL\tPRIORITY\tACTIVE\tLAST CHECKED\t")
		for _, item := range items {
			lastChecked := "never"
			if !item.LastCheckedAt.IsZero() {
				lastChecked = item.LastCheckedAt.Format("2006-01-02 15:04")
			}
			title := item.Title
			if title == "" {
				title = "-"
			}
			fmt.Fprintf(w, "%s\t%.40s\t%dm\t%d\t%t\t%s\t\n", item.ASIN, title, item.IntervalMinutes, item.Priority, item.Active, lastChecked)
		}
		return w.Flush()
	},
}

var trackEnableCmd = &cobra.Command{
	Use:   "enable ASIN",
	Short: "Resume monitoring for an ASIN",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setItemActive(cmd, args[0], true)
	},
}

var trackDisableCmd = &cobra.Command{
	Use:   "disable ASIN",
	Short: "Pause monitoring for an ASIN (history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setItemActive(cmd, args[0], false)
	},
}

func setItemActive(cmd *cobra.Command, asin string, active bool) error {
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SetItemActive(cmd.Context(), strings.ToUpper(asin), active); err != nil {
		return err
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("%s %s\n", strings.ToUpper(asin), state)
	return nil
}

func init() {
	rootCmd.AddCommand(trackCmd)
	trackCmd.AddCommand(trackAddCmd)
	trackCmd.AddCommand(trackListCmd)
	trackCmd.AddCommand(trackEnableCmd)
	trackCmd.AddCommand(trackDisableCmd)

	trackAddCmd.Flags().Int("interval", 60, "Minutes between checks (15-1440)")
	trackAddCmd.Flags().Int("priority", 1, "Priority 1 (highest) to 5")
	trackAddCmd.Flags().String("title", "", "Display title for alerts (single ASIN only)")
	trackListCmd.Flags().Bool("all", false, "Include disabled items")
}
