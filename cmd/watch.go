package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/utils"
	"github.com/sellerwatch/sellerwatch/pkg/badge"
	"github.com/sellerwatch/sellerwatch/pkg/monitor"
	"github.com/sellerwatch/sellerwatch/pkg/notify"
	"github.com/sellerwatch/sellerwatch/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run monitoring batches continuously",
	Long: `Runs a batch immediately and then keeps checking the due items on a
fixed cadence until interrupted. Undelivered alerts from earlier runs
are retried at the start of each cycle, and a daily summary is posted
to Slack at the configured hour.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetInt("interval")
		if interval < 1 {
			return fmt.Errorf("interval must be at least 1 minute")
		}
		summaryHour, _ := cmd.Flags().GetInt("summary-hour")
		if !cmd.Flags().Changed("summary-hour") {
			summaryHour = viper.GetInt("monitor.summaryhour")
		}
		if summaryHour < 0 || summaryHour > 23 {
			return fmt.Errorf("summary-hour must be between 0 and 23")
		}

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

		runner, err := newRunner(db, false)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Probe the API before settling into the loop: a bad key should
		// show up now, not on the first cycle.
		if client, err := keepaClient(); err == nil {
			if err := client.HealthCheck(ctx); err != nil {
				utils.Log.Warnf("API health check failed: %v", err)
			}
		}

		ch := slackChannel()
		if ch != nil {
			if err := ch.SystemAlert(ctx, "info", fmt.Sprintf("sellerwatch started, checking every %d minutes", interval)); err != nil {
				utils.Log.Warnf("Startup alert failed: %v", err)
			}
			defer func() {
				// The watch context is already canceled on shutdown.
				alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := ch.SystemAlert(alertCtx, "warning", "sellerwatch stopped"); err != nil {
					utils.Log.Warnf("Shutdown alert failed: %v", err)
				}
			}()
		}

		utils.Log.Infof("Watching; cycle every %d minutes (Ctrl+C to stop)", interval)
		watchCycle(ctx, db, runner)

		nextSummary := nextSummaryAfter(time.Now().UTC(), summaryHour)
		ticker := time.NewTicker(time.Duration(interval) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				utils.Log.Info("Shutting down")
				return nil
			case <-ticker.C:
				watchCycle(ctx, db, runner)
				if ch != nil && !time.Now().UTC().Before(nextSummary) {
					sendDailySummary(ctx, db, ch)
					nextSummary = nextSummaryAfter(time.Now().UTC(), summaryHour)
				}
			}
		}
	},
}

// nextSummaryAfter returns the next occurrence of the given UTC hour
// strictly after now.
func nextSummaryAfter(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// sendDailySummary posts the daily digest: tracked-item counts, badges
// held and the last day's transitions. Failures are logged; the next
// scheduled summary will carry the same lifetime counters anyway.
func sendDailySummary(ctx context.Context, db *storage.DB, ch *notify.SlackChannel) {
	stats, err := db.GetStats(ctx)
	if err != nil {
		utils.Log.Warnf("Daily summary: reading stats: %v", err)
		return
	}
	transitions, err := db.TransitionsSince(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		utils.Log.Warnf("Daily summary: reading transitions: %v", err)
		return
	}

	report := notify.DailyReport{
		TrackedItems: stats.TrackedItems,
		ActiveItems:  stats.ActiveItems,
		BadgesHeld:   stats.BadgesHeld,
		CostTokens:   stats.TotalCostTokens,
	}
	for _, tr := range transitions {
		switch tr.Kind {
		case badge.KindGained:
			report.Gained++
		case badge.KindLost:
			report.Lost++
		}
	}

	if err := ch.Send(ctx, notify.BuildDailySummary(report, time.Now().UTC())); err != nil {
		utils.Log.Warnf("Daily summary delivery failed: %v", err)
		return
	}
	utils.Log.Info("Daily summary posted")
}

// watchCycle retries pending alerts, then runs one batch over the due
// items. Errors are logged; only the operator can fix a configuration
// problem, so the loop keeps ticking either way.
func watchCycle(ctx context.Context, db *storage.DB, runner *monitor.Runner) {
	if runner.Notifier != nil {
		retryPending(ctx, db, runner)
	}

	items, err := db.DueItems(ctx, time.Now().UTC(), 0, 0)
	if err != nil {
		utils.Log.Errorf("Selecting due items: %v", err)
		return
	}
	if len(items) == 0 {
		utils.Log.Debug("No items due this cycle")
		return
	}

	if _, err := runner.RunBatch(ctx, items); err != nil {
		utils.Log.Errorf("Batch failed: %v", err)
	}
}

// retryPending re-attempts delivery for transitions whose notification
// never got acknowledged, oldest first.
func retryPending(ctx context.Context, db *storage.DB, runner *monitor.Runner) {
	pending, err := db.UnnotifiedTransitions(ctx, 100)
	if err != nil {
		utils.Log.Warnf("Listing pending alerts: %v", err)
		return
	}
	for _, tr := range pending {
		res, err := runner.Notifier.Notify(ctx, tr, db.ItemTitle(ctx, tr.ASIN))
		if err != nil {
			utils.Log.Warnf("Retrying alert for transition %d: %v", tr.ID, err)
		}
		utils.Log.Debugf("Pending alert %d: %s", tr.ID, res)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Int("interval", 15, "Minutes between monitoring cycles")
	watchCmd.Flags().Int("summary-hour", 8, "UTC hour (0-23) to post the daily Slack summary")
}
