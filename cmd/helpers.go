package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/utils"
	"github.com/sellerwatch/sellerwatch/pkg/badge"
	"github.com/sellerwatch/sellerwatch/pkg/keepa"
	"github.com/sellerwatch/sellerwatch/pkg/monitor"
	"github.com/sellerwatch/sellerwatch/pkg/notify"
	"github.com/sellerwatch/sellerwatch/pkg/retry"
	"github.com/sellerwatch/sellerwatch/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// openDB resolves the database path from the global --dbpath flag and
// opens it.
func openDB(cmd *cobra.Command) (*storage.DB, error) {
	dbPath, _ := cmd.Flags().GetString("dbpath")
	absPath, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureParentDir(absPath); err != nil {
		return nil, err
	}
	return storage.Open(absPath)
}

func retryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if n := viper.GetInt("monitor.retries"); n > 0 {
		p.MaxAttempts = n
	}
	if d := viper.GetInt("monitor.retrydelay"); d > 0 {
		p.BaseDelay = time.Duration(d) * time.Second
	}
	return p
}

// slackChannel builds the configured Slack channel, or nil when Slack
// is not set up.
func slackChannel() *notify.SlackChannel {
	token := viper.GetString("slack.token")
	channel := viper.GetString("slack.channel")
	if token == "" || channel == "" {
		return nil
	}
	return notify.NewSlackChannel(token, channel, 15*time.Second)
}

// keepaClient builds the configured product-data client.
func keepaClient() (*keepa.Client, error) {
	apiKey := viper.GetString("keepa.apikey")
	if apiKey == "" {
		return nil, fmt.Errorf("keepa.apikey is not set; add it to ~/.sellerwatch.yaml")
	}
	return keepa.NewClient(apiKey, viper.GetInt("keepa.domain"), 60*time.Second), nil
}

// newRunner wires the batch runner from the config: Keepa client,
// Slack dispatcher and retry policy. Notifications are disabled when
// Slack is unconfigured or dryRun is set.
func newRunner(db *storage.DB, dryRun bool) (*monitor.Runner, error) {
	client, err := keepaClient()
	if err != nil {
		return nil, err
	}

	policy := retryPolicy()
	r := &monitor.Runner{
		Store:       db,
		Fetcher:     client,
		GroupSize:   viper.GetInt("monitor.groupsize"),
		Concurrency: viper.GetInt("monitor.concurrency"),
		Retry:       policy,
	}

	if dryRun {
		utils.Log.Info("Dry run: notifications disabled")
		return r, nil
	}
	if ch := slackChannel(); ch != nil {
		r.Notifier = notify.NewDispatcher(db, ch, policy)
	} else {
		utils.Log.Info("Slack not configured; transitions will be recorded but not delivered")
	}
	return r, nil
}

// dueOrAllItems selects the items for one batch: the interval-due ones
// by default, or every active item with --all.
func dueOrAllItems(ctx context.Context, db *storage.DB, all bool, limit, priority int) ([]storage.TrackedItem, error) {
	if !all {
		return db.DueItems(ctx, time.Now().UTC(), limit, priority)
	}
	items, err := db.ListItems(ctx, false)
	if err != nil {
		return nil, err
	}
	filtered := items[:0]
	for _, item := range items {
		if priority > 0 && item.Priority != priority {
			continue
		}
		filtered = append(filtered, item)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func printTransitions(transitions []badge.Transition) {
	for _, tr := range transitions {
		var emoji string
		switch tr.Kind {
		case badge.KindGained:
			emoji = "🎉"
		case badge.KindLost:
			emoji = "⚠️"
		}

		sent := ""
		if tr.NotificationSent {
			sent = " [notified]"
		}
		ts := tr.DetectedAt.Format("2006-01-02 15:04:05")
		fmt.Printf("%s  %s  %-6s  %s  %s (category %s)%s\n", ts, emoji, tr.Kind, tr.ASIN, tr.CategoryName, tr.CategoryID, sent)
	}
}
