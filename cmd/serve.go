package cmd

import (
	"context"

	"github.com/sellerwatch/sellerwatch/internal/server"
	"github.com/sellerwatch/sellerwatch/pkg/monitor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		// POST /api/run triggers a batch over the currently due items.
		trigger := func(ctx context.Context) (monitor.Summary, error) {
			runner, err := newRunner(db, false)
			if err != nil {
				return monitor.Summary{}, err
			}
			items, err := dueOrAllItems(ctx, db, false, 0, 0)
			if err != nil {
				return monitor.Summary{}, err
			}
			return runner.RunBatch(ctx, items)
		}

		srv := server.New(db, viper.GetString("server.username"), viper.GetString("server.password"), trigger)
		return srv.Start(listenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
}
