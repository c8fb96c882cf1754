package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sellerwatch/sellerwatch/internal/utils"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `           _ _                         _       _
  ___  ___| | | ___ _ ____      ____ _| |_ ___| |__
 / __|/ _ \ | |/ _ \ '__\ \ /\ / / _` + "`" + ` | __/ __| '_ \
 \__ \  __/ | |  __/ |   \ V  V / (_| | || (__| | | |
 |___/\___|_|_|\___|_|    \_/\_/ \__,_|\__\___|_| |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sellerwatch",
	Short: "Best Seller badge monitoring for Amazon products.",
	Long: LOGO + `sellerwatch tracks ASINs through the Keepa API, detects when a product
gains or loses the #1 spot in a category, and alerts your Slack channel.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sellerwatch.yaml)")

	// Global flags
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/sellerwatch/sellerwatch.sqlite)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".sellerwatch")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.sellerwatch.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("keepa.apikey", "")
	viper.SetDefault("keepa.domain", 1)
	viper.SetDefault("slack.token", "")
	viper.SetDefault("slack.channel", "")
	viper.SetDefault("monitor.groupsize", 100)
	viper.SetDefault("monitor.concurrency", 2)
	viper.SetDefault("monitor.retries", 3)
	viper.SetDefault("monitor.retrydelay", 2)
	viper.SetDefault("monitor.summaryhour", 8)
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
