package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/matt-g-everett/logger/internal/config"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is the level of the default logger.
var LogLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "logger",
	Short: "Logger device firmware with MQTT over-the-air updates",
	Long:  `Runs the device agent, publishes firmware updates over MQTT and inspects update history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyLogLevel()
	},
}

// applyLogLevel sets LogLevel from the merged flag, env and file config.
func applyLogLevel() error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	LogLevel.Set(level)
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("broker-url", "tcp://localhost:1883", "MQTT broker URL")
	rootCmd.PersistentFlags().String("client-id", "logger", "MQTT client id")
	rootCmd.PersistentFlags().String("advertise-topic", "home/ota/advertise", "Topic carrying update advertisements")
	rootCmd.PersistentFlags().String("report-topic", "home/ota/report", "Topic carrying version reports")
	rootCmd.PersistentFlags().String("flash-dir", ".artifacts/flash", "Directory holding the emulated flash partitions")
	rootCmd.PersistentFlags().String("journal-path", ".artifacts/journal.db", "SQLite update journal path")
	rootCmd.PersistentFlags().String("commit-db-path", ".artifacts/commit", "Commit workflow FSM database directory")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket holding firmware images")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	viper.BindPFlag("broker-url", rootCmd.PersistentFlags().Lookup("broker-url"))
	viper.BindPFlag("client-id", rootCmd.PersistentFlags().Lookup("client-id"))
	viper.BindPFlag("advertise-topic", rootCmd.PersistentFlags().Lookup("advertise-topic"))
	viper.BindPFlag("report-topic", rootCmd.PersistentFlags().Lookup("report-topic"))
	viper.BindPFlag("flash-dir", rootCmd.PersistentFlags().Lookup("flash-dir"))
	viper.BindPFlag("journal-path", rootCmd.PersistentFlags().Lookup("journal-path"))
	viper.BindPFlag("commit-db-path", rootCmd.PersistentFlags().Lookup("commit-db-path"))
	viper.BindPFlag("s3-bucket", rootCmd.PersistentFlags().Lookup("s3-bucket"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}
