package commands

import (
	"fmt"

	"github.com/matt-g-everett/logger/internal/config"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/journal"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent update sessions",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of sessions to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if err := ensureDirectories(cfg.JournalPath, "", ""); err != nil {
		return err
	}

	repo, err := journal.NewRepository(cfg.JournalPath)
	if err != nil {
		return errors.Wrap(err, "journal init failed")
	}
	defer repo.Close()

	entries, err := repo.List(historyLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(entries) == 0 {
		fmt.Println("No update sessions found")
		return nil
	}

	fmt.Printf("%-20s %-12s %-20s %-10s %-8s %-10s %-19s\n", "STARTED", "VERSION", "STATUS", "CHECKSUM", "TARGET", "BYTES", "ERROR")
	fmt.Println("----------------------------------------------------------------------------------------------------")

	for _, e := range entries {
		partition := e.Partition
		if partition == "" {
			partition = "-"
		}
		errMsg := e.ErrorMessage
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Printf("%-20s %-12s %-20s %-10s %-8s %-10d %s\n",
			e.StartedAt, e.Version, e.Status, e.Checksum, partition, e.BytesWritten, errMsg)
	}

	return nil
}
