package commands

import (
	"fmt"

	"github.com/matt-g-everett/logger/internal/config"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/flash"
	"github.com/spf13/cobra"
)

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Show the flash partition table and boot selection",
	RunE:  runPartitions,
}

func init() {
	rootCmd.AddCommand(partitionsCmd)
}

func runPartitions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	store, err := flash.Open(cfg.FlashDir, cfg.PartitionSize)
	if err != nil {
		return errors.Wrap(err, "flash open failed")
	}

	infos, err := store.Partitions()
	if err != nil {
		return err
	}

	fmt.Printf("%-8s %-12s %-12s %-8s %-8s\n", "LABEL", "SIZE", "IMAGE", "RUNNING", "BOOT")
	fmt.Println("--------------------------------------------------")

	for _, p := range infos {
		fmt.Printf("%-8s %-12d %-12d %-8s %-8s\n",
			p.Label, p.Size, p.ImageBytes, mark(p.Running), mark(p.Boot))
	}

	return nil
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}
