package commands

import (
	"fmt"

	"github.com/matt-g-everett/logger/internal/config"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/version"
	"github.com/spf13/cobra"
)

var bumpVersionCmd = &cobra.Command{
	Use:   "bump-version [version-file]",
	Short: "Increment the prerelease counter of the version file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBumpVersion,
}

func init() {
	rootCmd.AddCommand(bumpVersionCmd)
}

func runBumpVersion(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	path := cfg.VersionFile
	if len(args) == 1 {
		path = args[0]
	}

	next, bumped, err := version.BumpFile(path)
	if err != nil {
		return err
	}

	if !bumped {
		fmt.Printf("%s has no prerelease counter, left at %s\n", path, next)
		return nil
	}
	fmt.Println(next)
	return nil
}
