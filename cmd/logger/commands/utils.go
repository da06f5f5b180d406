package commands

import (
	"os"
	"path/filepath"

	"github.com/matt-g-everett/logger/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(journalPath, commitDBPath, flashDir string) error {
	if err := os.MkdirAll(filepath.Dir(journalPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create journal directory")
	}

	if commitDBPath != "" {
		if err := os.MkdirAll(commitDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create commit FSM directory")
		}
	}

	if flashDir != "" {
		if err := os.MkdirAll(flashDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create flash directory")
		}
	}

	return nil
}
