package ota

import (
	"context"
	"log/slog"

	"github.com/matt-g-everett/logger/pkg/errors"
)

// DirectCommitter finalizes the writer and selects its partition for the
// next boot, in-process.
type DirectCommitter struct {
	Storage Storage
}

// Commit implements Committer.
func (c DirectCommitter) Commit(ctx context.Context, req CommitRequest) error {
	if err := req.Writer.Finalize(); err != nil {
		return errors.Mark(errors.ErrStorage, err, "finalize %s", req.Partition.Label)
	}
	if err := c.Storage.SetBoot(req.Partition); err != nil {
		return errors.Mark(errors.ErrStorage, err, "set boot %s", req.Partition.Label)
	}
	slog.Info("ota_boot_partition_set", "partition", req.Partition.Label, "session_id", req.SessionID)
	return nil
}
