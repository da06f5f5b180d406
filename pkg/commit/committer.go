package commit

import (
	"context"
	"log/slog"

	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/ota"
	"github.com/superfly/fsm"
)

// Committer implements ota.Committer on top of the commit FSM.
type Committer struct {
	manager *fsm.Manager
	machine *Machine
	start   fsm.Start[Request, Response]
}

// NewCommitter registers the commit FSM with manager.
func NewCommitter(ctx context.Context, manager *fsm.Manager, storage ota.Storage) (*Committer, error) {
	machine := NewMachine(storage)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return nil, err
	}
	return &Committer{manager: manager, machine: machine, start: start}, nil
}

// Commit runs the workflow for one verified image and waits for it.
func (c *Committer) Commit(ctx context.Context, req ota.CommitRequest) error {
	c.machine.track(req.SessionID, req.Writer)

	version, err := c.start(ctx, req.SessionID, fsm.NewRequest(&Request{
		SessionID: req.SessionID,
		Partition: req.Partition,
		Checksum:  req.Checksum,
		Bytes:     req.Bytes,
	}, &Response{}))
	if err != nil {
		c.machine.release(req.SessionID)
		return errors.Mark(errors.ErrStorage, err, "commit start failed")
	}

	slog.Info("commit_started", "session_id", req.SessionID, "version", version)

	waitErr := c.manager.Wait(ctx, version)
	if failure := c.machine.release(req.SessionID); failure != nil {
		return failure
	}
	if waitErr != nil {
		return errors.Mark(errors.ErrStorage, waitErr, "commit failed")
	}
	return nil
}
