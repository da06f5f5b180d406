// Package commit runs the commit of a verified firmware image as a durable
// workflow: finalize the written partition, select it for boot, then confirm
// the boot selector.
package commit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/ota"
	"github.com/superfly/fsm"
)

// Machine holds dependencies for FSM transitions. Open writers cannot be
// persisted, so they are handed over in memory keyed by session id.
type Machine struct {
	storage ota.Storage

	mu      sync.Mutex
	writers map[string]ota.Writer
	failure map[string]error
}

// NewMachine creates a commit machine over the device partition table
func NewMachine(storage ota.Storage) *Machine {
	return &Machine{
		storage: storage,
		writers: make(map[string]ota.Writer),
		failure: make(map[string]error),
	}
}

// Register registers the commit FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[Request, Response], fsm.Resume, error) {
	start, resume, err := fsm.Register[Request, Response](manager, "firmware-commit").
		Start(StateFinalize, m.handleFinalize).
		To(StateActivate, m.handleActivate).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

func (m *Machine) track(sessionID string, w ota.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writers[sessionID] = w
	delete(m.failure, sessionID)
}

// release forgets the session and returns the failure recorded for it, if any.
func (m *Machine) release(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.failure[sessionID]
	delete(m.writers, sessionID)
	delete(m.failure, sessionID)
	return err
}

func (m *Machine) writer(sessionID string) ota.Writer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writers[sessionID]
}

func (m *Machine) abort(sessionID string, err error) error {
	m.mu.Lock()
	m.failure[sessionID] = err
	m.mu.Unlock()
	return fsm.Abort(err)
}

// handleFinalize flushes and closes the written partition
func (m *Machine) handleFinalize(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	slog.Info("fsm_state_finalize", "session_id", req.Msg.SessionID, "partition", req.Msg.Partition.Label)

	resp := req.W.Msg
	if resp == nil {
		resp = &Response{}
	}

	w := m.writer(req.Msg.SessionID)
	if w == nil {
		slog.Error("commit_writer_missing", "session_id", req.Msg.SessionID)
		return nil, m.abort(req.Msg.SessionID, errors.Newf(errors.ErrStorage, "no open writer for session %s", req.Msg.SessionID))
	}

	if err := w.Finalize(); err != nil {
		slog.Error("commit_finalize_failed", "session_id", req.Msg.SessionID, "partition", req.Msg.Partition.Label, "error", err)
		return nil, m.abort(req.Msg.SessionID, errors.Mark(errors.ErrStorage, err, "finalize %s", req.Msg.Partition.Label))
	}

	resp.Finalized = true
	return fsm.NewResponse(resp), nil
}

// handleActivate selects the partition for the next boot
func (m *Machine) handleActivate(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	slog.Info("fsm_state_activate", "session_id", req.Msg.SessionID, "partition", req.Msg.Partition.Label)

	resp := req.W.Msg
	if resp == nil {
		return nil, m.abort(req.Msg.SessionID, fmt.Errorf("response not initialized"))
	}

	if err := m.storage.SetBoot(req.Msg.Partition); err != nil {
		slog.Error("commit_set_boot_failed", "session_id", req.Msg.SessionID, "partition", req.Msg.Partition.Label, "error", err)
		return nil, m.abort(req.Msg.SessionID, errors.Mark(errors.ErrStorage, err, "set boot %s", req.Msg.Partition.Label))
	}

	resp.Activated = true
	return fsm.NewResponse(resp), nil
}

// handleComplete confirms the boot selector points at the new image
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	slog.Info("fsm_state_complete", "session_id", req.Msg.SessionID)

	resp := req.W.Msg
	if resp == nil {
		resp = &Response{}
	}

	if boot := m.storage.Boot(); boot.Label != req.Msg.Partition.Label {
		slog.Error("commit_boot_mismatch", "session_id", req.Msg.SessionID, "boot", boot.Label, "want", req.Msg.Partition.Label)
		return nil, m.abort(req.Msg.SessionID, errors.Newf(errors.ErrStorage, "boot partition is %s, want %s", boot.Label, req.Msg.Partition.Label))
	}

	resp.Status = StateComplete
	slog.Info("fsm_complete",
		"session_id", req.Msg.SessionID,
		"partition", req.Msg.Partition.Label,
		"checksum", fmt.Sprintf("%08x", req.Msg.Checksum),
		"bytes", req.Msg.Bytes)

	return fsm.NewResponse(resp), nil
}
