package ota

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/security"
	"github.com/matt-g-everett/logger/pkg/version"
)

// DefaultTimeout bounds a whole transfer, measured from the advertisement.
const DefaultTimeout = 60 * time.Second

const (
	evAdvertise = "advertise"
	evStart     = "start_download"
	evAbort     = "abort"
)

// Options configures an Engine.
type Options struct {
	AdvertiseTopic string
	Software       string
	Version        string
	Timeout        time.Duration

	Transport Transport
	Storage   Storage
	// Committer defaults to a DirectCommitter over Storage.
	Committer Committer
	// Recorder is optional.
	Recorder Recorder
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Engine is the update session state machine. Exactly one exists per device.
type Engine struct {
	mu   sync.Mutex
	opts Options

	machine   *fsm.FSM
	session   Session
	writer    Writer
	verifier  *Verifier
	reasm     *Reassembler
	validator *security.Validator

	halted        bool
	restartReason string
}

// New creates an engine in the running state.
func New(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Committer == nil {
		opts.Committer = DirectCommitter{Storage: opts.Storage}
	}

	e := &Engine{
		opts:     opts,
		verifier: NewVerifier(),
		reasm:    NewReassembler(),
		session: Session{
			State:             StateRunning,
			Software:          opts.Software,
			RunningVersion:    opts.Version,
			ExpectedMessageID: NoMessageID,
		},
	}
	e.session.StartedAt = opts.Clock()

	e.machine = fsm.NewFSM(
		string(StateRunning),
		fsm.Events{
			{Name: evAdvertise, Src: []string{string(StateRunning)}, Dst: string(StateAwaitingDownload)},
			{Name: evStart, Src: []string{string(StateAwaitingDownload)}, Dst: string(StateDownloading)},
			{Name: evAbort, Src: []string{string(StateAwaitingDownload), string(StateDownloading)}, Dst: string(StateRunning)},
		},
		fsm.Callbacks{
			"enter_state": func(ev *fsm.Event) { e.enterState(ev) },
		},
	)

	slog.Info("ota_engine_init",
		"software", opts.Software,
		"version", opts.Version,
		"advertise_topic", opts.AdvertiseTopic,
		"timeout", opts.Timeout)
	return e
}

// enterState runs inside machine.Event, with e.mu already held by the caller.
func (e *Engine) enterState(ev *fsm.Event) {
	e.session.State = State(ev.Dst)
	if ev.Src == string(StateRunning) {
		e.session.StartedAt = e.opts.Clock()
	}
	slog.Info("ota_state_changed", "event", ev.Event, "from", ev.Src, "to", ev.Dst, "session_id", e.session.ID)
}

// State returns the current session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.State
}

// Snapshot returns a copy of the session record.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Halted reports whether the engine has reached the restart action.
func (e *Engine) Halted() (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted, e.restartReason
}

// Handle processes one transport message.
func (e *Engine) Handle(ctx context.Context, msg Message) Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		slog.Warn("ota_message_after_restart", "topic", msg.Topic, "message_id", msg.ID)
		return ActionNone
	}

	if msg.Topic != "" && msg.Topic == e.opts.AdvertiseTopic {
		return e.handleAdvertisement(msg)
	}

	switch e.session.State {
	case StateRunning:
		slog.Debug("ota_message_ignored", "topic", msg.Topic, "message_id", msg.ID, "length", msg.Length)
		return ActionNone

	case StateAwaitingDownload:
		if msg.Topic == e.session.Channel && msg.Offset == 0 {
			return e.startDownload(ctx, msg)
		}
		return e.hardReset(OutcomeProtocolViolation, msg, errors.Newf(errors.ErrProtocol,
			"expected first chunk on %q at offset 0, got topic %q offset %d", e.session.Channel, msg.Topic, msg.Offset))

	case StateDownloading:
		if err := e.reasm.Continue(msg); err != nil {
			return e.hardReset(OutcomeProtocolViolation, msg, err)
		}
		return e.processChunk(ctx, msg)
	}

	return e.hardReset(OutcomeProtocolViolation, msg, errors.Newf(errors.ErrProtocol, "unknown state %q", e.session.State))
}

// Tick aborts the session when it has outlived the timeout.
func (e *Engine) Tick(now time.Time) Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted || e.session.State == StateRunning {
		return ActionNone
	}

	elapsed := now.Sub(e.session.StartedAt)
	if elapsed <= e.opts.Timeout {
		return ActionNone
	}

	slog.Warn("ota_session_timeout",
		"session_id", e.session.ID,
		"state", e.session.State,
		"channel", e.session.Channel,
		"bytes_written", e.session.BytesWritten,
		"elapsed", elapsed)
	e.softReset(OutcomeTimedOut, errors.Newf(errors.ErrTimeout, "session exceeded %s", e.opts.Timeout))
	return ActionSoftReset
}

func (e *Engine) handleAdvertisement(msg Message) Action {
	preempted := e.softReset(OutcomeAborted, fmt.Errorf("preempted by advertisement"))

	adv, err := ParseAdvertisement(msg.Payload)
	if err != nil {
		slog.Error("ota_advertisement_invalid", "topic", msg.Topic, "payload", string(msg.Payload), "error", err)
		if preempted {
			return ActionSoftReset
		}
		return ActionNone
	}

	if adv.Checksum == SentinelChecksum {
		slog.Debug("ota_advertisement_sentinel",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"length", msg.Length,
			"total", msg.Total,
			"message_id", msg.ID)
	}

	if newer, err := version.IsNewer(adv.Version, e.opts.Version); err == nil {
		slog.Info("ota_advertisement_received",
			"software", adv.SoftwareType,
			"version", adv.Version,
			"channel", adv.Channel,
			"checksum", fmt.Sprintf("%08x", adv.Checksum),
			"newer", newer)
	} else {
		slog.Info("ota_advertisement_received",
			"software", adv.SoftwareType,
			"version", adv.Version,
			"channel", adv.Channel,
			"checksum", fmt.Sprintf("%08x", adv.Checksum))
	}
	if adv.SoftwareType != e.opts.Software {
		slog.Warn("ota_advertisement_foreign_software", "advertised", adv.SoftwareType, "running", e.opts.Software)
	}

	e.session.ID = uuid.NewString()
	e.session.AdvertisedSoftware = adv.SoftwareType
	e.session.AdvertisedVersion = adv.Version
	e.session.AdvertisedChecksum = adv.Checksum
	e.session.Channel = adv.Channel
	if err := e.machine.Event(evAdvertise); err != nil {
		slog.Error("ota_transition_failed", "event", evAdvertise, "error", err)
	}

	e.started()

	if err := e.opts.Transport.Subscribe(adv.Channel); err != nil {
		slog.Error("ota_subscribe_failed", "channel", adv.Channel, "error", err)
		e.softReset(OutcomeAborted, errors.Wrap(err, "subscribe failed"))
		return ActionSoftReset
	}
	return ActionNone
}

func (e *Engine) startDownload(ctx context.Context, msg Message) Action {
	if err := e.reasm.Start(msg); err != nil {
		return e.hardReset(OutcomeProtocolViolation, msg, err)
	}

	running := e.opts.Storage.Running()
	if boot := e.opts.Storage.Boot(); boot != running {
		slog.Warn("ota_boot_partition_mismatch", "boot", boot.Label, "running", running.Label)
	}

	target, err := e.opts.Storage.Next()
	if err != nil {
		return e.hardReset(OutcomeStorageFailed, msg, errors.Mark(errors.ErrStorage, err, "no update partition"))
	}

	w, err := e.opts.Storage.Begin(target)
	if err != nil {
		return e.hardReset(OutcomeStorageFailed, msg, errors.Mark(errors.ErrStorage, err, "begin %s", target.Label))
	}

	slog.Info("ota_download_started",
		"session_id", e.session.ID,
		"partition", target.Label,
		"message_id", msg.ID,
		"total", msg.Total)

	e.writer = w
	e.session.Target = target
	e.session.ExpectedMessageID = msg.ID
	e.verifier.Reset()
	e.validator = nil
	if target.Size > 0 {
		e.validator = security.NewValidator(target.Size)
	}
	if err := e.machine.Event(evStart); err != nil {
		slog.Error("ota_transition_failed", "event", evStart, "error", err)
	}

	return e.processChunk(ctx, msg)
}

func (e *Engine) processChunk(ctx context.Context, msg Message) Action {
	if e.validator != nil {
		if err := e.validator.AddWritten(int64(len(msg.Payload))); err != nil {
			return e.hardReset(OutcomeStorageFailed, msg, errors.Mark(errors.ErrStorage, err, "image too large"))
		}
	}

	n, err := e.writer.Write(msg.Payload)
	if err == nil && n != len(msg.Payload) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return e.hardReset(OutcomeStorageFailed, msg, errors.Mark(errors.ErrStorage, err, "append at offset %d", msg.Offset))
	}

	e.verifier.Write(msg.Payload)
	complete := e.reasm.Advance(msg)
	e.session.BytesWritten = e.reasm.Written()
	e.session.RunningChecksum = e.verifier.Sum32()

	slog.Debug("ota_chunk_written",
		"offset", msg.Offset,
		"length", msg.Length,
		"total", msg.Total,
		"bytes_written", e.session.BytesWritten)

	if !complete {
		return ActionNone
	}
	if e.session.BytesWritten != int64(msg.Total) {
		slog.Error("ota_byte_count_diverged",
			"session_id", e.session.ID,
			"bytes_written", e.session.BytesWritten,
			"total", msg.Total)
	}
	return e.finish(ctx, msg)
}

func (e *Engine) finish(ctx context.Context, msg Message) Action {
	computed := e.verifier.Sum32()
	if !e.verifier.Matches(e.session.AdvertisedChecksum) {
		err := errors.Newf(errors.ErrIntegrity, "checksum %08x, advertised %08x", computed, e.session.AdvertisedChecksum)
		slog.Error("ota_checksum_mismatch",
			"session_id", e.session.ID,
			"computed", fmt.Sprintf("%08x", computed),
			"advertised", fmt.Sprintf("%08x", e.session.AdvertisedChecksum),
			"bytes_written", e.session.BytesWritten)
		e.softReset(OutcomeIntegrityFailed, err)
		return ActionSoftReset
	}

	slog.Info("ota_checksum_verified",
		"session_id", e.session.ID,
		"checksum", fmt.Sprintf("%08x", computed),
		"bytes_written", e.session.BytesWritten)

	req := CommitRequest{
		SessionID: e.session.ID,
		Partition: e.session.Target,
		Writer:    e.writer,
		Checksum:  computed,
		Bytes:     e.session.BytesWritten,
	}
	if err := e.opts.Committer.Commit(ctx, req); err != nil {
		slog.Error("ota_commit_failed", "session_id", e.session.ID, "partition", req.Partition.Label, "error", err)
		e.softReset(OutcomeStorageFailed, err)
		return ActionSoftReset
	}

	e.writer = nil
	slog.Info("ota_commit_complete", "session_id", e.session.ID, "partition", req.Partition.Label)
	return e.hardReset(OutcomeCommitted, msg, nil)
}

// hardReset reaches the terminal restart action. Nothing is cleaned up: the
// process restart discards all session state.
func (e *Engine) hardReset(outcome Outcome, msg Message, cause error) Action {
	attrs := []any{
		"outcome", outcome,
		"state", e.session.State,
		"session_id", e.session.ID,
		"channel", e.session.Channel,
		"topic", msg.Topic,
		"offset", msg.Offset,
		"length", msg.Length,
		"total", msg.Total,
		"message_id", msg.ID,
		"expected_message_id", e.session.ExpectedMessageID,
	}
	if cause != nil {
		slog.Error("ota_hard_reset", append(attrs, "kind", errors.Kind(cause), "error", cause)...)
	} else {
		slog.Info("ota_hard_reset", attrs...)
	}

	e.finished(outcome, cause)
	e.halted = true
	e.restartReason = string(outcome)
	if cause != nil {
		e.restartReason = fmt.Sprintf("%s: %v", outcome, cause)
	}
	return ActionRestart
}

// softReset returns the session to running without restarting. It reports
// whether a session was in progress.
func (e *Engine) softReset(outcome Outcome, cause error) bool {
	active := e.session.State != StateRunning

	if e.session.Channel != "" {
		if err := e.opts.Transport.Unsubscribe(e.session.Channel); err != nil {
			slog.Warn("ota_unsubscribe_failed", "channel", e.session.Channel, "error", err)
		}
	}
	if e.writer != nil {
		if err := e.writer.Discard(); err != nil {
			slog.Warn("ota_discard_failed", "partition", e.session.Target.Label, "error", err)
		}
		e.writer = nil
	}

	if active {
		slog.Warn("ota_soft_reset",
			"outcome", outcome,
			"state", e.session.State,
			"session_id", e.session.ID,
			"channel", e.session.Channel,
			"bytes_written", e.session.BytesWritten,
			"error", cause)
		e.finished(outcome, cause)
		if err := e.machine.Event(evAbort); err != nil {
			slog.Error("ota_transition_failed", "event", evAbort, "error", err)
		}
	}

	e.session.ID = ""
	e.session.AdvertisedSoftware = ""
	e.session.AdvertisedVersion = ""
	e.session.AdvertisedChecksum = 0
	e.session.RunningChecksum = 0
	e.session.Channel = ""
	e.session.ExpectedMessageID = NoMessageID
	e.session.BytesWritten = 0
	e.session.Target = Partition{}
	e.session.StartedAt = e.opts.Clock()
	e.verifier.Reset()
	e.reasm.Reset()
	e.validator = nil

	return active
}

func (e *Engine) finished(outcome Outcome, cause error) {
	if e.opts.Recorder == nil || e.session.ID == "" {
		return
	}
	if err := e.opts.Recorder.SessionFinished(e.session, outcome, cause); err != nil {
		slog.Warn("ota_record_failed", "session_id", e.session.ID, "outcome", outcome, "error", err)
	}
}

func (e *Engine) started() {
	if e.opts.Recorder == nil {
		return
	}
	if err := e.opts.Recorder.SessionStarted(e.session); err != nil {
		slog.Warn("ota_record_failed", "session_id", e.session.ID, "error", err)
	}
}
