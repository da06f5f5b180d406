// Package ota implements the over-the-air firmware update engine: a session
// state machine that turns a stream of transport messages into a verified,
// atomically committed firmware image swap.
package ota

import "time"

// State is the phase of the update session.
type State string

// Session states
const (
	StateRunning          State = "running"
	StateAwaitingDownload State = "awaiting_download"
	StateDownloading      State = "downloading"
)

// NoMessageID marks an unbound transfer.
const NoMessageID int64 = -1

// Message is one delivery from the transport. Continuation fragments of a
// logical message carry an empty topic and the originating message id.
type Message struct {
	Topic   string
	Payload []byte
	Offset  int
	Length  int
	Total   int
	ID      int64
}

// Session is a copy of the update session record.
type Session struct {
	ID                 string
	State              State
	Software           string
	RunningVersion     string
	AdvertisedSoftware string
	AdvertisedVersion  string
	AdvertisedChecksum uint32
	RunningChecksum    uint32
	Channel            string
	ExpectedMessageID  int64
	BytesWritten       int64
	StartedAt          time.Time
	Target             Partition
}

// Action is what the caller of the engine must do after an event.
type Action int

// Actions
const (
	ActionNone Action = iota
	ActionSoftReset
	// ActionRestart is terminal: the device must restart and the engine
	// ignores every later event.
	ActionRestart
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSoftReset:
		return "soft_reset"
	case ActionRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Outcome is how an update session ended.
type Outcome string

// Session outcomes
const (
	OutcomeCommitted         Outcome = "committed"
	OutcomeAborted           Outcome = "aborted"
	OutcomeTimedOut          Outcome = "timed_out"
	OutcomeIntegrityFailed   Outcome = "integrity_failed"
	OutcomeProtocolViolation Outcome = "protocol_violation"
	OutcomeStorageFailed     Outcome = "storage_failed"
)
