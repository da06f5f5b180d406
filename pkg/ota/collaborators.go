package ota

import (
	"context"
	"io"
)

// Partition is a fixed storage region holding one firmware image.
type Partition struct {
	Label string
	Index int
	Size  int64
}

// Storage exposes the A/B partition table of the device.
type Storage interface {
	// Running is the partition the current process booted from.
	Running() Partition
	// Boot is the partition selected for the next boot.
	Boot() Partition
	// Next returns the inactive partition an update may be written to.
	Next() (Partition, error)
	// Begin opens an append-only write session of unknown length.
	Begin(p Partition) (Writer, error)
	// SetBoot selects p for the next boot.
	SetBoot(p Partition) error
}

// Writer is an open write session on an inactive partition.
type Writer interface {
	io.Writer
	// Finalize flushes and validates the written image.
	Finalize() error
	// Discard releases the session without marking anything bootable.
	Discard() error
}

// Transport is the publish/subscribe client shared by the engine and the
// version reporter.
type Transport interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
}

// Connectivity reports whether the transport is currently connected.
type Connectivity interface {
	Connected() bool
}

// Restarter performs a full device restart. In production it never returns.
type Restarter interface {
	Restart(reason string)
}

// CommitRequest asks a Committer to finalize a verified image and select it
// for the next boot.
type CommitRequest struct {
	SessionID string
	Partition Partition
	Writer    Writer
	Checksum  uint32
	Bytes     int64
}

// Committer finalizes a verified image and marks it bootable.
type Committer interface {
	Commit(ctx context.Context, req CommitRequest) error
}

// Recorder receives session lifecycle events, typically for a persistent
// update journal.
type Recorder interface {
	SessionStarted(s Session) error
	SessionFinished(s Session, outcome Outcome, cause error) error
}
