package ota

import (
	"github.com/matt-g-everett/logger/pkg/errors"
)

// Reassembler binds continuation chunks to the transfer that started them and
// detects completion.
type Reassembler struct {
	expectedID int64
	total      int
	written    int64
	active     bool
}

// NewReassembler returns an idle reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{expectedID: NoMessageID}
}

// Start binds a transfer to its first chunk, which must sit at offset 0.
func (r *Reassembler) Start(first Message) error {
	if first.Offset != 0 {
		return errors.Newf(errors.ErrProtocol, "first chunk at offset %d", first.Offset)
	}
	if err := checkBounds(first); err != nil {
		return err
	}

	r.expectedID = first.ID
	r.total = first.Total
	r.written = 0
	r.active = true
	return nil
}

// Continue checks that msg is the next fragment of the bound transfer.
func (r *Reassembler) Continue(msg Message) error {
	if !r.active {
		return errors.Newf(errors.ErrProtocol, "no transfer in progress")
	}
	if msg.Topic != "" {
		return errors.Newf(errors.ErrProtocol, "continuation on topic %q", msg.Topic)
	}
	if msg.ID != r.expectedID {
		return errors.Newf(errors.ErrProtocol, "message id %d, want %d", msg.ID, r.expectedID)
	}
	if int64(msg.Offset) != r.written {
		return errors.Newf(errors.ErrProtocol, "offset %d, want %d", msg.Offset, r.written)
	}
	if msg.Total != r.total {
		return errors.Newf(errors.ErrProtocol, "total %d changed from %d", msg.Total, r.total)
	}
	return checkBounds(msg)
}

// Advance accounts for a chunk that has been written and reports whether it
// completes the transfer.
func (r *Reassembler) Advance(msg Message) bool {
	r.written += int64(len(msg.Payload))
	return msg.Offset+msg.Length == msg.Total
}

// Written is the number of bytes accounted for so far.
func (r *Reassembler) Written() int64 {
	return r.written
}

// ExpectedID is the message id continuation chunks must carry.
func (r *Reassembler) ExpectedID() int64 {
	return r.expectedID
}

// Reset unbinds the transfer.
func (r *Reassembler) Reset() {
	r.expectedID = NoMessageID
	r.total = 0
	r.written = 0
	r.active = false
}

func checkBounds(msg Message) error {
	if msg.Length != len(msg.Payload) {
		return errors.Newf(errors.ErrProtocol, "length %d but payload has %d bytes", msg.Length, len(msg.Payload))
	}
	if msg.Total <= 0 || msg.Offset+msg.Length > msg.Total {
		return errors.Newf(errors.ErrProtocol, "chunk %d+%d outside total %d", msg.Offset, msg.Length, msg.Total)
	}
	return nil
}
