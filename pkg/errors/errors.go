// Package errors provides error wrapping utilities and the failure kinds
// used by the update engine to pick a recovery policy.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Failure kinds. Each maps to one recovery policy in the update engine.
var (
	// ErrProtocol is a sequencing violation (wrong topic, offset or message id).
	ErrProtocol = stderrors.New("protocol violation")
	// ErrIntegrity is a checksum mismatch at the end of a transfer.
	ErrIntegrity = stderrors.New("integrity failure")
	// ErrStorage is a flash write, finalize or boot selection failure.
	ErrStorage = stderrors.New("storage failure")
	// ErrDecode is a malformed control payload.
	ErrDecode = stderrors.New("decode error")
	// ErrTimeout is a stalled transfer.
	ErrTimeout = stderrors.New("timeout")
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf is Wrap with a formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// Mark returns an error of the given kind that keeps err in its chain, so
// both the kind and the cause match with Is.
func Mark(kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), kind, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Kind returns the failure kind carried by err, or nil if it has none.
func Kind(err error) error {
	for _, kind := range []error{ErrProtocol, ErrIntegrity, ErrStorage, ErrDecode, ErrTimeout} {
		if stderrors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
