package security

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// MaxTopicLength is the longest update channel name a device will subscribe to.
const MaxTopicLength = 31

// ValidateTopic checks that a topic name is usable as a concrete subscription.
// Wildcards are rejected so an advertisement cannot subscribe the device to
// more than one channel.
func ValidateTopic(topic string) error {
	if topic == "" {
		slog.Error("security_topic_validation_failed", "topic", topic, "reason", "empty")
		return fmt.Errorf("security: empty topic")
	}

	if len(topic) > MaxTopicLength {
		slog.Error("security_topic_validation_failed", "topic", topic, "reason", "too_long", "max", MaxTopicLength)
		return fmt.Errorf("security: topic %q exceeds %d bytes", topic, MaxTopicLength)
	}

	if strings.ContainsAny(topic, "+#") {
		slog.Error("security_topic_validation_failed", "topic", topic, "reason", "wildcard")
		return fmt.Errorf("security: wildcard not allowed in topic %q", topic)
	}

	if strings.ContainsRune(topic, 0) {
		slog.Error("security_topic_validation_failed", "topic", topic, "reason", "nul")
		return fmt.Errorf("security: NUL not allowed in topic %q", topic)
	}

	return nil
}

// Validator bounds firmware image sizes against the capacity of a partition.
type Validator struct {
	maxImageSize int64

	mu      sync.Mutex
	written int64
}

// NewValidator creates a new image validator
func NewValidator(maxImageSize int64) *Validator {
	slog.Info("security_validator_init", "max_image_size_kb", maxImageSize/1024)

	return &Validator{
		maxImageSize: maxImageSize,
	}
}

// ValidateImageSize checks if a whole image fits the target partition
func (v *Validator) ValidateImageSize(size int64) error {
	if size <= 0 {
		slog.Error("security_image_size_invalid", "size", size)
		return fmt.Errorf("security: image size %d must be positive", size)
	}
	if size > v.maxImageSize {
		slog.Error("security_image_size_exceeded",
			"image_size_kb", size/1024,
			"max_image_size_kb", v.maxImageSize/1024)
		return fmt.Errorf("security: image size %d exceeds max %d", size, v.maxImageSize)
	}
	return nil
}

// AddWritten tracks bytes streamed so far and checks them against the limit
func (v *Validator) AddWritten(n int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.written += n

	if v.written > v.maxImageSize {
		slog.Error("security_stream_size_exceeded",
			"written_kb", v.written/1024,
			"max_image_size_kb", v.maxImageSize/1024,
			"chunk_bytes", n)
		return fmt.Errorf("security: streamed size %d exceeds max %d", v.written, v.maxImageSize)
	}

	return nil
}

// Reset resets the streamed size counter
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.written = 0
}

// Written returns the number of bytes streamed since the last Reset
func (v *Validator) Written() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.written
}

// MaxImageSize returns the configured limit
func (v *Validator) MaxImageSize() int64 {
	return v.maxImageSize
}
