package journal

import (
	"fmt"

	"github.com/matt-g-everett/logger/pkg/ota"
)

// Recorder journals engine session events.
type Recorder struct {
	Repo *Repository
}

// SessionStarted implements ota.Recorder.
func (r Recorder) SessionStarted(s ota.Session) error {
	return r.Repo.Begin(&Entry{
		SessionID: s.ID,
		Software:  s.AdvertisedSoftware,
		Version:   s.AdvertisedVersion,
		Channel:   s.Channel,
		Checksum:  fmt.Sprintf("%08x", s.AdvertisedChecksum),
	})
}

// SessionFinished implements ota.Recorder.
func (r Recorder) SessionFinished(s ota.Session, outcome ota.Outcome, cause error) error {
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	return r.Repo.Finish(s.ID, string(outcome), s.Target.Label, s.BytesWritten, msg)
}
