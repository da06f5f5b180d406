package mqtt

import (
	"context"
	"log/slog"
	"time"

	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/ota"
	"github.com/matt-g-everett/logger/pkg/security"
)

// DefaultSettle gives devices time to subscribe to the update channel after
// an advertisement.
const DefaultSettle = 2 * time.Second

// Publisher releases firmware images to devices.
type Publisher struct {
	transport      ota.Transport
	advertiseTopic string
	settle         time.Duration
}

// NewPublisher creates a publisher advertising on advertiseTopic.
func NewPublisher(transport ota.Transport, advertiseTopic string, settle time.Duration) *Publisher {
	return &Publisher{transport: transport, advertiseTopic: advertiseTopic, settle: settle}
}

// Advertise announces a pending transfer.
func (p *Publisher) Advertise(adv ota.Advertisement) error {
	if err := security.ValidateTopic(adv.Channel); err != nil {
		return err
	}
	slog.Info("publisher_advertise", "topic", p.advertiseTopic, "advertisement", adv.String())
	return p.transport.Publish(p.advertiseTopic, adv.Encode())
}

// PublishImage sends the whole image as one message on channel.
func (p *Publisher) PublishImage(channel string, image []byte) error {
	slog.Info("publisher_image", "channel", channel, "bytes", len(image))
	return p.transport.Publish(channel, image)
}

// Release advertises the image, waits for devices to subscribe, then sends it.
func (p *Publisher) Release(ctx context.Context, adv ota.Advertisement, image []byte) error {
	if err := p.Advertise(adv); err != nil {
		return errors.Wrap(err, "advertise failed")
	}

	if p.settle > 0 {
		t := time.NewTimer(p.settle)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if err := p.PublishImage(adv.Channel, image); err != nil {
		return errors.Wrap(err, "image publish failed")
	}
	return nil
}
