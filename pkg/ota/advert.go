package ota

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/security"
)

// SentinelChecksum is the all-ones checksum. Advertisements carrying it turn
// on debug logging of the message metadata and nothing else.
const SentinelChecksum uint32 = 0xffffffff

// Advertisement announces a pending firmware transfer.
type Advertisement struct {
	SoftwareType string
	Version      string
	Channel      string
	Checksum     uint32
}

// ParseAdvertisement decodes "<software_type> <version> <channel> <checksum_hex>".
// Fields are separated by any run of whitespace and anything after the
// fourth field is ignored.
func ParseAdvertisement(payload []byte) (Advertisement, error) {
	fields := strings.Fields(strings.TrimRight(string(payload), "\x00"))
	if len(fields) < 4 {
		return Advertisement{}, errors.Newf(errors.ErrDecode, "advertisement has %d fields, want 4", len(fields))
	}
	if len(fields) > 4 {
		slog.Debug("ota_advertisement_extra_fields", "ignored", fields[4:])
	}

	raw := strings.TrimPrefix(strings.TrimPrefix(fields[3], "0x"), "0X")
	checksum, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return Advertisement{}, errors.Newf(errors.ErrDecode, "invalid checksum %q", fields[3])
	}

	if err := security.ValidateTopic(fields[2]); err != nil {
		return Advertisement{}, errors.Mark(errors.ErrDecode, err, "invalid channel %q", fields[2])
	}

	return Advertisement{
		SoftwareType: fields[0],
		Version:      fields[1],
		Channel:      fields[2],
		Checksum:     uint32(checksum),
	}, nil
}

// Encode renders the advertisement in its wire format.
func (a Advertisement) Encode() []byte {
	return []byte(a.String())
}

func (a Advertisement) String() string {
	return fmt.Sprintf("%s %s %s %08x", a.SoftwareType, a.Version, a.Channel, a.Checksum)
}
