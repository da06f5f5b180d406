// Package version reads, compares and bumps the semantic version of the
// running software image.
package version

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/matt-g-everett/logger/pkg/errors"
)

// ReadFile returns the first line of a version file, trimmed.
func ReadFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to read version file")
	}

	line, _, _ := strings.Cut(string(raw), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("version file %s is empty", path)
	}
	return line, nil
}

// IsNewer reports whether candidate is a higher semantic version than current.
func IsNewer(candidate, current string) (bool, error) {
	c, err := semver.NewVersion(candidate)
	if err != nil {
		return false, errors.Wrapf(err, "invalid candidate version %q", candidate)
	}
	r, err := semver.NewVersion(current)
	if err != nil {
		return false, errors.Wrapf(err, "invalid current version %q", current)
	}
	return r.LessThan(*c), nil
}

// BumpPrerelease increments the numeric counter of a prerelease tag while
// keeping its zero padding: 1.2.3-rc07 becomes 1.2.3-rc08. Anything after the
// counter, including build metadata, is dropped.
func BumpPrerelease(v string) (string, error) {
	parsed, err := semver.NewVersion(strings.TrimSpace(v))
	if err != nil {
		return "", errors.Wrapf(err, "invalid version %q", v)
	}

	pre := string(parsed.PreRelease)
	prefixEnd := strings.IndexAny(pre, "0123456789")
	if prefixEnd <= 0 {
		return "", fmt.Errorf("version %q has no prerelease counter", v)
	}

	digitsEnd := prefixEnd
	for digitsEnd < len(pre) && pre[digitsEnd] >= '0' && pre[digitsEnd] <= '9' {
		digitsEnd++
	}

	prefix := pre[:prefixEnd]
	digits := pre[prefixEnd:digitsEnd]

	var n int
	if _, err := fmt.Sscanf(digits, "%d", &n); err != nil {
		return "", errors.Wrapf(err, "invalid prerelease counter %q", digits)
	}

	bumped := fmt.Sprintf("%d.%d.%d-%s%0*d",
		parsed.Major, parsed.Minor, parsed.Patch, prefix, len(digits), n+1)

	slog.Debug("version_bumped", "from", v, "to", bumped)
	return bumped, nil
}

// BumpFile rewrites a version file with its prerelease counter incremented.
// Versions without a prerelease counter are left untouched.
func BumpFile(path string) (string, bool, error) {
	current, err := ReadFile(path)
	if err != nil {
		return "", false, err
	}

	next, err := BumpPrerelease(current)
	if err != nil {
		slog.Info("version_bump_skipped", "path", path, "version", current, "reason", err.Error())
		return current, false, nil
	}

	if err := os.WriteFile(path, []byte(next), 0644); err != nil {
		return "", false, errors.Wrap(err, "failed to write version file")
	}

	slog.Info("version_file_bumped", "path", path, "from", current, "to", next)
	return next, true, nil
}
