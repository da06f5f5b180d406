package ota

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/goccy/go-json"
	"github.com/matt-g-everett/logger/pkg/errors"
)

// DefaultReportInterval is how often the running identity is published.
const DefaultReportInterval = 10 * time.Second

// Report is the identity payload published on the report topic.
type Report struct {
	IP      string `json:"ip"`
	Type    string `json:"type"`
	Version string `json:"version"`
}

// StateSource exposes the session state.
type StateSource interface {
	State() State
}

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	Topic    string
	Software string
	Version  string
	Interval time.Duration
	// Address defaults to the first non-loopback IPv4 address.
	Address func() string
}

// Reporter periodically publishes the running software identity. Reports are
// skipped while disconnected and while an update is in progress.
type Reporter struct {
	opts      ReporterOptions
	transport Transport
	conn      Connectivity
	state     StateSource
}

// NewReporter creates a version reporter.
func NewReporter(opts ReporterOptions, transport Transport, conn Connectivity, state StateSource) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReportInterval
	}
	if opts.Address == nil {
		opts.Address = LocalAddress
	}
	return &Reporter{opts: opts, transport: transport, conn: conn, state: state}
}

// Run publishes a report every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReportOnce(); err != nil {
				slog.Warn("version_report_failed", "topic", r.opts.Topic, "error", err)
			}
		}
	}
}

// ReportOnce publishes a single report. It returns false when the report was
// skipped.
func (r *Reporter) ReportOnce() (bool, error) {
	if state := r.state.State(); state != StateRunning {
		slog.Debug("version_report_skipped", "reason", "update_in_progress", "state", state)
		return false, nil
	}
	if !r.conn.Connected() {
		slog.Debug("version_report_skipped", "reason", "disconnected")
		return false, nil
	}

	payload, err := json.Marshal(Report{
		IP:      r.opts.Address(),
		Type:    r.opts.Software,
		Version: r.opts.Version,
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to encode report")
	}

	if err := r.transport.Publish(r.opts.Topic, payload); err != nil {
		return false, errors.Wrap(err, "failed to publish report")
	}

	slog.Debug("version_reported", "topic", r.opts.Topic, "payload", string(payload))
	return true, nil
}

// LocalAddress returns the first non-loopback IPv4 address of the host, or
// 0.0.0.0 when there is none.
func LocalAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "0.0.0.0"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "0.0.0.0"
}
