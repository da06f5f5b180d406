package ota

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticState State

func (s staticState) State() State { return State(s) }

type connFlag bool

func (c connFlag) Connected() bool { return bool(c) }

func newTestReporter(tr Transport, conn Connectivity, state StateSource) *Reporter {
	return NewReporter(ReporterOptions{
		Topic:    "home/ota/report",
		Software: "logger",
		Version:  "1.2.3-rc7",
		Address:  func() string { return "192.168.1.20" },
	}, tr, conn, state)
}

func TestReporterPublishesIdentity(t *testing.T) {
	tr := newFakeTransport()
	r := newTestReporter(tr, connFlag(true), staticState(StateRunning))

	published, err := r.ReportOnce()
	require.NoError(t, err)
	assert.True(t, published)

	require.Len(t, tr.published["home/ota/report"], 1)
	assert.JSONEq(t, `{"ip":"192.168.1.20","type":"logger","version":"1.2.3-rc7"}`,
		string(tr.published["home/ota/report"][0]))

	var report Report
	require.NoError(t, json.Unmarshal(tr.published["home/ota/report"][0], &report))
	assert.Equal(t, "logger", report.Type)
}

func TestReporterSkips(t *testing.T) {
	tests := []struct {
		name  string
		conn  connFlag
		state State
	}{
		{"disconnected", false, StateRunning},
		{"awaiting download", true, StateAwaitingDownload},
		{"downloading", true, StateDownloading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			r := newTestReporter(tr, tt.conn, staticState(tt.state))

			published, err := r.ReportOnce()
			require.NoError(t, err)
			assert.False(t, published)
			assert.Empty(t, tr.published)
		})
	}
}

func TestLocalAddress(t *testing.T) {
	assert.NotEmpty(t, LocalAddress())
}
