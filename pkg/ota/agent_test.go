package ota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentRestartsAfterCommit(t *testing.T) {
	h := newHarness(t)
	restarter := &fakeRestarter{}
	agent := NewAgent(h.engine, restarter, time.Hour)

	errCh := make(chan error, 1)
	go func() { errCh <- agent.Run(context.Background()) }()

	require.True(t, agent.Deliver(advertise("chA", 0)))
	require.True(t, agent.Deliver(chunk("chA", 1, 0, scenarioPayload, 4)))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrRestarted)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop after restart action")
	}

	assert.Equal(t, 1, restarter.count())
	assert.False(t, agent.Deliver(advertise("chB", 0)))
}

func TestAgentTimesOutStalledSession(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Timeout = 50 * time.Millisecond
		o.Clock = time.Now
	})
	agent := NewAgent(h.engine, &fakeRestarter{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- agent.Run(ctx) }()

	require.True(t, agent.Deliver(advertise("chA", 0)))
	require.Eventually(t, func() bool {
		return h.engine.State() == StateAwaitingDownload
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.engine.State() == StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	h.transport.mu.Lock()
	assert.Equal(t, []string{"chA"}, h.transport.unsubscribed)
	h.transport.mu.Unlock()

	cancel()
	assert.NoError(t, <-errCh)
}
