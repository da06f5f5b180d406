package ota

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"
)

// ErrRestarted is returned by Agent.Run after the restart action has been
// handed to the Restarter.
var ErrRestarted = stderrors.New("device restart requested")

// DefaultCheckInterval is the period of the timeout monitor.
const DefaultCheckInterval = 10 * time.Second

// Agent confines the engine to a single goroutine. Transport callbacks hand
// messages over with Deliver and a ticker drives the timeout monitor.
type Agent struct {
	engine    *Engine
	restarter Restarter
	interval  time.Duration

	inbox chan Message
	done  chan struct{}
}

// NewAgent wires an engine to its restarter.
func NewAgent(engine *Engine, restarter Restarter, checkInterval time.Duration) *Agent {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Agent{
		engine:    engine,
		restarter: restarter,
		interval:  checkInterval,
		inbox:     make(chan Message, 16),
		done:      make(chan struct{}),
	}
}

// Deliver queues a message for the engine. It blocks while the queue is full
// and returns false once the agent has stopped.
func (a *Agent) Deliver(msg Message) bool {
	select {
	case <-a.done:
		return false
	default:
	}

	select {
	case a.inbox <- msg:
		return true
	case <-a.done:
		slog.Warn("ota_agent_stopped_dropping_message", "topic", msg.Topic, "message_id", msg.ID)
		return false
	}
}

// Run processes messages and ticks until ctx is cancelled or the engine
// reaches the restart action.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	slog.Info("ota_agent_started", "check_interval", a.interval)

	for {
		var action Action
		select {
		case <-ctx.Done():
			slog.Info("ota_agent_stopped")
			return nil
		case msg := <-a.inbox:
			action = a.engine.Handle(ctx, msg)
		case now := <-ticker.C:
			action = a.engine.Tick(now)
		}

		if action == ActionRestart {
			_, reason := a.engine.Halted()
			slog.Warn("ota_agent_restarting", "reason", reason)
			a.restarter.Restart(reason)
			return ErrRestarted
		}
	}
}
