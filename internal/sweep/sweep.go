// Package sweep enforces the acknowledgment SLA. A background loop finds
// sessions whose deadline elapsed and pushes a synthetic deadline-expired
// event through the normal transition path, so abandonment shows up in the
// interaction log like any other transition.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderflow.app/engine/common/logger"
	"orderflow.app/engine/internal/dispatch"
	"orderflow.app/engine/internal/flow"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/rules"
	"orderflow.app/engine/internal/store"
)

type Config struct {
	Interval  time.Duration
	BatchSize int32
	DomainKey string
}

type Sweeper struct {
	sessions store.SessionStore
	resolver rules.Resolver
	machine  *flow.Machine
	emitter  dispatch.ActionEmitter
	cfg      Config

	now func() time.Time

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(sessions store.SessionStore, resolver rules.Resolver, machine *flow.Machine, emitter dispatch.ActionEmitter, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		sessions:  sessions,
		resolver:  resolver,
		machine:   machine,
		emitter:   emitter,
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the sweep loop. Blocks until Stop() is called.
func (s *Sweeper) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "engine.sweep",
	})

	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "sweeper started", "interval", s.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "sweeper stopping")
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "sweep cycle error", "error", err)
			}
		}
	}
}

// Stop signals the sweeper to stop gracefully.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

// SweepOnce runs a single sweep cycle. Exported for tests and ops tooling.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.now()

	expired, err := s.sessions.ListExpiredAck(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("listing expired sessions: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "found sessions past acknowledgment deadline", "count", len(expired))

	ruleset, err := s.resolver.Resolve(ctx, s.cfg.DomainKey)
	if err != nil {
		return fmt.Errorf("resolving ruleset: %w", err)
	}

	for i := range expired {
		if err := s.abandon(ctx, &expired[i], ruleset); err != nil {
			slog.ErrorContext(ctx, "failed to abandon session",
				"session_id", expired[i].SessionID,
				"error", err)
			// Continue with other sessions
		}
	}

	return nil
}

// abandon pushes the synthetic event through the same conditional write as
// customer messages. Losing the version race means a real event got there
// first and rearmed or cleared the deadline; the next cycle re-checks.
func (s *Sweeper) abandon(ctx context.Context, state *model.SessionState, ruleset *model.RuleSet) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: &state.SessionID,
	})

	event := s.machine.ExpiredEvent(state, s.now())
	transition, err := s.machine.Step(state, ruleset, event)
	if err != nil {
		return fmt.Errorf("building abandonment transition: %w", err)
	}
	if !transition.Applied || transition.Record.StageAfter != model.StageAbandoned {
		// Acknowledged or already terminal; nothing to enforce.
		return nil
	}

	if err := s.sessions.AppendAndSave(ctx, state.Version, transition.State, transition.Record); err != nil {
		if errors.Is(err, store.ErrConflict) {
			slog.InfoContext(ctx, "session advanced concurrently, skipping abandonment")
			return nil
		}
		return fmt.Errorf("persisting abandonment: %w", err)
	}

	slog.WarnContext(ctx, "session abandoned after missed acknowledgment deadline",
		"stage_before", string(transition.Record.StageBefore),
		"deadline", state.LastAckDeadline)

	s.emitter.Emit(ctx, transition.Actions)
	return nil
}
