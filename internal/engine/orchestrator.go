package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/viralforge/config"
	"github.com/mohammad-safakhou/viralforge/internal/telemetry"
	"github.com/mohammad-safakhou/viralforge/provider"
)

// Orchestrator owns the phase sequence for sessions. It is the sole entry
// point for the external triggers (HTTP handler, sweeper, CLI) and the only
// component that mutates session rows.
type Orchestrator struct {
	store  Store
	exec   *stepExecutor
	cfg    config.EngineConfig
	logger *log.Logger

	// now is swappable so staleness arbitration is testable with a fake clock.
	now func() time.Time
}

// NewOrchestrator wires the orchestrator with its persistence gateway and
// generative provider.
func NewOrchestrator(st Store, prov provider.Provider, routing config.LLMRoutingConfig, cfg config.EngineConfig, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		store: st,
		exec: &stepExecutor{
			provider: prov,
			routing:  routing,
			timeout:  cfg.StepTimeout,
		},
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CreateSession starts a new pipeline run at phase 1, step THINK.
func (o *Orchestrator) CreateSession(ctx context.Context, topic, platform, tone string) (*Session, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if platform == "" {
		platform = "twitter"
	}
	if tone == "" {
		tone = "conversational"
	}
	now := o.now()
	s := &Session{
		ID:           uuid.NewString(),
		Topic:        topic,
		Platform:     platform,
		Tone:         tone,
		Status:       StatusCreated,
		CurrentPhase: 1,
		CurrentStep:  StepThink,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	o.logger.Printf("session %s created (topic=%q platform=%s)", s.ID, s.Topic, s.Platform)
	return s, nil
}

// Session loads a session, mapping sentinel and missing ids to a
// session_not_found error.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*Session, error) {
	if sentinelID(sessionID) {
		return nil, NewError(KindSessionNotFound, "invalid session id %q", sessionID)
	}
	s, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewError(KindSessionNotFound, "session %s does not exist", sessionID)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

// Advance runs the session's current step as one sequential unit of work and
// reports what happened. Terminal sessions are a no-op; a fresh in-progress
// marker means another caller is already driving the step and the result is
// marked busy.
func (o *Orchestrator) Advance(ctx context.Context, sessionID string) (AdvanceResult, error) {
	s, err := o.Session(ctx, sessionID)
	if err != nil {
		return AdvanceResult{}, err
	}

	now := o.now()
	if s.Terminal() {
		return AdvanceResult{
			Status:         s.Status,
			Phase:          s.CurrentPhase,
			Step:           s.CurrentStep,
			PhaseCompleted: s.Status == StatusCompleted,
		}, nil
	}

	if s.InProgress() {
		age := now.Sub(s.UpdatedAt)
		if age < o.cfg.StaleAfter {
			return AdvanceResult{
				Status:   s.Status,
				Phase:    s.CurrentPhase,
				Step:     s.CurrentStep,
				NextStep: s.CurrentStep,
				Busy:     true,
			}, nil
		}
		// abandoned mid-call (crash or timeout); re-run the step from scratch
		o.logger.Printf("session %s stale in %s for %s, resetting to pending", s.ID, s.Status, age.Round(time.Second))
		telemetry.StaleRecovered()
		s.Status = StatusPending
		s.LastError = NewError(KindStaleSession, "step %s abandoned after %s", s.CurrentStep, age.Round(time.Second)).Error()
		s.UpdatedAt = now
		if err := o.store.SaveSession(ctx, s); err != nil {
			return AdvanceResult{}, fmt.Errorf("reset stale session: %w", err)
		}
	}

	phaseSpec, ok := PhaseSpecFor(s.CurrentPhase)
	if !ok {
		return AdvanceResult{}, fmt.Errorf("session %s references unknown phase %d", s.ID, s.CurrentPhase)
	}
	stepSpec, ok := phaseSpec.StepSpecFor(s.CurrentStep)
	if !ok {
		return AdvanceResult{}, fmt.Errorf("session %s references unknown step %q", s.ID, s.CurrentStep)
	}
	step := s.CurrentStep

	current, err := o.store.GetPhase(ctx, s.ID, s.CurrentPhase)
	if errors.Is(err, ErrNotFound) {
		current = &PhaseRecord{
			SessionID: s.ID,
			Phase:     s.CurrentPhase,
			Status:    PhasePending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else if err != nil {
		return AdvanceResult{}, fmt.Errorf("load phase %d: %w", s.CurrentPhase, err)
	}

	if gerr := predecessorGuard(current, step); gerr != nil {
		s.LastError = gerr.Error()
		s.UpdatedAt = now
		if err := o.store.SaveSession(ctx, s); err != nil {
			return AdvanceResult{}, fmt.Errorf("record guard failure: %w", err)
		}
		return AdvanceResult{Status: s.Status, Phase: s.CurrentPhase, Step: step, NextStep: step}, gerr
	}

	prior := make([]*PhaseRecord, 0, s.CurrentPhase-1)
	for i := 1; i < s.CurrentPhase; i++ {
		p, err := o.store.GetPhase(ctx, s.ID, i)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return AdvanceResult{}, fmt.Errorf("load phase %d: %w", i, err)
		}
		prior = append(prior, p)
	}
	stepCtx := BuildContext(s, prior, current)

	// in-progress marker: the cooperative lock against concurrent triggers
	s.Status = inProgressStatus(step)
	s.UpdatedAt = now
	if err := o.store.SaveSession(ctx, s); err != nil {
		return AdvanceResult{}, fmt.Errorf("mark step in progress: %w", err)
	}
	o.logger.Printf("session %s phase %d (%s) running %s", s.ID, s.CurrentPhase, phaseSpec.Name, step)

	outcome, runErr := o.exec.run(ctx, stepSpec, stepCtx)
	now = o.now()
	if runErr != nil {
		return o.recordFailure(ctx, s, phaseSpec, step, runErr, now)
	}

	telemetry.StepExecuted(phaseSpec.Name, step, "success")
	telemetry.StepLatency(phaseSpec.Name, step, outcome.Usage.Latency)
	tokens := outcome.Usage.InputTokens + outcome.Usage.OutputTokens
	telemetry.UsageAdded(tokens, outcome.Usage.Cost)

	RecordStepResult(current, step, outcome.Prompt, outcome.Raw, outcome.Fields, tokens, outcome.Usage.Cost, now)
	s.TotalTokens += tokens
	s.TotalCost += outcome.Usage.Cost
	s.MalformedStreak = 0
	s.LastError = ""

	res := AdvanceResult{Phase: s.CurrentPhase, Step: step, Result: outcome.Fields}
	if step == StepIntegrate {
		current.Status = PhaseCompleted
		res.PhaseCompleted = true
		if s.CurrentPhase < PhaseCount() {
			s.CurrentPhase++
			s.CurrentStep = StepThink
			s.Status = StatusPending
			res.NextStep = StepThink
		} else {
			s.Status = StatusCompleted
		}
	} else {
		s.CurrentStep = nextStep(step)
		s.Status = StatusPending
		res.NextStep = s.CurrentStep
	}
	s.UpdatedAt = now

	// phase before session so the pointers never advance past an unsaved result
	if err := o.store.SavePhase(ctx, current); err != nil {
		return AdvanceResult{}, fmt.Errorf("save phase %d: %w", current.Phase, err)
	}
	if err := o.store.SaveSession(ctx, s); err != nil {
		return AdvanceResult{}, fmt.Errorf("save session: %w", err)
	}

	res.Status = s.Status
	o.logger.Printf("session %s phase %d %s done (tokens=%d cost=%.4f status=%s)", s.ID, res.Phase, step, tokens, outcome.Usage.Cost, s.Status)
	return res, nil
}

// recordFailure applies the error-taxonomy policy for one failed step and
// persists the session's new state.
func (o *Orchestrator) recordFailure(ctx context.Context, s *Session, phaseSpec PhaseSpec, step string, runErr error, now time.Time) (AdvanceResult, error) {
	kind := KindOf(runErr)
	telemetry.StepExecuted(phaseSpec.Name, step, kind)

	s.LastError = runErr.Error()
	s.UpdatedAt = now
	switch kind {
	case KindUnresolvedPlaceholder:
		// template bug; the operator fixes it and retries, the session survives
		s.Status = StatusPending
	case KindServiceUnavailable:
		// leave the in-progress marker; staleness recovery retries the step
	case KindMalformedResult:
		s.MalformedStreak++
		if s.MalformedStreak >= o.cfg.MaxMalformedRetries {
			s.Status = StatusFailed
		} else {
			s.Status = StatusPending
		}
	default:
		s.Status = StatusPending
	}
	if err := o.store.SaveSession(ctx, s); err != nil {
		return AdvanceResult{}, fmt.Errorf("record step failure: %w", err)
	}

	o.logger.Printf("session %s phase %d %s failed (%s): %v", s.ID, s.CurrentPhase, step, kind, runErr)
	res := AdvanceResult{Status: s.Status, Phase: s.CurrentPhase, Step: step}
	if !s.Terminal() {
		res.NextStep = s.CurrentStep
	}
	return res, runErr
}

func predecessorGuard(p *PhaseRecord, step string) *Error {
	switch step {
	case StepExecute:
		if p.Think == nil {
			return NewError(KindMalformedResult, "execute invoked with no stored think result for phase %d", p.Phase)
		}
	case StepIntegrate:
		if p.Execute == nil {
			return NewError(KindMalformedResult, "integrate invoked with no stored execute result for phase %d", p.Phase)
		}
	}
	return nil
}

// sentinelID rejects ids an upstream bug can pass through literally.
func sentinelID(id string) bool {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "", "undefined", "null":
		return true
	}
	return false
}
