package engine

import (
	"context"
	"time"
)

// Session lifecycle statuses. The three in-progress statuses double as the
// cooperative lock: a second caller seeing one of them with a fresh
// timestamp treats the session as busy.
const (
	StatusCreated     = "created"
	StatusPending     = "pending"
	StatusThinking    = "thinking"
	StatusExecuting   = "executing"
	StatusIntegrating = "integrating"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Step names within a phase, in execution order.
const (
	StepThink     = "think"
	StepExecute   = "execute"
	StepIntegrate = "integrate"
)

var stepOrder = []string{StepThink, StepExecute, StepIntegrate}

// StepIndex returns the position of a step within a phase, or -1.
func StepIndex(step string) int {
	for i, s := range stepOrder {
		if s == step {
			return i
		}
	}
	return -1
}

func inProgressStatus(step string) string {
	switch step {
	case StepThink:
		return StatusThinking
	case StepExecute:
		return StatusExecuting
	case StepIntegrate:
		return StatusIntegrating
	}
	return StatusPending
}

func nextStep(step string) string {
	switch step {
	case StepThink:
		return StepExecute
	case StepExecute:
		return StepIntegrate
	}
	return ""
}

// Session is one end-to-end pipeline run. Topic, Platform and Tone are
// immutable inputs; everything else is mutated only by the orchestrator.
type Session struct {
	ID              string    `json:"id"`
	Topic           string    `json:"topic"`
	Platform        string    `json:"platform"`
	Tone            string    `json:"tone"`
	Status          string    `json:"status"`
	CurrentPhase    int       `json:"current_phase"`
	CurrentStep     string    `json:"current_step"`
	TotalTokens     int64     `json:"total_tokens"`
	TotalCost       float64   `json:"total_cost"`
	MalformedStreak int       `json:"malformed_streak"`
	LastError       string    `json:"last_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Terminal reports whether the session accepts no further step execution.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// InProgress reports whether a step is (or appears to be) underway.
func (s *Session) InProgress() bool {
	switch s.Status {
	case StatusThinking, StatusExecuting, StatusIntegrating:
		return true
	}
	return false
}

// StepRecord captures everything persisted about one executed step: the
// prompt actually sent, the raw service response, the repaired result, and
// usage. Kept for auditability; later phases read only Result.
type StepRecord struct {
	Prompt      string                 `json:"prompt"`
	RawResponse string                 `json:"raw_response"`
	Result      map[string]interface{} `json:"result"`
	Tokens      int64                  `json:"tokens"`
	Cost        float64                `json:"cost"`
	CompletedAt time.Time              `json:"completed_at"`
}

// Phase record statuses.
const (
	PhasePending   = "pending"
	PhaseCompleted = "completed"
)

// PhaseRecord holds the three step records for one (session, phase) pair.
// Created lazily on first entry into the phase.
type PhaseRecord struct {
	SessionID string      `json:"session_id"`
	Phase     int         `json:"phase"`
	Status    string      `json:"status"`
	Think     *StepRecord `json:"think"`
	Execute   *StepRecord `json:"execute"`
	Integrate *StepRecord `json:"integrate"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StepRecordFor returns the record slot for a step name, or nil.
func (p *PhaseRecord) StepRecordFor(step string) *StepRecord {
	switch step {
	case StepThink:
		return p.Think
	case StepExecute:
		return p.Execute
	case StepIntegrate:
		return p.Integrate
	}
	return nil
}

// StepResult is the tagged union of per-step parsed results. Required-field
// validation happens once, at the step-executor boundary.
type StepResult interface {
	Step() string
	Fields() map[string]interface{}
}

// ThinkResult is a validated THINK step result.
type ThinkResult struct {
	Plan string
	Raw  map[string]interface{}
}

func (ThinkResult) Step() string { return StepThink }

func (r ThinkResult) Fields() map[string]interface{} { return r.Raw }

// ExecuteResult is a validated EXECUTE step result.
type ExecuteResult struct {
	Output string
	Raw    map[string]interface{}
}

func (ExecuteResult) Step() string { return StepExecute }

func (r ExecuteResult) Fields() map[string]interface{} { return r.Raw }

// IntegrateResult is a validated INTEGRATE step result. PostText is only
// populated when the phase requires it.
type IntegrateResult struct {
	Summary  string
	PostText string
	Raw      map[string]interface{}
}

func (IntegrateResult) Step() string { return StepIntegrate }

func (r IntegrateResult) Fields() map[string]interface{} { return r.Raw }

// AdvanceResult is what one Advance call reports back to the trigger.
type AdvanceResult struct {
	Status         string
	Phase          int
	Step           string
	PhaseCompleted bool
	NextStep       string
	Busy           bool
	Result         map[string]interface{}
}

// Store is the persistence gateway the orchestrator depends on. All
// operations are single-row atomic; lookups return ErrNotFound when the
// row does not exist.
type Store interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error
	GetPhase(ctx context.Context, sessionID string, phase int) (*PhaseRecord, error)
	SavePhase(ctx context.Context, p *PhaseRecord) error
}
