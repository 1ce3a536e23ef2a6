package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mohammad-safakhou/viralforge/config"
	"github.com/mohammad-safakhou/viralforge/provider"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	sessions     map[string]*Session
	phases       map[string]*PhaseRecord
	sessionSaves int
	phaseSaves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*Session),
		phases:   make(map[string]*PhaseRecord),
	}
}

func phaseKey(sessionID string, phase int) string {
	return fmt.Sprintf("%s/%d", sessionID, phase)
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) SaveSession(_ context.Context, s *Session) error {
	cp := *s
	f.sessions[s.ID] = &cp
	f.sessionSaves++
	return nil
}

func (f *fakeStore) GetPhase(_ context.Context, sessionID string, phase int) (*PhaseRecord, error) {
	p, ok := f.phases[phaseKey(sessionID, phase)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) SavePhase(_ context.Context, p *PhaseRecord) error {
	cp := *p
	f.phases[phaseKey(p.SessionID, p.Phase)] = &cp
	f.phaseSaves++
	return nil
}

type stubProvider struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (p *stubProvider) Generate(_ context.Context, prompt string, _ string, _ provider.Options) (string, provider.Usage, error) {
	p.calls++
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", provider.Usage{}, p.err
	}
	idx := p.calls - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx], provider.Usage{InputTokens: 100, OutputTokens: 50, Cost: 0.01, Latency: 20 * time.Millisecond}, nil
}

func (p *stubProvider) CalculateCost(_, _ int64, _ string) float64 { return 0 }

func (p *stubProvider) AvailableModels() []string { return nil }

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		StaleAfter:          5 * time.Minute,
		MaxMalformedRetries: 3,
	}
}

func newTestOrchestrator(st Store, p provider.Provider, cfg config.EngineConfig) *Orchestrator {
	o := NewOrchestrator(st, p, config.LLMRoutingConfig{Fallback: "default"}, cfg, log.New(io.Discard, "", 0))
	o.now = func() time.Time { return testNow }
	return o
}

func seedSession(st *fakeStore, status string, phase int, step string) *Session {
	s := &Session{
		ID:           "sess-1",
		Topic:        "urban beekeeping",
		Platform:     "twitter",
		Tone:         "witty",
		Status:       status,
		CurrentPhase: phase,
		CurrentStep:  step,
		CreatedAt:    testNow.Add(-time.Hour),
		UpdatedAt:    testNow.Add(-time.Minute),
	}
	st.sessions[s.ID] = s
	return s
}

func seedPhase(st *fakeStore, sessionID string, phase int, think, execute *StepRecord) {
	st.phases[phaseKey(sessionID, phase)] = &PhaseRecord{
		SessionID: sessionID,
		Phase:     phase,
		Status:    PhasePending,
		Think:     think,
		Execute:   execute,
	}
}

func stepRecord(result map[string]interface{}) *StepRecord {
	return &StepRecord{
		Prompt:      "prompt",
		RawResponse: "raw",
		Result:      result,
		Tokens:      10,
		CompletedAt: testNow.Add(-time.Minute),
	}
}

func TestAdvanceRejectsSentinelIDs(t *testing.T) {
	st := newFakeStore()
	o := newTestOrchestrator(st, &stubProvider{}, testEngineConfig())

	for _, id := range []string{"", "undefined", "null", "  NULL "} {
		_, err := o.Advance(context.Background(), id)
		if KindOf(err) != KindSessionNotFound {
			t.Fatalf("id %q: expected session_not_found, got %v", id, err)
		}
	}
	if st.sessionSaves != 0 {
		t.Fatalf("expected no writes, got %d", st.sessionSaves)
	}
}

func TestAdvanceUnknownSession(t *testing.T) {
	o := newTestOrchestrator(newFakeStore(), &stubProvider{}, testEngineConfig())
	_, err := o.Advance(context.Background(), "no-such-session")
	if KindOf(err) != KindSessionNotFound {
		t.Fatalf("expected session_not_found, got %v", err)
	}
}

func TestAdvanceTerminalNoOp(t *testing.T) {
	st := newFakeStore()
	seedSession(st, StatusCompleted, 5, StepIntegrate)
	p := &stubProvider{}
	o := newTestOrchestrator(st, p, testEngineConfig())

	res, err := o.Advance(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusCompleted || !res.PhaseCompleted || res.NextStep != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if p.calls != 0 || st.sessionSaves != 0 {
		t.Fatalf("terminal advance must not call the service or write (calls=%d saves=%d)", p.calls, st.sessionSaves)
	}
}

func TestAdvanceBusyOnFreshInProgress(t *testing.T) {
	st := newFakeStore()
	s := seedSession(st, StatusExecuting, 2, StepExecute)
	s.UpdatedAt = testNow.Add(-30 * time.Second)
	p := &stubProvider{}
	o := newTestOrchestrator(st, p, testEngineConfig())

	res, err := o.Advance(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Busy || res.NextStep != StepExecute {
		t.Fatalf("expected busy result, got %+v", res)
	}
	if p.calls != 0 || st.sessionSaves != 0 {
		t.Fatalf("busy advance must not call the service or write (calls=%d saves=%d)", p.calls, st.sessionSaves)
	}
}

func TestStaleSessionIsResetAndRerun(t *testing.T) {
	st := newFakeStore()
	s := seedSession(st, StatusExecuting, 1, StepExecute)
	s.UpdatedAt = testNow.Add(-10 * time.Minute)
	seedPhase(st, s.ID, 1, stepRecord(map[string]interface{}{"plan": "dig into the topic"}), nil)

	p := &stubProvider{responses: []string{`{"output": "fresh analysis"}`}}
	o := newTestOrchestrator(st, p, testEngineConfig())

	res, err := o.Advance(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("stale step must be fully re-run, got %d calls", p.calls)
	}
	if res.Step != StepExecute || res.NextStep != StepIntegrate || res.Status != StatusPending {
		t.Fatalf("unexpected result: %+v", res)
	}

	saved := st.phases[phaseKey(s.ID, 1)]
	if saved.Execute == nil || saved.Execute.Result["output"] != "fresh analysis" {
		t.Fatalf("execute result not stored: %+v", saved.Execute)
	}
	if saved.Execute.Prompt == "" {
		t.Fatal("expected a freshly rendered prompt")
	}
}

func TestEndToEndPhaseCompletion(t *testing.T) {
	st := newFakeStore()
	p := &stubProvider{responses: []string{
		`{"plan": "map the audience"}`,
		`{"output": "three strong hooks found"}`,
		`{"summary": "lean on the rooftop-hive angle"}`,
	}}
	o := newTestOrchestrator(st, p, testEngineConfig())

	s, err := o.CreateSession(context.Background(), "urban beekeeping", "twitter", "witty")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var last AdvanceResult
	prevPhase, prevStep := 1, 0
	for i := 0; i < 3; i++ {
		last, err = o.Advance(context.Background(), s.ID)
		if err != nil {
			t.Fatalf("advance %d: %v", i+1, err)
		}
		if last.Phase < prevPhase || (last.Phase == prevPhase && StepIndex(last.Step) < prevStep) {
			t.Fatalf("progression went backwards at advance %d: %+v", i+1, last)
		}
		prevPhase, prevStep = last.Phase, StepIndex(last.Step)
	}

	if !last.PhaseCompleted {
		t.Fatalf("expected phase completion, got %+v", last)
	}
	final := st.sessions[s.ID]
	if final.CurrentPhase != 2 || final.CurrentStep != StepThink || final.Status != StatusPending {
		t.Fatalf("unexpected session state: %+v", final)
	}
	rec := st.phases[phaseKey(s.ID, 1)]
	if rec.Think == nil || rec.Execute == nil || rec.Integrate == nil {
		t.Fatalf("expected all three step records, got %+v", rec)
	}
	if rec.Status != PhaseCompleted {
		t.Fatalf("expected completed phase record, got %s", rec.Status)
	}
	if final.TotalTokens != 450 {
		t.Fatalf("expected accumulated tokens 450, got %d", final.TotalTokens)
	}
}

func TestIntegrateWithoutExecuteFails(t *testing.T) {
	st := newFakeStore()
	seedSession(st, StatusPending, 1, StepIntegrate)
	seedPhase(st, "sess-1", 1, stepRecord(map[string]interface{}{"plan": "a plan"}), nil)
	p := &stubProvider{responses: []string{`{"summary": "should never be asked"}`}}
	o := newTestOrchestrator(st, p, testEngineConfig())

	_, err := o.Advance(context.Background(), "sess-1")
	if KindOf(err) != KindMalformedResult {
		t.Fatalf("expected malformed_result, got %v", err)
	}
	if p.calls != 0 {
		t.Fatal("service must not be called when the predecessor result is missing")
	}
	if st.sessions["sess-1"].Status == StatusFailed {
		t.Fatal("guard failure must not fail the session")
	}
}

func TestServiceUnavailableLeavesInProgress(t *testing.T) {
	st := newFakeStore()
	seedSession(st, StatusPending, 1, StepThink)
	p := &stubProvider{err: fmt.Errorf("connect: connection refused")}
	o := newTestOrchestrator(st, p, testEngineConfig())

	_, err := o.Advance(context.Background(), "sess-1")
	if KindOf(err) != KindServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %v", err)
	}
	saved := st.sessions["sess-1"]
	if saved.Status != StatusThinking {
		t.Fatalf("expected in-progress status for staleness retry, got %s", saved.Status)
	}
	if saved.LastError == "" {
		t.Fatal("expected lastError to be recorded")
	}
}

func TestMalformedStreakFailsSession(t *testing.T) {
	st := newFakeStore()
	seedSession(st, StatusPending, 1, StepThink)
	p := &stubProvider{responses: []string{"I refuse to answer in JSON."}}
	cfg := testEngineConfig()
	cfg.MaxMalformedRetries = 2
	o := newTestOrchestrator(st, p, cfg)

	_, err := o.Advance(context.Background(), "sess-1")
	if KindOf(err) != KindMalformedResult {
		t.Fatalf("expected malformed_result, got %v", err)
	}
	if st.sessions["sess-1"].Status != StatusPending {
		t.Fatalf("first malformed result must keep the session retryable, got %s", st.sessions["sess-1"].Status)
	}

	_, err = o.Advance(context.Background(), "sess-1")
	if KindOf(err) != KindMalformedResult {
		t.Fatalf("expected malformed_result, got %v", err)
	}
	if st.sessions["sess-1"].Status != StatusFailed {
		t.Fatalf("expected failed after %d consecutive malformed results, got %s", cfg.MaxMalformedRetries, st.sessions["sess-1"].Status)
	}
}

func TestMalformedStreakResetsOnSuccess(t *testing.T) {
	st := newFakeStore()
	s := seedSession(st, StatusPending, 1, StepThink)
	s.MalformedStreak = 2
	p := &stubProvider{responses: []string{`{"plan": "recovered"}`}}
	o := newTestOrchestrator(st, p, testEngineConfig())

	if _, err := o.Advance(context.Background(), s.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.sessions[s.ID].MalformedStreak != 0 {
		t.Fatalf("expected streak reset, got %d", st.sessions[s.ID].MalformedStreak)
	}
}

func TestUnresolvedPlaceholderKeepsSessionAlive(t *testing.T) {
	st := newFakeStore()
	// phase 2 THINK needs {summary} from phase 1's INTEGRATE, which is missing
	seedSession(st, StatusPending, 2, StepThink)
	p := &stubProvider{}
	o := newTestOrchestrator(st, p, testEngineConfig())

	_, err := o.Advance(context.Background(), "sess-1")
	if KindOf(err) != KindUnresolvedPlaceholder {
		t.Fatalf("expected unresolved_placeholder, got %v", err)
	}
	if p.calls != 0 {
		t.Fatal("service must not be called when the prompt cannot be rendered")
	}
	saved := st.sessions["sess-1"]
	if saved.Status != StatusPending {
		t.Fatalf("template bugs must not fail the session, got %s", saved.Status)
	}
}

func TestIntegrateRepairsBarewordResponse(t *testing.T) {
	st := newFakeStore()
	seedSession(st, StatusPending, 1, StepIntegrate)
	seedPhase(st, "sess-1", 1,
		stepRecord(map[string]interface{}{"plan": "a plan"}),
		stepRecord(map[string]interface{}{"output": "an analysis"}))
	p := &stubProvider{responses: []string{`{"summary": 東京都}`}}
	o := newTestOrchestrator(st, p, testEngineConfig())

	res, err := o.Advance(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Result["summary"] != "東京都" {
		t.Fatalf("expected repaired summary, got %v", res.Result["summary"])
	}
	if !res.PhaseCompleted || res.NextStep != StepThink {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFinalPhaseCompletesSession(t *testing.T) {
	st := newFakeStore()
	seedSession(st, StatusPending, 5, StepIntegrate)
	seedPhase(st, "sess-1", 5,
		stepRecord(map[string]interface{}{"plan": "final checks"}),
		stepRecord(map[string]interface{}{"output": "polished post body"}))
	p := &stubProvider{responses: []string{`{"summary": "run recap", "post_text": "the final post"}`}}
	o := newTestOrchestrator(st, p, testEngineConfig())

	res, err := o.Advance(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PhaseCompleted || res.NextStep != "" || res.Status != StatusCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if st.sessions["sess-1"].Status != StatusCompleted {
		t.Fatalf("expected completed session, got %s", st.sessions["sess-1"].Status)
	}
}

func TestFinalIntegrateRequiresPostText(t *testing.T) {
	st := newFakeStore()
	seedSession(st, StatusPending, 5, StepIntegrate)
	seedPhase(st, "sess-1", 5,
		stepRecord(map[string]interface{}{"plan": "final checks"}),
		stepRecord(map[string]interface{}{"output": "polished post body"}))
	p := &stubProvider{responses: []string{`{"summary": "recap only"}`}}
	o := newTestOrchestrator(st, p, testEngineConfig())

	_, err := o.Advance(context.Background(), "sess-1")
	if KindOf(err) != KindMalformedResult {
		t.Fatalf("expected malformed_result for missing post_text, got %v", err)
	}
}
