package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/viralforge/internal/engine"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestSaveSessionUpserts(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("sess-1", "topic", "twitter", "witty", engine.StatusPending, 1, engine.StepThink,
			int64(0), 0.0, 0, nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.SaveSession(context.Background(), &engine.Session{
		ID: "sess-1", Topic: "topic", Platform: "twitter", Tone: "witty",
		Status: engine.StatusPending, CurrentPhase: 1, CurrentStep: engine.StepThink,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM sessions").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := st.GetSession(context.Background(), "missing")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSessionScansRow(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "topic", "platform", "tone", "status", "current_phase", "current_step",
		"total_tokens", "total_cost", "malformed_streak", "last_error", "created_at", "updated_at",
	}).AddRow("sess-1", "topic", "twitter", "witty", engine.StatusExecuting, 2, engine.StepExecute,
		int64(450), 0.03, 1, "service_unavailable: timeout", now, now)
	mock.ExpectQuery("SELECT (.+) FROM sessions").WithArgs("sess-1").WillReturnRows(rows)

	s, err := st.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Status != engine.StatusExecuting || s.CurrentPhase != 2 || s.TotalTokens != 450 {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.LastError != "service_unavailable: timeout" {
		t.Fatalf("unexpected last error: %q", s.LastError)
	}
}

func TestPhaseRoundTrip(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	think := &engine.StepRecord{
		Prompt:      "rendered prompt",
		RawResponse: `{"plan": "a plan"}`,
		Result:      map[string]interface{}{"plan": "a plan"},
		Tokens:      150,
		Cost:        0.01,
		CompletedAt: now,
	}
	thinkJSON, _ := json.Marshal(think)

	mock.ExpectExec("INSERT INTO session_phases").
		WithArgs("sess-1", 1, engine.PhasePending, thinkJSON, nil, nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.SavePhase(context.Background(), &engine.PhaseRecord{
		SessionID: "sess-1", Phase: 1, Status: engine.PhasePending,
		Think: think, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("save phase: %v", err)
	}

	rows := sqlmock.NewRows([]string{
		"session_id", "phase", "status", "think", "execute", "integrate", "created_at", "updated_at",
	}).AddRow("sess-1", 1, engine.PhasePending, thinkJSON, nil, nil, now, now)
	mock.ExpectQuery("SELECT (.+) FROM session_phases").WithArgs("sess-1", 1).WillReturnRows(rows)

	p, err := st.GetPhase(context.Background(), "sess-1", 1)
	if err != nil {
		t.Fatalf("get phase: %v", err)
	}
	if p.Think == nil || p.Think.Result["plan"] != "a plan" || p.Think.Tokens != 150 {
		t.Fatalf("unexpected think record: %+v", p.Think)
	}
	if p.Execute != nil || p.Integrate != nil {
		t.Fatal("expected nil records for unexecuted steps")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetPhaseNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM session_phases").
		WithArgs("sess-1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))

	_, err := st.GetPhase(context.Background(), "sess-1", 3)
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListResumable(t *testing.T) {
	st, mock := newMockStore(t)
	cutoff := time.Now().Add(-5 * time.Minute)

	rows := sqlmock.NewRows([]string{"id"}).AddRow("sess-1").AddRow("sess-2")
	mock.ExpectQuery("SELECT id FROM sessions").WillReturnRows(rows)

	ids, err := st.ListResumable(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("list resumable: %v", err)
	}
	if len(ids) != 2 || ids[0] != "sess-1" || ids[1] != "sess-2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}
