// Package store is the only component touching durable storage. All reads
// and writes are single-row atomic; the engine does not need cross-row
// transactions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/viralforge/internal/engine"
)

// Store is the postgres persistence gateway.
type Store struct {
	DB *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// NewWithDSN opens and pings a postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// SaveSession upserts the full session row.
func (s *Store) SaveSession(ctx context.Context, sess *engine.Session) error {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO sessions (id, topic, platform, tone, status, current_phase, current_step,
                              total_tokens, total_cost, malformed_streak, last_error, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            current_phase = EXCLUDED.current_phase,
            current_step = EXCLUDED.current_step,
            total_tokens = EXCLUDED.total_tokens,
            total_cost = EXCLUDED.total_cost,
            malformed_streak = EXCLUDED.malformed_streak,
            last_error = EXCLUDED.last_error,
            updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.Topic, sess.Platform, sess.Tone, sess.Status, sess.CurrentPhase, sess.CurrentStep,
		sess.TotalTokens, sess.TotalCost, sess.MalformedStreak, nullableString(sess.LastError),
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession loads one session, returning engine.ErrNotFound when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*engine.Session, error) {
	var sess engine.Session
	var lastError sql.NullString
	err := s.DB.QueryRowContext(ctx, `
        SELECT id, topic, platform, tone, status, current_phase, current_step,
               total_tokens, total_cost, malformed_streak, last_error, created_at, updated_at
        FROM sessions WHERE id = $1`, id).Scan(
		&sess.ID, &sess.Topic, &sess.Platform, &sess.Tone, &sess.Status, &sess.CurrentPhase, &sess.CurrentStep,
		&sess.TotalTokens, &sess.TotalCost, &sess.MalformedStreak, &lastError, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.LastError = lastError.String
	return &sess, nil
}

// SavePhase upserts the full phase row. Step records are stored as JSONB so
// the per-step prompt/raw/result/usage shape stays stable for tooling.
func (s *Store) SavePhase(ctx context.Context, p *engine.PhaseRecord) error {
	think, err := marshalStep(p.Think)
	if err != nil {
		return err
	}
	execute, err := marshalStep(p.Execute)
	if err != nil {
		return err
	}
	integrate, err := marshalStep(p.Integrate)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
        INSERT INTO session_phases (session_id, phase, status, think, execute, integrate, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (session_id, phase) DO UPDATE SET
            status = EXCLUDED.status,
            think = EXCLUDED.think,
            execute = EXCLUDED.execute,
            integrate = EXCLUDED.integrate,
            updated_at = EXCLUDED.updated_at`,
		p.SessionID, p.Phase, p.Status, think, execute, integrate, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save phase %d for session %s: %w", p.Phase, p.SessionID, err)
	}
	return nil
}

// GetPhase loads one phase record, returning engine.ErrNotFound when absent.
func (s *Store) GetPhase(ctx context.Context, sessionID string, phase int) (*engine.PhaseRecord, error) {
	var p engine.PhaseRecord
	var think, execute, integrate []byte
	err := s.DB.QueryRowContext(ctx, `
        SELECT session_id, phase, status, think, execute, integrate, created_at, updated_at
        FROM session_phases WHERE session_id = $1 AND phase = $2`, sessionID, phase).Scan(
		&p.SessionID, &p.Phase, &p.Status, &think, &execute, &integrate, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("phase %d for session %s: %w", phase, sessionID, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get phase %d for session %s: %w", phase, sessionID, err)
	}
	if p.Think, err = unmarshalStep(think); err != nil {
		return nil, err
	}
	if p.Execute, err = unmarshalStep(execute); err != nil {
		return nil, err
	}
	if p.Integrate, err = unmarshalStep(integrate); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPhases returns all phase records for a session in phase order.
func (s *Store) ListPhases(ctx context.Context, sessionID string) ([]*engine.PhaseRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
        SELECT session_id, phase, status, think, execute, integrate, created_at, updated_at
        FROM session_phases WHERE session_id = $1 ORDER BY phase`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list phases for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*engine.PhaseRecord
	for rows.Next() {
		var p engine.PhaseRecord
		var think, execute, integrate []byte
		if err := rows.Scan(&p.SessionID, &p.Phase, &p.Status, &think, &execute, &integrate, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan phase row: %w", err)
		}
		if p.Think, err = unmarshalStep(think); err != nil {
			return nil, err
		}
		if p.Execute, err = unmarshalStep(execute); err != nil {
			return nil, err
		}
		if p.Integrate, err = unmarshalStep(integrate); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListResumable returns ids of sessions the sweeper should drive: everything
// waiting at pending/created, plus in-progress sessions whose last update
// predates the staleness cutoff.
func (s *Store) ListResumable(ctx context.Context, staleBefore time.Time) ([]string, error) {
	waiting := []string{engine.StatusCreated, engine.StatusPending}
	inProgress := []string{engine.StatusThinking, engine.StatusExecuting, engine.StatusIntegrating}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT id FROM sessions
        WHERE status = ANY($1)
           OR (status = ANY($2) AND updated_at < $3)
        ORDER BY updated_at`, pq.Array(waiting), pq.Array(inProgress), staleBefore)
	if err != nil {
		return nil, fmt.Errorf("list resumable sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateUser inserts a user and returns its id.
func (s *Store) CreateUser(ctx context.Context, id, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO users (id, email, password_hash, created_at)
        VALUES ($1,$2,$3,NOW())`, id, email, passwordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user's id and password hash.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx, `
        SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("user %s: %w", email, engine.ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("get user %s: %w", email, err)
	}
	return id, hash, nil
}

func marshalStep(rec *engine.StepRecord) (interface{}, error) {
	if rec == nil {
		return nil, nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal step record: %w", err)
	}
	return b, nil
}

func unmarshalStep(b []byte) (*engine.StepRecord, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var rec engine.StepRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal step record: %w", err)
	}
	return &rec, nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
