// Package store persists chat sessions, messages, and leads in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned for sessions that do not exist or have expired.
var ErrNotFound = errors.New("store: session not found")

type ChatSession struct {
	ID                 string
	CohortKey          string
	FullName           string
	Email              string
	CurrentDesignation string
	PhoneNumber        string
	CountryCode        string
	ExpiresAt          time.Time
	CreatedAt          time.Time
}

type ChatMessage struct {
	ID           int64
	SessionID    string
	Question     string
	Answer       string
	MessageOrder int
	CreatedAt    time.Time
}

type Lead struct {
	CohortKey          string
	FullName           string
	Email              string
	PhoneNumber        string
	CountryCode        string
	CurrentDesignation string
	Source             string
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// CreateSessionWithLead inserts the session and its lead in one transaction.
// A lead is recorded even though it never blocks the chat flow later.
func (s *Store) CreateSessionWithLead(ctx context.Context, sess ChatSession, lead Lead) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO leads (cohort_key, full_name, email, phone_number, country_code, current_designation, source)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))`,
		lead.CohortKey, lead.FullName, lead.Email, lead.PhoneNumber, lead.CountryCode, lead.CurrentDesignation, lead.Source)
	if err != nil {
		return fmt.Errorf("store: insert lead: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_sessions (id, cohort_key, full_name, email, current_designation, phone_number, country_code, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		sess.ID, sess.CohortKey, sess.FullName, sess.Email, sess.CurrentDesignation, sess.PhoneNumber, sess.CountryCode, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// GetSession returns the session if it exists and has not expired.
func (s *Store) GetSession(ctx context.Context, id string) (ChatSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, cohort_key, full_name, email, current_designation, phone_number,
		       COALESCE(country_code, ''), expires_at, created_at
		FROM chat_sessions
		WHERE id = $1 AND expires_at > now()`, id)

	var sess ChatSession
	err := row.Scan(&sess.ID, &sess.CohortKey, &sess.FullName, &sess.Email,
		&sess.CurrentDesignation, &sess.PhoneNumber, &sess.CountryCode,
		&sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChatSession{}, ErrNotFound
	}
	if err != nil {
		return ChatSession{}, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// ListMessages returns the session's messages ordered by message_order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, question, answer, message_order, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY message_order`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Question, &m.Answer, &m.MessageOrder, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return out, nil
}

// InsertMessage persists one exchange and returns the stored row.
func (s *Store) InsertMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (session_id, question, answer, message_order)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		msg.SessionID, msg.Question, msg.Answer, msg.MessageOrder)
	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return ChatMessage{}, fmt.Errorf("store: insert message: %w", err)
	}
	return msg, nil
}
