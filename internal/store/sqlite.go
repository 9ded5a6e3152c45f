package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

var (
	_ SessionStore = (*SQLiteStore)(nil)
	_ PersonaStore = (*SQLiteStore)(nil)
)

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS personas (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        specialty TEXT NOT NULL DEFAULT '',
        tone TEXT NOT NULL DEFAULT '',
        typical_questions_json TEXT NOT NULL,
        questions_json TEXT NOT NULL DEFAULT '[]'
    );

    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        persona_id TEXT NOT NULL,
        persona_name TEXT NOT NULL,
        mode TEXT NOT NULL CHECK (mode IN ('chat', 'scripted')),
        status TEXT NOT NULL CHECK (status IN ('active', 'completed')),
        questions_json TEXT NOT NULL DEFAULT '[]',
        turns_json TEXT NOT NULL DEFAULT '[]',
        version INTEGER NOT NULL DEFAULT 1,
        created_at DATETIME NOT NULL,
        completed_at DATETIME
    );

    CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON sessions (user_id, created_at DESC);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Persona methods
func (s *SQLiteStore) UpsertPersona(ctx context.Context, p *Persona) error {
	typicalJSON, err := json.Marshal(p.TypicalQuestions)
	if err != nil {
		return fmt.Errorf("failed to marshal typical questions: %w", err)
	}
	questions := p.Questions
	if questions == nil {
		questions = []Question{}
	}
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO personas (id, name, title, specialty, tone, typical_questions_json, questions_json)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            title = excluded.title,
            specialty = excluded.specialty,
            tone = excluded.tone,
            typical_questions_json = excluded.typical_questions_json,
            questions_json = excluded.questions_json`,
		p.ID, p.Name, p.Title, p.Specialty, p.CommunicationStyle.Tone, string(typicalJSON), string(questionsJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert persona: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPersona(ctx context.Context, personaID string) (*Persona, error) {
	var p Persona
	var typicalJSON, questionsJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, title, specialty, tone, typical_questions_json, questions_json FROM personas WHERE id = ?",
		personaID,
	).Scan(&p.ID, &p.Name, &p.Title, &p.Specialty, &p.CommunicationStyle.Tone, &typicalJSON, &questionsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query persona: %w", err)
	}
	if err := json.Unmarshal([]byte(typicalJSON), &p.TypicalQuestions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal typical questions for persona %s: %w", personaID, err)
	}
	if err := json.Unmarshal([]byte(questionsJSON), &p.Questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions for persona %s: %w", personaID, err)
	}
	if len(p.Questions) == 0 {
		p.Questions = nil
	}
	return &p, nil
}

// Session methods
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	questionsJSON, turnsJSON, err := marshalSessionBody(session)
	if err != nil {
		return err
	}

	stmt, err := s.db.PrepareContext(ctx, `
        INSERT INTO sessions (id, user_id, persona_id, persona_name, mode, status, questions_json, turns_json, version, created_at, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare session insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		session.ID, session.UserID, session.PersonaID, session.PersonaName,
		string(session.Mode), string(session.Status), questionsJSON, turnsJSON,
		session.CreatedAt.UTC(), nullTime(session.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to execute session insert: %w", err)
	}
	session.Version = 1
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, sessionColumns+" FROM sessions WHERE id = ?", sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *Session) error {
	questionsJSON, turnsJSON, err := marshalSessionBody(session)
	if err != nil {
		return err
	}

	stmt, err := s.db.PrepareContext(ctx, `
        UPDATE sessions
        SET status = ?, questions_json = ?, turns_json = ?, completed_at = ?, version = version + 1
        WHERE id = ? AND version = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare session update: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx,
		string(session.Status), questionsJSON, turnsJSON, nullTime(session.CompletedAt),
		session.ID, session.Version)
	if err != nil {
		return fmt.Errorf("failed to execute session update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", session.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		return ErrVersionConflict
	}
	session.Version++
	return nil
}

func (s *SQLiteStore) ListSessionsByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionColumns+" FROM sessions WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

const sessionColumns = "SELECT id, user_id, persona_id, persona_name, mode, status, questions_json, turns_json, version, created_at, completed_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var mode, status, questionsJSON, turnsJSON string
	var completedAt sql.NullTime
	if err := row.Scan(&session.ID, &session.UserID, &session.PersonaID, &session.PersonaName,
		&mode, &status, &questionsJSON, &turnsJSON, &session.Version, &session.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	session.Mode = Mode(mode)
	session.Status = Status(status)
	if completedAt.Valid {
		at := completedAt.Time
		session.CompletedAt = &at
	}
	if err := json.Unmarshal([]byte(questionsJSON), &session.Questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions for session %s: %w", session.ID, err)
	}
	if len(session.Questions) == 0 {
		session.Questions = nil
	}
	if err := json.Unmarshal([]byte(turnsJSON), &session.Turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns for session %s: %w", session.ID, err)
	}
	if session.Turns == nil {
		session.Turns = []Turn{}
	}
	return &session, nil
}

func marshalSessionBody(session *Session) (string, string, error) {
	questions := session.Questions
	if questions == nil {
		questions = []Question{}
	}
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal questions: %w", err)
	}
	turns := session.Turns
	if turns == nil {
		turns = []Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal turns: %w", err)
	}
	return string(questionsJSON), string(turnsJSON), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
