package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
)

// SessionStore persists sessions. UpdateSession is a conditional write: it
// succeeds only while the stored version still equals session.Version, and
// bumps the version on success.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	ListSessionsByUser(ctx context.Context, userID string) ([]*Session, error)
}

type PersonaStore interface {
	GetPersona(ctx context.Context, personaID string) (*Persona, error)
}
