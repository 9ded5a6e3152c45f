package store

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryStore is an in-process SessionStore and PersonaStore. Every read and
// write goes through a deep copy so callers never share turn slices.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	personas map[string]*Persona
}

var (
	_ SessionStore = (*MemoryStore)(nil)
	_ PersonaStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		personas: make(map[string]*Persona),
	}
}

func (s *MemoryStore) PutPersona(p *Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	cp.TypicalQuestions = append([]string(nil), p.TypicalQuestions...)
	cp.Questions = append([]Question(nil), p.Questions...)
	s.personas[p.ID] = &cp
}

func (s *MemoryStore) GetPersona(_ context.Context, personaID string) (*Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.personas[personaID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return errors.New("session already exists")
	}

	session.Version = 1
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.sessions[session.ID]
	if !exists {
		return ErrNotFound
	}
	if current.Version != session.Version {
		return ErrVersionConflict
	}

	session.Version++
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) ListSessionsByUser(_ context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			result = append(result, sess.Clone())
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
