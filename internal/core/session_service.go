package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/observability"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/store"
)

const compareConcurrency = 4

// errSkipWrite lets a mutation report that the session needs no write.
var errSkipWrite = errors.New("skip write")

type ServiceOptions struct {
	Composer   *PromptComposer
	Sampling   SamplingConfig
	RetryLimit int
	Now        func() time.Time
	NewID      func() string
}

// SessionService drives sessions: it owns the per-session serialization,
// the generation round trip and the read-side projections.
type SessionService struct {
	sessions   store.SessionStore
	personas   store.PersonaStore
	gateway    Gateway
	composer   *PromptComposer
	sampling   SamplingConfig
	retryLimit int
	locks      *sessionLocks
	now        func() time.Time
	newID      func() string
}

func NewSessionService(sessions store.SessionStore, personas store.PersonaStore, gateway Gateway, opts ServiceOptions) *SessionService {
	svc := &SessionService{
		sessions:   sessions,
		personas:   personas,
		gateway:    gateway,
		composer:   opts.Composer,
		sampling:   opts.Sampling,
		retryLimit: opts.RetryLimit,
		locks:      newSessionLocks(),
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if svc.composer == nil {
		svc.composer = NewPromptComposer(DefaultCallerLabel)
	}
	if svc.sampling.MaxTokens <= 0 {
		svc.sampling = SamplingConfig{MaxTokens: 200, Temperature: 0.8}
	}
	if svc.retryLimit < 1 {
		svc.retryLimit = 3
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.newID == nil {
		svc.newID = uuid.NewString
	}
	return svc
}

type StartSessionInput struct {
	UserID    string
	PersonaID string
	Mode      store.Mode
	Questions []store.Question
}

type StartSessionOutput struct {
	Session        *store.Session
	OpeningMessage string
}

func (s *SessionService) StartSession(ctx context.Context, in StartSessionInput) (*StartSessionOutput, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("user id is required: %w", ErrInvalidArgument)
	}
	if in.Mode == "" {
		in.Mode = store.ModeChat
	}

	log := observability.LoggerFromContext(ctx).With(
		"user_id", in.UserID,
		"persona_id", in.PersonaID,
		"mode", in.Mode,
	)

	persona, err := s.personas.GetPersona(ctx, in.PersonaID)
	if err != nil {
		return nil, storageError("load persona "+in.PersonaID, err)
	}

	session, err := NewSession(s.newID(), in.UserID, persona, in.Mode, in.Questions, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		log.Error("failed to create session", "error", err)
		return nil, storageError("create session", err)
	}

	log.Info("session started", "session_id", session.ID)

	out := &StartSessionOutput{Session: session}
	if session.Mode == store.ModeChat {
		out.OpeningMessage = session.Turns[0].Text
	}
	return out, nil
}

type PostMessageInput struct {
	SessionID string
	UserID    string
	Text      string
}

type PostMessageOutput struct {
	SessionID          string
	UserTurn           store.Turn
	Reply              store.Turn
	ConversationLength int
	Resumed            bool
}

// PostMessage appends the caller's message, asks the gateway for the
// persona's reply and appends it. The user turn is stored before generation;
// if generation fails it stays as a dangling turn that a retry with the same
// text (or Respond) picks up instead of duplicating.
func (s *SessionService) PostMessage(ctx context.Context, in PostMessageInput) (*PostMessageOutput, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("message is empty: %w", ErrInvalidArgument)
	}

	var out *PostMessageOutput
	err := s.withSessionLock(ctx, in.SessionID, func() error {
		persona, err := s.chatPersona(ctx, in.SessionID, in.UserID)
		if err != nil {
			return err
		}

		var userTurn store.Turn
		resumed := false
		session, err := s.mutateLocked(ctx, in.SessionID, in.UserID, "append user turn", func(sess *store.Session) error {
			if err := ensureActive(sess); err != nil {
				return err
			}
			if d := DanglingUserTurn(sess); d != nil && d.Text == in.Text {
				userTurn = *d
				resumed = true
				return errSkipWrite
			}
			t, err := AppendUserTurn(sess, in.Text, s.now())
			if err != nil {
				return err
			}
			userTurn = *t
			return nil
		})
		if err != nil {
			return err
		}

		out, err = s.generateReply(ctx, persona, session, userTurn)
		if err != nil {
			return err
		}
		out.Resumed = resumed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Respond generates the missing reply for a dangling user turn.
func (s *SessionService) Respond(ctx context.Context, sessionID, userID string) (*PostMessageOutput, error) {
	var out *PostMessageOutput
	err := s.withSessionLock(ctx, sessionID, func() error {
		persona, err := s.chatPersona(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		session, err := s.loadOwned(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if err := ensureActive(session); err != nil {
			return err
		}
		dangling := DanglingUserTurn(session)
		if dangling == nil {
			return fmt.Errorf("session %s has no message awaiting a reply: %w", sessionID, ErrInvalidState)
		}

		out, err = s.generateReply(ctx, persona, session, *dangling)
		if err != nil {
			return err
		}
		out.Resumed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// generateReply runs the generation call for userTurn and appends the reply.
// Callers hold the session lock.
func (s *SessionService) generateReply(ctx context.Context, persona *store.Persona, session *store.Session, userTurn store.Turn) (*PostMessageOutput, error) {
	log := observability.LoggerFromContext(ctx).With(
		"session_id", session.ID,
		"user_id", session.UserID,
		"turn_index", userTurn.Index,
	)

	prompt := s.composer.Compose(persona, session.Turns)
	start := s.now()
	replyText, err := s.gateway.Generate(ctx, prompt.System, prompt.User, s.sampling)
	if err != nil {
		log.Error("generation failed, user turn left awaiting reply", "error", err)
		if !errors.Is(err, ErrGenerationUnavailable) {
			err = fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
		}
		return nil, err
	}
	log.Info("generation completed", "duration_ms", s.now().Sub(start).Milliseconds())

	var reply store.Turn
	updated, err := s.mutateLocked(ctx, session.ID, session.UserID, "append assistant turn", func(sess *store.Session) error {
		d := DanglingUserTurn(sess)
		if d == nil || d.Index != userTurn.Index {
			return fmt.Errorf("session %s changed while generating: %w", sess.ID, ErrInvalidState)
		}
		t, err := AppendAssistantTurn(sess, replyText, s.now())
		if err != nil {
			return err
		}
		reply = *t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &PostMessageOutput{
		SessionID:          updated.ID,
		UserTurn:           userTurn,
		Reply:              reply,
		ConversationLength: len(updated.Turns),
	}, nil
}

// chatPersona checks the session is an owned chat session and loads its persona.
func (s *SessionService) chatPersona(ctx context.Context, sessionID, userID string) (*store.Persona, error) {
	session, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.Mode != store.ModeChat {
		return nil, fmt.Errorf("session %s is %s, messages need a chat session: %w", sessionID, session.Mode, ErrInvalidArgument)
	}
	persona, err := s.personas.GetPersona(ctx, session.PersonaID)
	if err != nil {
		return nil, storageError("load persona "+session.PersonaID, err)
	}
	return persona, nil
}

type RecordAnswerInput struct {
	SessionID     string
	UserID        string
	QuestionIndex int
	Answer        Answer
}

func (s *SessionService) RecordAnswer(ctx context.Context, in RecordAnswerInput) (*store.Turn, error) {
	var turn store.Turn
	_, err := s.mutate(ctx, in.SessionID, in.UserID, "record answer", func(sess *store.Session) error {
		t, err := RecordAnswer(sess, in.QuestionIndex, in.Answer, s.now())
		if err != nil {
			return err
		}
		turn = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

type RecordAnalysisInput struct {
	SessionID string
	UserID    string
	// Index is the question index for scripted sessions and the turn index for chat sessions.
	Index     int
	Recording Recording
}

func (s *SessionService) RecordAnalysis(ctx context.Context, in RecordAnalysisInput) (*store.Turn, error) {
	var turn store.Turn
	_, err := s.mutate(ctx, in.SessionID, in.UserID, "record analysis", func(sess *store.Session) error {
		t, err := RecordAnalysis(sess, in.Index, in.Recording, s.now())
		if err != nil {
			return err
		}
		turn = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

type CompleteSessionOutput struct {
	Session          *store.Session
	TotalTurns       int
	AlreadyCompleted bool
}

// CompleteSession is idempotent: completing a completed session returns its
// current state without error.
func (s *SessionService) CompleteSession(ctx context.Context, sessionID, userID string) (*CompleteSessionOutput, error) {
	already := false
	session, err := s.mutate(ctx, sessionID, userID, "complete session", func(sess *store.Session) error {
		if !Complete(sess, s.now()) {
			already = true
			return errSkipWrite
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !already {
		observability.LoggerFromContext(ctx).Info("session completed",
			"session_id", sessionID, "total_turns", len(session.Turns))
	}
	return &CompleteSessionOutput{
		Session:          session,
		TotalTurns:       len(session.Turns),
		AlreadyCompleted: already,
	}, nil
}

func (s *SessionService) GetSession(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	return s.loadOwned(ctx, sessionID, userID)
}

func (s *SessionService) GetConversationHistory(ctx context.Context, sessionID, userID string) (*SessionSnapshot, error) {
	session, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return Snapshot(session), nil
}

func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	sessions, err := s.sessions.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, storageError("list sessions", err)
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, Summarize(sess))
	}
	return out, nil
}

func (s *SessionService) GetUserTrend(ctx context.Context, userID string) (*PracticeHistory, error) {
	sessions, err := s.sessions.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, storageError("list sessions", err)
	}
	return Aggregate(sessions), nil
}

// CompareSessions resolves every id independently. Ids that do not exist or
// belong to another user are skipped; the call only fails on bad input or a
// storage fault.
func (s *SessionService) CompareSessions(ctx context.Context, userID string, sessionIDs []string) ([]Comparison, error) {
	if len(sessionIDs) < 2 {
		return nil, fmt.Errorf("provide at least 2 session ids to compare: %w", ErrInvalidArgument)
	}

	ids := uniqueIDs(sessionIDs)
	resolved := make([]*store.Session, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compareConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			sess, err := s.sessions.GetSession(gctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return storageError("load session "+id, err)
			}
			if sess.UserID != userID {
				return nil
			}
			resolved[i] = sess
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Comparison, 0, len(ids))
	for _, sess := range resolved {
		if sess != nil {
			out = append(out, CompareSession(sess))
		}
	}
	return out, nil
}

func (s *SessionService) loadOwned(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storageError("load session "+sessionID, err)
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrForbidden)
	}
	return session, nil
}

func (s *SessionService) withSessionLock(ctx context.Context, sessionID string, fn func() error) error {
	release, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("waiting for session %s: %w", sessionID, err)
	}
	defer release()
	return fn()
}

// mutate runs one read-modify-write against a session under its lock.
func (s *SessionService) mutate(ctx context.Context, sessionID, userID, op string, fn func(*store.Session) error) (*store.Session, error) {
	var session *store.Session
	err := s.withSessionLock(ctx, sessionID, func() error {
		var err error
		session, err = s.mutateLocked(ctx, sessionID, userID, op, fn)
		return err
	})
	return session, err
}

// mutateLocked reloads and reapplies fn when the conditional write loses a
// version race with another writer.
func (s *SessionService) mutateLocked(ctx context.Context, sessionID, userID, op string, fn func(*store.Session) error) (*store.Session, error) {
	for attempt := 1; ; attempt++ {
		session, err := s.loadOwned(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if err := fn(session); err != nil {
			if errors.Is(err, errSkipWrite) {
				return session, nil
			}
			return nil, err
		}

		err = s.sessions.UpdateSession(ctx, session)
		if err == nil {
			return session, nil
		}
		if errors.Is(err, store.ErrVersionConflict) && attempt < s.retryLimit {
			observability.LoggerFromContext(ctx).Warn("session write conflict, retrying",
				"session_id", sessionID, "op", op, "attempt", attempt)
			continue
		}
		return nil, storageError(op, err)
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
