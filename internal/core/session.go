package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/store"
)

const defaultQuestionCategory = "general"

// Answer is the caller's submission for one scripted question.
type Answer struct {
	Text       string
	TimeTaken  *float64
	Confidence *float64
}

// Recording is an analyzed recording for one turn.
type Recording struct {
	Transcription string
	Duration      *float64
	Analysis      *store.Analysis
}

// NewSession builds the initial state of a session. Chat sessions open with an
// assistant turn built from the persona's first typical question; scripted
// sessions start with an empty turn list and a fixed question plan.
func NewSession(id, userID string, persona *store.Persona, mode store.Mode, questions []store.Question, now time.Time) (*store.Session, error) {
	if persona == nil {
		return nil, fmt.Errorf("persona: %w", ErrNotFound)
	}

	session := &store.Session{
		ID:          id,
		UserID:      userID,
		PersonaID:   persona.ID,
		PersonaName: persona.Name,
		Mode:        mode,
		Status:      store.StatusActive,
		Turns:       []store.Turn{},
		CreatedAt:   now,
	}

	switch mode {
	case store.ModeChat:
		if len(persona.TypicalQuestions) == 0 {
			return nil, fmt.Errorf("persona %s has no typical questions: %w", persona.ID, ErrInvalidArgument)
		}
		session.Turns = append(session.Turns, store.Turn{
			Index:     0,
			Role:      store.RoleAssistant,
			Text:      OpeningMessage(persona),
			Timestamp: now,
		})
	case store.ModeScripted:
		plan := questionPlan(persona, questions)
		if len(plan) == 0 {
			return nil, fmt.Errorf("scripted session needs at least one question: %w", ErrInvalidArgument)
		}
		session.Questions = plan
	default:
		return nil, fmt.Errorf("unknown session mode %q: %w", mode, ErrInvalidArgument)
	}

	return session, nil
}

// OpeningMessage is the persona's greeting followed by its first typical question.
func OpeningMessage(p *store.Persona) string {
	greeting := "Hello, I'm " + p.Name
	if p.Title != "" {
		greeting += ", " + p.Title
	}
	return greeting + ". " + p.TypicalQuestions[0]
}

func questionPlan(p *store.Persona, requested []store.Question) []store.Question {
	var plan []store.Question
	switch {
	case len(requested) > 0:
		plan = append(plan, requested...)
	case len(p.Questions) > 0:
		plan = append(plan, p.Questions...)
	default:
		category := p.Specialty
		if category == "" {
			category = defaultQuestionCategory
		}
		for _, q := range p.TypicalQuestions {
			plan = append(plan, store.Question{Text: q, Category: category})
		}
	}

	for i := range plan {
		if plan[i].Category == "" {
			plan[i].Category = defaultQuestionCategory
		}
	}
	return plan
}

func ensureActive(s *store.Session) error {
	if s.Status != store.StatusActive {
		return fmt.Errorf("session %s is %s: %w", s.ID, s.Status, ErrInvalidState)
	}
	return nil
}

func appendTurn(s *store.Session, role store.Role, text string, now time.Time) (*store.Turn, error) {
	if err := ensureActive(s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("turn text is empty: %w", ErrInvalidArgument)
	}

	s.Turns = append(s.Turns, store.Turn{
		Index:     len(s.Turns),
		Role:      role,
		Text:      text,
		Timestamp: now,
	})
	return &s.Turns[len(s.Turns)-1], nil
}

func AppendUserTurn(s *store.Session, text string, now time.Time) (*store.Turn, error) {
	return appendTurn(s, store.RoleUser, text, now)
}

func AppendAssistantTurn(s *store.Session, text string, now time.Time) (*store.Turn, error) {
	return appendTurn(s, store.RoleAssistant, text, now)
}

// DanglingUserTurn returns the last turn of a chat session when it is a user
// turn still waiting for its assistant reply.
func DanglingUserTurn(s *store.Session) *store.Turn {
	if s.Mode != store.ModeChat || len(s.Turns) == 0 {
		return nil
	}
	last := &s.Turns[len(s.Turns)-1]
	if last.Role != store.RoleUser {
		return nil
	}
	return last
}

// scriptedTurn finds the turn for a planned question, creating it on first use.
func scriptedTurn(s *store.Session, questionIndex int, now time.Time) (*store.Turn, error) {
	if questionIndex < 0 || questionIndex >= len(s.Questions) {
		return nil, fmt.Errorf("question index %d out of range [0,%d): %w", questionIndex, len(s.Questions), ErrNotFound)
	}
	for i := range s.Turns {
		if qi := s.Turns[i].QuestionIndex; qi != nil && *qi == questionIndex {
			return &s.Turns[i], nil
		}
	}

	qi := questionIndex
	s.Turns = append(s.Turns, store.Turn{
		Index:         len(s.Turns),
		Role:          store.RoleUser,
		Timestamp:     now,
		QuestionIndex: &qi,
	})
	return &s.Turns[len(s.Turns)-1], nil
}

// RecordAnswer upserts the answer fields on the turn of a scripted question.
func RecordAnswer(s *store.Session, questionIndex int, answer Answer, now time.Time) (*store.Turn, error) {
	if err := ensureActive(s); err != nil {
		return nil, err
	}
	if s.Mode != store.ModeScripted {
		return nil, fmt.Errorf("answers are only recorded on scripted sessions: %w", ErrInvalidArgument)
	}
	if strings.TrimSpace(answer.Text) == "" {
		return nil, fmt.Errorf("answer text is empty: %w", ErrInvalidArgument)
	}

	turn, err := scriptedTurn(s, questionIndex, now)
	if err != nil {
		return nil, err
	}
	answeredAt := now
	turn.Text = answer.Text
	turn.TimeTaken = answer.TimeTaken
	turn.Confidence = answer.Confidence
	turn.AnsweredAt = &answeredAt
	return turn, nil
}

// RecordAnalysis upserts the recording analysis on a turn. Scripted sessions
// address turns by question index, chat sessions by sequence index, and only
// user turns can carry an analysis.
func RecordAnalysis(s *store.Session, index int, rec Recording, now time.Time) (*store.Turn, error) {
	if err := ensureActive(s); err != nil {
		return nil, err
	}
	if rec.Analysis == nil {
		return nil, fmt.Errorf("analysis is required: %w", ErrInvalidArgument)
	}

	var turn *store.Turn
	switch s.Mode {
	case store.ModeScripted:
		t, err := scriptedTurn(s, index, now)
		if err != nil {
			return nil, err
		}
		turn = t
	default:
		if index < 0 || index >= len(s.Turns) {
			return nil, fmt.Errorf("turn index %d out of range [0,%d): %w", index, len(s.Turns), ErrNotFound)
		}
		turn = &s.Turns[index]
		if turn.Role != store.RoleUser {
			return nil, fmt.Errorf("turn %d is an assistant turn: %w", index, ErrInvalidArgument)
		}
	}

	analysis := *rec.Analysis
	recordedAt := now
	turn.Analysis = &analysis
	turn.Transcription = rec.Transcription
	turn.RecordingDuration = rec.Duration
	turn.RecordedAt = &recordedAt
	return turn, nil
}

// Complete moves the session to completed. It reports whether anything
// changed; completing a completed session is a no-op.
func Complete(s *store.Session, now time.Time) bool {
	if s.Status == store.StatusCompleted {
		return false
	}
	completedAt := now
	s.Status = store.StatusCompleted
	s.CompletedAt = &completedAt
	return true
}

type TurnView struct {
	store.Turn
	Answered bool `json:"answered"`
	Recorded bool `json:"recorded"`
}

type QuestionView struct {
	QuestionIndex int            `json:"question_index"`
	Question      store.Question `json:"question"`
	Turn          *store.Turn    `json:"turn"`
	Answered      bool           `json:"answered"`
	Recorded      bool           `json:"recorded"`
}

type SnapshotSummary struct {
	TotalTurns        int      `json:"total_turns"`
	TotalQuestions    int      `json:"total_questions"`
	AnsweredQuestions int      `json:"answered_questions"`
	RecordedAnswers   int      `json:"recorded_answers"`
	OverallScore      *float64 `json:"overall_score"`
}

// SessionSnapshot is the read-only projection of a session.
type SessionSnapshot struct {
	SessionID   string          `json:"session_id"`
	PersonaID   string          `json:"persona_id"`
	PersonaName string          `json:"persona_name"`
	Mode        store.Mode      `json:"mode"`
	Status      store.Status    `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Turns       []TurnView      `json:"turns"`
	Questions   []QuestionView  `json:"questions,omitempty"`
	Summary     SnapshotSummary `json:"summary"`
}

func answered(t *store.Turn) bool {
	return t.Role == store.RoleUser && t.Text != ""
}

func recorded(t *store.Turn) bool {
	return t.Analysis != nil
}

func Snapshot(s *store.Session) *SessionSnapshot {
	snap := &SessionSnapshot{
		SessionID:   s.ID,
		PersonaID:   s.PersonaID,
		PersonaName: s.PersonaName,
		Mode:        s.Mode,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
		Turns:       make([]TurnView, 0, len(s.Turns)),
	}

	for i := range s.Turns {
		t := &s.Turns[i]
		view := TurnView{Turn: *t, Answered: answered(t), Recorded: recorded(t)}
		snap.Turns = append(snap.Turns, view)
		if view.Answered {
			snap.Summary.AnsweredQuestions++
		}
		if view.Recorded {
			snap.Summary.RecordedAnswers++
		}
	}

	if s.Mode == store.ModeScripted {
		byQuestion := make(map[int]*store.Turn, len(s.Turns))
		for i := range s.Turns {
			if qi := s.Turns[i].QuestionIndex; qi != nil {
				byQuestion[*qi] = &s.Turns[i]
			}
		}
		for i, q := range s.Questions {
			view := QuestionView{QuestionIndex: i, Question: q}
			if t, ok := byQuestion[i]; ok {
				view.Turn = t
				view.Answered = answered(t)
				view.Recorded = recorded(t)
			}
			snap.Questions = append(snap.Questions, view)
		}
	}

	snap.Summary.TotalTurns = len(s.Turns)
	snap.Summary.TotalQuestions = len(s.Questions)
	snap.Summary.OverallScore = sessionOverall(s)
	return snap
}
