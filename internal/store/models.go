package store

import "time"

type Mode string

const (
	ModeChat     Mode = "chat"
	ModeScripted Mode = "scripted"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type CommunicationStyle struct {
	Tone string `json:"tone" yaml:"tone"`
}

// Question is one planned question of a scripted session.
type Question struct {
	Text       string `json:"text" yaml:"text"`
	Category   string `json:"category" yaml:"category"`
	Difficulty string `json:"difficulty,omitempty" yaml:"difficulty"`
	TimeLimit  int    `json:"time_limit,omitempty" yaml:"time_limit"` // seconds
}

type Persona struct {
	ID                 string             `json:"id" yaml:"id"`
	Name               string             `json:"name" yaml:"name"`
	Title              string             `json:"title" yaml:"title"`
	Specialty          string             `json:"specialty" yaml:"specialty"`
	CommunicationStyle CommunicationStyle `json:"communication_style" yaml:"communication_style"`
	TypicalQuestions   []string           `json:"typical_questions" yaml:"typical_questions"`
	Questions          []Question         `json:"questions,omitempty" yaml:"questions"`
}

// Analysis holds the per-turn scores produced by the recording analyzer.
type Analysis struct {
	Clarity    float64 `json:"clarity"`
	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`
	Accuracy   float64 `json:"accuracy"`
	Overall    float64 `json:"overall"`
}

type Turn struct {
	Index         int       `json:"index"`
	Role          Role      `json:"role"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	QuestionIndex *int      `json:"question_index,omitempty"`

	TimeTaken  *float64   `json:"time_taken,omitempty"` // seconds
	Confidence *float64   `json:"confidence,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`

	Analysis          *Analysis  `json:"analysis,omitempty"`
	Transcription     string     `json:"transcription,omitempty"`
	RecordingDuration *float64   `json:"recording_duration,omitempty"` // seconds
	RecordedAt        *time.Time `json:"recorded_at,omitempty"`
}

type Session struct {
	ID          string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	PersonaID   string     `json:"persona_id"`
	PersonaName string     `json:"persona_name"`
	Mode        Mode       `json:"mode"`
	Status      Status     `json:"status"`
	Questions   []Question `json:"questions,omitempty"`
	Turns       []Turn     `json:"turns"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Version     int64      `json:"-"`
}

// Clone returns a deep copy so callers can mutate it without touching shared state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Questions != nil {
		c.Questions = append([]Question(nil), s.Questions...)
	}
	c.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		c.Turns[i] = t.clone()
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func (t Turn) clone() Turn {
	c := t
	c.QuestionIndex = clonePtr(t.QuestionIndex)
	c.TimeTaken = clonePtr(t.TimeTaken)
	c.Confidence = clonePtr(t.Confidence)
	c.AnsweredAt = clonePtr(t.AnsweredAt)
	c.Analysis = clonePtr(t.Analysis)
	c.RecordingDuration = clonePtr(t.RecordingDuration)
	c.RecordedAt = clonePtr(t.RecordedAt)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
