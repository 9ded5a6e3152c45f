package core

import (
	"math"
	"sort"
	"time"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/store"
)

const recentSessionsLimit = 10

type TrendPoint struct {
	Date        string  `json:"date"`
	SessionID   string  `json:"session_id"`
	PersonaName string  `json:"persona_name"`
	AvgScore    float64 `json:"avg_score"`
}

type DimensionScores struct {
	Clarity    float64 `json:"clarity"`
	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`
	Accuracy   float64 `json:"accuracy"`
	Overall    float64 `json:"overall"`
}

type Comparison struct {
	SessionID         string           `json:"session_id"`
	PersonaName       string           `json:"persona_name"`
	Date              string           `json:"date"`
	QuestionsAnswered int              `json:"questions_answered"`
	Scores            *DimensionScores `json:"scores"`
}

type SessionSummary struct {
	SessionID       string       `json:"session_id"`
	PersonaName     string       `json:"persona_name"`
	Mode            store.Mode   `json:"mode"`
	Status          store.Status `json:"status"`
	TurnsCount      int          `json:"turns_count"`
	QuestionsCount  int          `json:"questions_count"`
	RecordingsCount int          `json:"recordings_count"`
	CreatedAt       time.Time    `json:"created_at"`
}

type UserStats struct {
	TotalSessions     int            `json:"total_sessions"`
	CompletedSessions int            `json:"completed_sessions"`
	TotalRecordings   int            `json:"total_recordings"`
	OverallAverage    *float64       `json:"avg_overall_score"`
	CategoryBreakdown map[string]int `json:"category_breakdown"`
}

type PracticeHistory struct {
	Stats          UserStats        `json:"stats"`
	Trend          []TrendPoint     `json:"score_trend"`
	RecentSessions []SessionSummary `json:"recent_sessions"`
}

// Aggregate folds a user's sessions into practice statistics. The input order
// does not matter and a session id appearing twice is counted once.
func Aggregate(sessions []*store.Session) *PracticeHistory {
	unique := dedupeSessions(sessions)

	history := &PracticeHistory{
		Stats: UserStats{
			TotalSessions:     len(unique),
			CategoryBreakdown: map[string]int{},
		},
		Trend:          []TrendPoint{},
		RecentSessions: []SessionSummary{},
	}

	var allOverall []float64
	for _, s := range unique {
		if s.Status == store.StatusCompleted {
			history.Stats.CompletedSessions++
		}
		for _, q := range s.Questions {
			history.Stats.CategoryBreakdown[q.Category]++
		}

		overall := scoredOverall(s)
		history.Stats.TotalRecordings += len(overall)
		allOverall = append(allOverall, overall...)

		if avg := mean(overall); avg != nil {
			history.Trend = append(history.Trend, TrendPoint{
				Date:        sessionDate(s),
				SessionID:   s.ID,
				PersonaName: s.PersonaName,
				AvgScore:    *avg,
			})
		}
	}
	history.Stats.OverallAverage = mean(allOverall)

	created := make(map[string]time.Time, len(unique))
	for _, s := range unique {
		created[s.ID] = s.CreatedAt
	}
	sort.SliceStable(history.Trend, func(i, j int) bool {
		a, b := created[history.Trend[i].SessionID], created[history.Trend[j].SessionID]
		if a.Equal(b) {
			return history.Trend[i].SessionID < history.Trend[j].SessionID
		}
		return a.Before(b)
	})

	recent := append([]*store.Session(nil), unique...)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > recentSessionsLimit {
		recent = recent[:recentSessionsLimit]
	}
	for _, s := range recent {
		history.RecentSessions = append(history.RecentSessions, Summarize(s))
	}

	return history
}

func Summarize(s *store.Session) SessionSummary {
	return SessionSummary{
		SessionID:       s.ID,
		PersonaName:     s.PersonaName,
		Mode:            s.Mode,
		Status:          s.Status,
		TurnsCount:      len(s.Turns),
		QuestionsCount:  len(s.Questions),
		RecordingsCount: len(scoredOverall(s)),
		CreatedAt:       s.CreatedAt,
	}
}

// CompareSession computes per-dimension means over the scored turns of one
// session. Scores is nil when no turn has an analysis.
func CompareSession(s *store.Session) Comparison {
	c := Comparison{
		SessionID:   s.ID,
		PersonaName: s.PersonaName,
		Date:        sessionDate(s),
	}

	var sum DimensionScores
	n := 0
	for i := range s.Turns {
		a := s.Turns[i].Analysis
		if a == nil {
			continue
		}
		sum.Clarity += a.Clarity
		sum.Confidence += a.Confidence
		sum.Relevance += a.Relevance
		sum.Accuracy += a.Accuracy
		sum.Overall += a.Overall
		n++
	}
	c.QuestionsAnswered = n
	if n == 0 {
		return c
	}

	d := float64(n)
	c.Scores = &DimensionScores{
		Clarity:    round2(sum.Clarity / d),
		Confidence: round2(sum.Confidence / d),
		Relevance:  round2(sum.Relevance / d),
		Accuracy:   round2(sum.Accuracy / d),
		Overall:    round2(sum.Overall / d),
	}
	return c
}

func sessionOverall(s *store.Session) *float64 {
	return mean(scoredOverall(s))
}

func scoredOverall(s *store.Session) []float64 {
	var out []float64
	for i := range s.Turns {
		if a := s.Turns[i].Analysis; a != nil {
			out = append(out, a.Overall)
		}
	}
	return out
}

// mean returns the rounded arithmetic mean, or nil for an empty input.
func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := round2(sum / float64(len(values)))
	return &m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sessionDate(s *store.Session) string {
	return s.CreatedAt.UTC().Format("2006-01-02")
}

func dedupeSessions(sessions []*store.Session) []*store.Session {
	seen := make(map[string]bool, len(sessions))
	out := make([]*store.Session, 0, len(sessions))
	for _, s := range sessions {
		if s == nil || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}
