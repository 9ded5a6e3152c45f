package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/store"
)

func drLee() *store.Persona {
	return &store.Persona{
		ID:                 "dr-lee",
		Name:               "Dr. Lee",
		Title:              "Cardiologist",
		Specialty:          "cardiology",
		CommunicationStyle: store.CommunicationStyle{Tone: "skeptical"},
		TypicalQuestions:   []string{"Why this drug?"},
	}
}

// scriptedGateway replies with fixed text and records what it was asked.
type scriptedGateway struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	prompts []string
}

func (g *scriptedGateway) Generate(ctx context.Context, systemPrompt, userPrompt string, sampling SamplingConfig) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, userPrompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *scriptedGateway) Close() error { return nil }

func (g *scriptedGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// conflictingStore fails the first n conditional writes with a version conflict.
type conflictingStore struct {
	*store.MemoryStore
	conflicts atomic.Int32
}

func (s *conflictingStore) UpdateSession(ctx context.Context, session *store.Session) error {
	if s.conflicts.Add(-1) >= 0 {
		return store.ErrVersionConflict
	}
	return s.MemoryStore.UpdateSession(ctx, session)
}

type failingStore struct {
	*store.MemoryStore
}

func (s *failingStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	if id == "broken" {
		return nil, errors.New("disk I/O error")
	}
	return s.MemoryStore.GetSession(ctx, id)
}

type fixture struct {
	svc     *SessionService
	mem     *store.MemoryStore
	gateway *scriptedGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	mem.PutPersona(drLee())
	gw := &scriptedGateway{reply: "That's vague. What trial data supports it?"}
	return &fixture{
		svc:     newTestService(mem, mem, gw),
		mem:     mem,
		gateway: gw,
	}
}

func newTestService(sessions store.SessionStore, personas store.PersonaStore, gw Gateway) *SessionService {
	var (
		mu   sync.Mutex
		tick int
		seq  int
	)
	return NewSessionService(sessions, personas, gw, ServiceOptions{
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick++
			return t0.Add(time.Duration(tick) * time.Second)
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("session-%d", seq)
		},
	})
}

func (f *fixture) startChat(t *testing.T, userID string) *store.Session {
	t.Helper()
	out, err := f.svc.StartSession(context.Background(), StartSessionInput{UserID: userID, PersonaID: "dr-lee", Mode: store.ModeChat})
	require.NoError(t, err)
	return out.Session
}

func TestStartSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.StartSession(ctx, StartSessionInput{UserID: "u1", PersonaID: "dr-lee"})
	require.NoError(t, err)
	assert.Equal(t, store.ModeChat, out.Session.Mode)
	assert.Equal(t, "Hello, I'm Dr. Lee, Cardiologist. Why this drug?", out.OpeningMessage)

	stored, err := f.mem.GetSession(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Turns, 1)

	scripted, err := f.svc.StartSession(ctx, StartSessionInput{UserID: "u1", PersonaID: "dr-lee", Mode: store.ModeScripted})
	require.NoError(t, err)
	assert.Empty(t, scripted.OpeningMessage)
	assert.Len(t, scripted.Session.Questions, 1)

	_, err = f.svc.StartSession(ctx, StartSessionInput{UserID: "u1", PersonaID: "dr-nobody"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.StartSession(ctx, StartSessionInput{PersonaID: "dr-lee"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPostMessageConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startChat(t, "u1")

	out, err := f.svc.PostMessage(ctx, PostMessageInput{SessionID: session.ID, UserID: "u1", Text: "Because it lowers LDL"})
	require.NoError(t, err)

	assert.Equal(t, 3, out.ConversationLength)
	assert.False(t, out.Resumed)
	assert.Equal(t, 1, out.UserTurn.Index)
	assert.Equal(t, 2, out.Reply.Index)
	assert.Equal(t, store.RoleAssistant, out.Reply.Role)
	assert.Equal(t, "That's vague. What trial data supports it?", out.Reply.Text)

	require.Len(t, f.gateway.prompts, 1)
	assert.Contains(t, f.gateway.prompts[0], "MSL: Because it lowers LDL")

	stored, err := f.mem.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stored.Turns, 3)
	assert.Equal(t, []store.Role{store.RoleAssistant, store.RoleUser, store.RoleAssistant},
		[]store.Role{stored.Turns[0].Role, stored.Turns[1].Role, stored.Turns[2].Role})
}

func TestPostMessageGenerationFailureLeavesUserTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startChat(t, "u1")

	f.gateway.setErr(errors.New("quota exceeded"))
	_, err := f.svc.PostMessage(ctx, PostMessageInput{SessionID: session.ID, UserID: "u1", Text: "Because it lowers LDL"})
	assert.ErrorIs(t, err, ErrGenerationUnavailable)

	stored, err := f.mem.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stored.Turns, 2)
	assert.Equal(t, store.RoleUser, stored.Turns[1].Role)

	// Retrying the same text resumes the dangling turn instead of duplicating it.
	f.gateway.setErr(nil)
	out, err := f.svc.PostMessage(ctx, PostMessageInput{SessionID: session.ID, UserID: "u1", Text: "Because it lowers LDL"})
	require.NoError(t, err)
	assert.True(t, out.Resumed)
	assert.Equal(t, 3, out.ConversationLength)
	assert.Equal(t, 1, out.UserTurn.Index)
}

func TestRespondResumesDanglingTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startChat(t, "u1")

	_, err := f.svc.Respond(ctx, session.ID, "u1")
	assert.ErrorIs(t, err, ErrInvalidState)

	f.gateway.setErr(fmt.Errorf("%w: timeout", ErrGenerationUnavailable))
	_, err = f.svc.PostMessage(ctx, PostMessageInput{SessionID: session.ID, UserID: "u1", Text: "first"})
	require.ErrorIs(t, err, ErrGenerationUnavailable)

	f.gateway.setErr(nil)
	out, err := f.svc.Respond(ctx, session.ID, "u1")
	require.NoError(t, err)
	assert.True(t, out.Resumed)
	assert.Equal(t, 3, out.ConversationLength)

	_, err = f.svc.Respond(ctx, session.ID, "u1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPostMessageConcurrentTurnsStayGapFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startChat(t, "u1")

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.PostMessage(ctx, PostMessageInput{SessionID: session.ID, UserID: "u1", Text: fmt.Sprintf("message %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.mem.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stored.Turns, 1+2*n)
	for i, turn := range stored.Turns {
		assert.Equal(t, i, turn.Index)
		if i > 0 {
			want := store.RoleUser
			if i%2 == 0 {
				want = store.RoleAssistant
			}
			assert.Equal(t, want, turn.Role, "turn %d", i)
		}
	}
}

func TestPostMessageRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startChat(t, "u1")

	_, err := f.svc.PostMessage(ctx, PostMessageInput{SessionID: session.ID, UserID: "u1", Text: "  "})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.PostMessage(ctx, PostMessageInput{SessionID: session.ID, UserID: "intruder", Text: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.PostMessage(ctx, PostMessageInput{SessionID: "missing", UserID: "u1", Text: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.CompleteSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, PostMessageInput{SessionID: session.ID, UserID: "u1", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, f.gateway.calls)

	scripted, err := f.svc.StartSession(ctx, StartSessionInput{UserID: "u1", PersonaID: "dr-lee", Mode: store.ModeScripted})
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, PostMessageInput{SessionID: scripted.Session.ID, UserID: "u1", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRecordAnswerAndAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.svc.StartSession(ctx, StartSessionInput{
		UserID:    "u1",
		PersonaID: "dr-lee",
		Mode:      store.ModeScripted,
		Questions: []store.Question{{Text: "Q1", Category: "efficacy"}, {Text: "Q2", Category: "safety"}},
	})
	require.NoError(t, err)
	id := out.Session.ID

	turn, err := f.svc.RecordAnswer(ctx, RecordAnswerInput{SessionID: id, UserID: "u1", QuestionIndex: 1, Answer: Answer{Text: "a1", TimeTaken: ptr(30.0)}})
	require.NoError(t, err)
	assert.Equal(t, 1, *turn.QuestionIndex)

	_, err = f.svc.RecordAnalysis(ctx, RecordAnalysisInput{SessionID: id, UserID: "u1", Index: 1, Recording: Recording{Analysis: &store.Analysis{Overall: 80}}})
	require.NoError(t, err)
	_, err = f.svc.RecordAnalysis(ctx, RecordAnalysisInput{SessionID: id, UserID: "u1", Index: 0, Recording: Recording{Analysis: &store.Analysis{Overall: 60}}})
	require.NoError(t, err)

	_, err = f.svc.RecordAnswer(ctx, RecordAnswerInput{SessionID: id, UserID: "u1", QuestionIndex: 7, Answer: Answer{Text: "x"}})
	assert.ErrorIs(t, err, ErrNotFound)

	snap, err := f.svc.GetConversationHistory(ctx, id, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Summary.TotalTurns)
	assert.Equal(t, 1, snap.Summary.AnsweredQuestions)
	assert.Equal(t, 2, snap.Summary.RecordedAnswers)
	assert.Equal(t, 70.0, *snap.Summary.OverallScore)

	_, err = f.svc.GetConversationHistory(ctx, id, "u2")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCompleteSessionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.startChat(t, "u1")

	first, err := f.svc.CompleteSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	assert.False(t, first.AlreadyCompleted)
	assert.Equal(t, 1, first.TotalTurns)
	require.NotNil(t, first.Session.CompletedAt)

	second, err := f.svc.CompleteSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyCompleted)
	assert.Equal(t, *first.Session.CompletedAt, *second.Session.CompletedAt)

	_, err = f.svc.CompleteSession(ctx, session.ID, "u2")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMutateRetriesVersionConflicts(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.PutPersona(drLee())
	cs := &conflictingStore{MemoryStore: mem}
	svc := newTestService(cs, mem, &scriptedGateway{reply: "ok"})
	ctx := context.Background()

	out, err := svc.StartSession(ctx, StartSessionInput{UserID: "u1", PersonaID: "dr-lee"})
	require.NoError(t, err)

	cs.conflicts.Store(2)
	_, err = svc.CompleteSession(ctx, out.Session.ID, "u1")
	require.NoError(t, err)

	cs.conflicts.Store(5)
	_, err = svc.PostMessage(ctx, PostMessageInput{SessionID: out.Session.ID, UserID: "u1", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidState)

	other, err := svc.StartSession(ctx, StartSessionInput{UserID: "u1", PersonaID: "dr-lee"})
	require.NoError(t, err)
	cs.conflicts.Store(5)
	_, err = svc.PostMessage(ctx, PostMessageInput{SessionID: other.Session.ID, UserID: "u1", Text: "hi"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestListSessionsAndTrend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.startChat(t, "u1")
	second := f.startChat(t, "u1")
	f.startChat(t, "u2")

	summaries, err := f.svc.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, second.ID, summaries[0].SessionID)
	assert.Equal(t, first.ID, summaries[1].SessionID)

	_, err = f.svc.PostMessage(ctx, PostMessageInput{SessionID: first.ID, UserID: "u1", Text: "answer"})
	require.NoError(t, err)
	_, err = f.svc.RecordAnalysis(ctx, RecordAnalysisInput{SessionID: first.ID, UserID: "u1", Index: 1, Recording: Recording{Analysis: &store.Analysis{Overall: 88}}})
	require.NoError(t, err)

	history, err := f.svc.GetUserTrend(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, history.Stats.TotalSessions)
	assert.Equal(t, 1, history.Stats.TotalRecordings)
	require.Len(t, history.Trend, 1)
	assert.Equal(t, first.ID, history.Trend[0].SessionID)
	assert.Equal(t, 88.0, history.Trend[0].AvgScore)

	empty, err := f.svc.GetUserTrend(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Stats.TotalSessions)
}

func TestCompareSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.startChat(t, "u1")
	b := f.startChat(t, "u1")
	foreign := f.startChat(t, "u2")

	_, err := f.svc.CompareSessions(ctx, "u1", []string{a.ID})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	out, err := f.svc.CompareSessions(ctx, "u1", []string{b.ID, "missing", foreign.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, b.ID, out[0].SessionID)
	assert.Equal(t, a.ID, out[1].SessionID)
	assert.Nil(t, out[0].Scores)

	out, err = f.svc.CompareSessions(ctx, "u1", []string{"missing", "gone"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCompareSessionsSurfacesStorageFaults(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.PutPersona(drLee())
	svc := newTestService(&failingStore{MemoryStore: mem}, mem, &scriptedGateway{reply: "ok"})

	_, err := svc.CompareSessions(context.Background(), "u1", []string{"broken", "missing"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
