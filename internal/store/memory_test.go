package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	session := testSession("s1", "u1", time.Now())
	require.NoError(t, m.CreateSession(ctx, session))

	// Mutating the caller's value must not leak into the store.
	session.Turns[0].Text = "mutated"

	got, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Turns[0].Text)

	got.Turns = append(got.Turns, Turn{Index: 1, Role: RoleUser, Text: "x"})
	again, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, again.Turns, 1)
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateSession(ctx, testSession("s1", "u1", time.Now())))

	a, _ := m.GetSession(ctx, "s1")
	b, _ := m.GetSession(ctx, "s1")

	require.NoError(t, m.UpdateSession(ctx, a))
	assert.ErrorIs(t, m.UpdateSession(ctx, b), ErrVersionConflict)
	assert.ErrorIs(t, m.UpdateSession(ctx, &Session{ID: "missing"}), ErrNotFound)
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Now()
	require.NoError(t, m.CreateSession(ctx, testSession("a", "u1", base)))
	require.NoError(t, m.CreateSession(ctx, testSession("b", "u1", base.Add(time.Minute))))
	require.NoError(t, m.CreateSession(ctx, testSession("c", "u2", base)))

	sessions, err := m.ListSessionsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "b", sessions[0].ID)
	assert.Equal(t, "a", sessions[1].ID)
}

func TestMemoryStorePersonas(t *testing.T) {
	m := NewMemoryStore()
	m.PutPersona(&Persona{ID: "p1", Name: "Dr. Lee", TypicalQuestions: []string{"Q"}})

	p, err := m.GetPersona(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Lee", p.Name)

	_, err = m.GetPersona(context.Background(), "p2")
	assert.ErrorIs(t, err, ErrNotFound)
}
