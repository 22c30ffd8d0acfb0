package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIndexQueryOrderAndFilter(t *testing.T) {
	ix := NewInMemoryIndex()
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, "a", []float32{1, 0}, map[string]any{core.MetaRoomID: "r1"}))
	require.NoError(t, ix.Upsert(ctx, "b", []float32{0.7, 0.7}, map[string]any{core.MetaRoomID: "r1"}))
	require.NoError(t, ix.Upsert(ctx, "c", []float32{1, 0}, map[string]any{core.MetaRoomID: "r2"}))

	got, err := ix.Query(ctx, []float32{1, 0}, 5, core.VectorFilter{RoomID: "r1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	got, err = ix.Query(ctx, []float32{1, 0}, 1, core.VectorFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID) // tie with c broken by id

	require.NoError(t, ix.Upsert(ctx, "a", []float32{0, 1}, map[string]any{core.MetaRoomID: "r1"}))
	assert.Equal(t, 3, ix.Len())
	ix.Delete("c")
	assert.Equal(t, 2, ix.Len())
}

func TestInMemoryIndexRejectsEmpty(t *testing.T) {
	ix := NewInMemoryIndex()
	assert.ErrorIs(t, ix.Upsert(context.Background(), "", []float32{1}, nil), core.ErrInvalid)
	assert.ErrorIs(t, ix.Upsert(context.Background(), "x", nil, nil), core.ErrInvalid)
	got, err := ix.Query(context.Background(), []float32{1}, 0, core.VectorFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLongTermRememberRecall(t *testing.T) {
	lt := NewLongTerm(NewInMemoryIndex(), embedding.NewHashEmbedder(128))
	ctx := context.Background()
	now := time.Now().UTC()

	msgs := []core.Message{
		{ID: "m1", RoomID: "r1", AuthorID: "u1", Role: core.RoleUser, Parts: core.TextParts("my favourite database is postgres"), CreatedAt: now},
		{ID: "m2", RoomID: "r1", AuthorID: "u1", Role: core.RoleUser, Parts: core.TextParts("the cat sleeps all day"), CreatedAt: now},
		{ID: "m3", RoomID: "r2", AuthorID: "u2", Role: core.RoleUser, Parts: core.TextParts("postgres database tuning"), CreatedAt: now},
		{ID: "m4", RoomID: "r1", AuthorID: "u1", Role: core.RoleUser, Parts: core.TextParts("   "), CreatedAt: now},
	}
	for _, m := range msgs {
		require.NoError(t, lt.Remember(ctx, m))
	}

	notes, err := lt.Recall(ctx, "r1", "which database do I like, postgres?", 1)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "m1", notes[0].ID)
	assert.Equal(t, "u1", notes[0].AuthorID)
	assert.WithinDuration(t, now, notes[0].CreatedAt, time.Millisecond)

	notes, err = lt.Recall(ctx, "r1", "", 3)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

type failingEmbedder struct{ *embedding.HashEmbedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("offline")
}

func TestLongTermPropagatesEmbedderErrors(t *testing.T) {
	lt := NewLongTerm(NewInMemoryIndex(), failingEmbedder{embedding.NewHashEmbedder(8)})
	_, err := lt.Recall(context.Background(), "r1", "hello", 2)
	assert.Error(t, err)
}
