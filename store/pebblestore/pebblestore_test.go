package pebblestore

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T, fs vfs.FS) *Store {
	t.Helper()
	s, err := Open("db", func(o *Options) { o.FS = fs })
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Gateway {
		s := openMem(t, vfs.NewMem())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSequenceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	s := openMem(t, fs)
	require.NoError(t, s.PutActor(ctx, core.NewUserActor("u1", "ann", "Ann", core.UserProfile{})))
	require.NoError(t, s.CreateRoom(ctx, core.NewRoom("r1", "General")))
	for _, text := range []string{"one", "two", "three"} {
		_, err := s.AppendMessage(ctx, core.Message{RoomID: "r1", AuthorID: "u1", AuthorKind: core.ActorUser, Role: core.RoleUser, Parts: core.TextParts(text)})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s = openMem(t, fs)
	defer func() { _ = s.Close() }()

	m, err := s.AppendMessage(ctx, core.Message{RoomID: "r1", AuthorID: "u1", AuthorKind: core.ActorUser, Role: core.RoleUser, Parts: core.TextParts("four")})
	require.NoError(t, err)
	assert.Equal(t, int64(4), m.Seq)

	recent, err := s.RecentMessages(ctx, "r1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Text())
	assert.Equal(t, "four", recent[1].Text())

	a, err := s.GetActorByHandle(ctx, "@ANN")
	require.NoError(t, err)
	assert.Equal(t, "u1", a.ID)
}

func TestKeysEscapeSeparators(t *testing.T) {
	assert.NotEqual(t, string(relKey("a:b", "c", "k")), string(relKey("a", "b:c", "k")))
	assert.Equal(t, "room:r:n", string(prefixEnd([]byte("room:r:m"))))
	assert.Less(t, string(messageKey("r", 9)), string(messageKey("r", 10)))
}
