package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukebox-rooms/internal/testutil"
	"github.com/jukebox-rooms/pkg/database"
	"github.com/jukebox-rooms/pkg/models"
)

func newRoom(code, host string) *models.Room {
	return &models.Room{
		ID:          uuid.New(),
		Code:        code,
		HostID:      host,
		VotesToSkip: 2,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestReplaceHostRoom(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	_, err := db.ReplaceHostRoom(ctx, newRoom("AAAAAA", "host-1"))
	require.NoError(t, err)
	_, err = db.RecordVote(ctx, &models.SkipVote{ID: uuid.New(), RoomCode: "AAAAAA", VoterIdentity: "g1", TrackID: "T1"})
	require.NoError(t, err)

	replaced, err := db.ReplaceHostRoom(ctx, newRoom("BBBBBB", "host-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAAAA"}, replaced)

	_, err = db.GetRoomByCode(ctx, "AAAAAA")
	assert.ErrorIs(t, err, database.ErrNotFound)

	count, err := db.CountVotes(ctx, "AAAAAA", "T1")
	require.NoError(t, err)
	assert.Zero(t, count)

	latest, err := db.GetLatestRoomByHost(ctx, "host-1")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", latest.Code)
}

func TestRecordVote(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	vote := func(voter, track string) int {
		t.Helper()
		n, err := db.RecordVote(ctx, &models.SkipVote{ID: uuid.New(), RoomCode: "ROOM01", VoterIdentity: voter, TrackID: track})
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, 1, vote("a", "T1"))
	assert.Equal(t, 1, vote("a", "T1"), "repeated vote counts once")
	assert.Equal(t, 2, vote("b", "T1"))
	assert.Equal(t, 1, vote("c", "T2"), "track change purges old votes")

	old, err := db.CountVotes(ctx, "ROOM01", "T1")
	require.NoError(t, err)
	assert.Zero(t, old)
}

func TestQueueOrdering(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	// same timestamp for all three; seq breaks the tie
	added := time.Now().UTC()
	for i, uri := range []string{"spotify:track:1", "spotify:track:2", "spotify:track:3"} {
		require.NoError(t, db.AddToQueue(ctx, &models.QueuedTrack{
			ID:          uuid.New(),
			RoomCode:    "ROOM01",
			ProviderURI: uri,
			AddedAt:     added,
			Seq:         int64(i + 1),
		}))
	}

	items, err := db.GetQueue(ctx, "ROOM01")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "spotify:track:1", items[0].ProviderURI)
	assert.Equal(t, "spotify:track:3", items[2].ProviderURI)

	oldest, err := db.OldestQueued(ctx, "ROOM01")
	require.NoError(t, err)
	require.NoError(t, db.DeleteQueued(ctx, oldest.ID.String()))

	items, err = db.GetQueue(ctx, "ROOM01")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "spotify:track:2", items[0].ProviderURI)
}

func TestUpdateRoomSettingsMissing(t *testing.T) {
	db := testutil.NewDB(t)
	err := db.UpdateRoomSettings(context.Background(), "NOPE00", true, 3)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
