package vote_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jukebox-rooms/internal/room"
	"github.com/jukebox-rooms/internal/spotify"
	"github.com/jukebox-rooms/internal/spotify/spotifytest"
	"github.com/jukebox-rooms/internal/testutil"
	"github.com/jukebox-rooms/internal/vote"
	"github.com/jukebox-rooms/pkg/events"
	"github.com/jukebox-rooms/pkg/events/eventstest"
	"github.com/jukebox-rooms/pkg/models"
)

const host = "host-a"

type harness struct {
	coordinator *vote.Coordinator
	registry    *room.Registry
	provider    *spotifytest.Provider
	events      *eventstest.Recorder
	room        *models.Room
}

func newHarness(t *testing.T, votesToSkip int) *harness {
	t.Helper()

	db := testutil.NewDB(t)
	rc, _ := testutil.NewRedis(t)

	h := &harness{
		registry: room.NewRegistry(db, rc, zerolog.Nop()),
		provider: spotifytest.NewProvider(),
		events:   &eventstest.Recorder{},
	}
	h.coordinator = vote.NewCoordinator(db, h.registry, h.provider, h.events, zerolog.Nop())

	r, err := h.registry.Create(context.Background(), host, false, votesToSkip)
	require.NoError(t, err)
	h.room = r
	return h
}

func (h *harness) vote(t *testing.T, voter string) vote.Result {
	t.Helper()
	res, err := h.coordinator.RegisterVote(context.Background(), h.room.Code, voter)
	require.NoError(t, err)
	return res
}

func (h *harness) tally(t *testing.T, trackID string) int {
	t.Helper()
	n, err := h.coordinator.Tally(context.Background(), h.room.Code, trackID)
	require.NoError(t, err)
	return n
}

func TestQuorumSkipsAndClearsVotes(t *testing.T) {
	h := newHarness(t, 2)
	h.provider.SetPlaying(host, "T1")
	h.provider.OnSkip = func(owner string) { h.provider.SetPlaying(owner, "T2") }

	res := h.vote(t, "guest-b")
	assert.Equal(t, vote.Result{TrackID: "T1", Count: 1, Required: 2}, res)
	assert.Zero(t, h.provider.Skips(host))

	res = h.vote(t, "guest-c")
	assert.True(t, res.Skipped)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 1, h.provider.Skips(host))
	assert.Zero(t, h.tally(t, "T1"))

	res = h.vote(t, "guest-b")
	assert.Equal(t, vote.Result{TrackID: "T2", Count: 1, Required: 2}, res)
	assert.Equal(t, 1, h.provider.Skips(host))

	assert.Equal(t, []events.EventType{
		events.EventTypeVoteRegistered,
		events.EventTypeVoteRegistered,
		events.EventTypeTrackSkipped,
		events.EventTypeVoteRegistered,
	}, h.events.Types())
}

func TestRepeatedVoteCountsOnce(t *testing.T) {
	h := newHarness(t, 3)
	h.provider.SetPlaying(host, "T1")

	h.vote(t, "guest-b")
	h.vote(t, "guest-c")
	for i := 0; i < 3; i++ {
		res := h.vote(t, "guest-b")
		assert.Equal(t, 2, res.Count)
		assert.False(t, res.Skipped)
	}
	assert.Zero(t, h.provider.Skips(host))

	res := h.vote(t, "guest-d")
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, h.provider.Skips(host))
}

func TestTrackChangeResetsCount(t *testing.T) {
	h := newHarness(t, 3)
	h.provider.SetPlaying(host, "T1")

	h.vote(t, "guest-b")
	h.vote(t, "guest-c")
	assert.Equal(t, 2, h.tally(t, "T1"))

	h.provider.SetPlaying(host, "T2")
	assert.Zero(t, h.tally(t, "T2"))

	res := h.vote(t, "guest-d")
	assert.Equal(t, 1, res.Count)
	assert.Zero(t, h.tally(t, "T1"), "votes for the previous track are purged")
}

func TestConcurrentVotesSkipOncePerQuorum(t *testing.T) {
	h := newHarness(t, 4)

	var mu sync.Mutex
	track := 1
	h.provider.SetPlaying(host, "T1")
	h.provider.OnSkip = func(owner string) {
		mu.Lock()
		track++
		next := fmt.Sprintf("T%d", track)
		mu.Unlock()
		h.provider.SetPlaying(owner, next)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.coordinator.RegisterVote(context.Background(), h.room.Code, fmt.Sprintf("guest-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, h.provider.Skips(host))
	assert.Equal(t, 2, h.events.Count(events.EventTypeTrackSkipped))
}

func TestNothingPlaying(t *testing.T) {
	h := newHarness(t, 2)

	_, err := h.coordinator.RegisterVote(context.Background(), h.room.Code, "guest-b")
	assert.ErrorIs(t, err, vote.ErrNothingToVoteOn)
	assert.Empty(t, h.events.Events())
}

func TestProviderErrorsPropagate(t *testing.T) {
	h := newHarness(t, 2)
	h.provider.FailWith("CurrentTrack", spotify.ErrUnauthenticated)

	_, err := h.coordinator.RegisterVote(context.Background(), h.room.Code, "guest-b")
	assert.ErrorIs(t, err, spotify.ErrUnauthenticated)
}

func TestUnknownRoom(t *testing.T) {
	h := newHarness(t, 2)

	_, err := h.coordinator.RegisterVote(context.Background(), "NOPE42", "guest-b")
	assert.ErrorIs(t, err, room.ErrNotFound)
}

func TestReadsLiveVotesToSkip(t *testing.T) {
	h := newHarness(t, 3)
	h.provider.SetPlaying(host, "T1")

	res := h.vote(t, "guest-b")
	assert.Equal(t, 3, res.Required)

	_, err := h.registry.UpdateSettings(context.Background(), h.room.Code, host, false, 2)
	require.NoError(t, err)

	res = h.vote(t, "guest-c")
	assert.Equal(t, 2, res.Required)
	assert.True(t, res.Skipped)
}

func TestFailedSkipKeepsVotes(t *testing.T) {
	h := newHarness(t, 1)
	h.provider.SetPlaying(host, "T1")
	h.provider.FailWith("SkipNext", errors.New("no active device"))

	res, err := h.coordinator.RegisterVote(context.Background(), h.room.Code, "guest-b")
	require.Error(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, h.tally(t, "T1"))

	h.provider.FailWith("SkipNext", nil)
	res = h.vote(t, "guest-b")
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, h.provider.Skips(host))
	assert.Zero(t, h.tally(t, "T1"))
}

// hangUp cancels the caller's context when asked to skip, then fails if the
// skip itself was issued on that context.
type hangUp struct {
	vote.Player
	cancel context.CancelFunc
}

func (p *hangUp) SkipNext(ctx context.Context, owner string) error {
	p.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Player.SkipNext(ctx, owner)
}

func TestQuorumSkipSurvivesCallerCancellation(t *testing.T) {
	db := testutil.NewDB(t)
	rc, _ := testutil.NewRedis(t)
	registry := room.NewRegistry(db, rc, zerolog.Nop())
	provider := spotifytest.NewProvider()
	recorder := &eventstest.Recorder{}

	r, err := registry.Create(context.Background(), host, false, 1)
	require.NoError(t, err)
	provider.SetPlaying(host, "T1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coordinator := vote.NewCoordinator(db, registry, &hangUp{Player: provider, cancel: cancel}, recorder, zerolog.Nop())

	res, err := coordinator.RegisterVote(ctx, r.Code, "guest-b")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, provider.Skips(host))

	n, err := coordinator.Tally(context.Background(), r.Code, "T1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []events.EventType{events.EventTypeVoteRegistered, events.EventTypeTrackSkipped}, recorder.Types())
}

// cancellingPublisher cancels the caller's context on its first publish.
type cancellingPublisher struct {
	eventstest.Recorder
	cancel context.CancelFunc
}

func (p *cancellingPublisher) Publish(ctx context.Context, eventType events.EventType, roomCode, userID string, payload interface{}) error {
	p.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Recorder.Publish(ctx, eventType, roomCode, userID, payload)
}

func TestSlowPublisherDoesNotBlockSkip(t *testing.T) {
	db := testutil.NewDB(t)
	rc, _ := testutil.NewRedis(t)
	registry := room.NewRegistry(db, rc, zerolog.Nop())
	provider := spotifytest.NewProvider()

	r, err := registry.Create(context.Background(), host, false, 1)
	require.NoError(t, err)
	provider.SetPlaying(host, "T1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	publisher := &cancellingPublisher{cancel: cancel}
	coordinator := vote.NewCoordinator(db, registry, provider, publisher, zerolog.Nop())

	res, err := coordinator.RegisterVote(ctx, r.Code, "guest-b")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, provider.Skips(host))

	n, err := coordinator.Tally(context.Background(), r.Code, "T1")
	require.NoError(t, err)
	assert.Zero(t, n, "no votes left behind at quorum")
	assert.Equal(t, 2, len(publisher.Events()))
}

func TestSkipIsBounded(t *testing.T) {
	db := testutil.NewDB(t)
	rc, _ := testutil.NewRedis(t)
	registry := room.NewRegistry(db, rc, zerolog.Nop())

	r, err := registry.Create(context.Background(), host, false, 1)
	require.NoError(t, err)

	player := &stalledSkip{track: &spotify.CurrentTrack{ID: "T1"}}
	coordinator := vote.NewCoordinator(db, registry, player, &eventstest.Recorder{}, zerolog.Nop(),
		vote.WithSkipTimeout(20*time.Millisecond))

	_, err = coordinator.RegisterVote(context.Background(), r.Code, "guest-b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	n, err := coordinator.Tally(context.Background(), r.Code, "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a failed skip keeps the votes")
}

type stalledSkip struct {
	track *spotify.CurrentTrack
}

func (p *stalledSkip) CurrentTrack(context.Context, string) (*spotify.CurrentTrack, error) {
	return p.track, nil
}

func (p *stalledSkip) SkipNext(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
