// Package vote turns participants' skip votes into provider skips.
package vote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jukebox-rooms/internal/spotify"
	"github.com/jukebox-rooms/pkg/database"
	"github.com/jukebox-rooms/pkg/events"
	"github.com/jukebox-rooms/pkg/models"
)

const defaultSkipTimeout = 10 * time.Second

var ErrNothingToVoteOn = errors.New("nothing is playing")

// Player is the part of the provider client a vote needs.
type Player interface {
	CurrentTrack(ctx context.Context, ownerID string) (*spotify.CurrentTrack, error)
	SkipNext(ctx context.Context, ownerID string) error
}

// Rooms resolves a room code to its settings as stored, never a cached copy.
type Rooms interface {
	Live(ctx context.Context, code string) (*models.Room, error)
}

type Result struct {
	TrackID  string `json:"track_id"`
	Count    int    `json:"count"`
	Required int    `json:"required"`
	Skipped  bool   `json:"skipped"`
}

// Coordinator counts votes per room and track. Votes for a room are purged
// lazily, on the first vote after the playing track changed.
type Coordinator struct {
	db        *database.MySQLDB
	rooms     Rooms
	player    Player
	publisher events.Publisher
	logger    zerolog.Logger

	skipTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Coordinator)

// WithSkipTimeout bounds the skip issued at quorum.
func WithSkipTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.skipTimeout = d }
}

func NewCoordinator(db *database.MySQLDB, rooms Rooms, player Player, publisher events.Publisher, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:          db,
		rooms:       rooms,
		player:      player,
		publisher:   publisher,
		logger:      logger.With().Str("component", "vote").Logger(),
		skipTimeout: defaultSkipTimeout,
		locks:       make(map[string]*roomLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterVote records voter's vote against the track the room's host is
// playing and skips it once the room's quorum is reached. Repeated votes by
// the same voter count once.
func (c *Coordinator) RegisterVote(ctx context.Context, roomCode, voter string) (Result, error) {
	room, err := c.rooms.Live(ctx, roomCode)
	if err != nil {
		return Result{}, err
	}

	result, err := c.register(ctx, room, voter)
	if result.TrackID == "" {
		return result, err
	}

	// published once the room lock is released; the outcome stands even if
	// the caller went away
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.skipTimeout)
	defer cancel()

	c.publish(ctx, events.EventTypeVoteRegistered, room.Code, voter, events.VotePayload{
		TrackID:  result.TrackID,
		Count:    result.Count,
		Required: result.Required,
	})
	if result.Skipped {
		c.publish(ctx, events.EventTypeTrackSkipped, room.Code, voter, events.TrackSkippedPayload{
			TrackID: result.TrackID,
			Cause:   "vote",
		})
	}
	return result, err
}

func (c *Coordinator) register(ctx context.Context, room *models.Room, voter string) (Result, error) {
	// one quorum crossing, one skip
	unlock := c.lock(room.Code)
	defer unlock()

	track, err := c.player.CurrentTrack(ctx, room.HostID)
	if err != nil {
		return Result{}, err
	}
	if track == nil {
		return Result{}, ErrNothingToVoteOn
	}

	count, err := c.db.RecordVote(ctx, &models.SkipVote{
		ID:            uuid.New(),
		RoomCode:      room.Code,
		VoterIdentity: voter,
		TrackID:       track.ID,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to record vote: %w", err)
	}

	result := Result{TrackID: track.ID, Count: count, Required: room.VotesToSkip}
	if count < room.VotesToSkip {
		return result, nil
	}

	// The vote is committed, so the skip and its cleanup outlive the caller.
	skipCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.skipTimeout)
	defer cancel()

	// votes stay when the skip fails so the next vote retries it
	if err := c.player.SkipNext(skipCtx, room.HostID); err != nil {
		return result, fmt.Errorf("quorum reached but skip failed: %w", err)
	}
	result.Skipped = true

	if err := c.db.DeleteVotesForTrack(skipCtx, room.Code, track.ID); err != nil {
		c.logger.Error().Err(err).Str("room", room.Code).Str("track", track.ID).Msg("Failed to clear votes after skip")
	}

	c.logger.Info().Str("room", room.Code).Str("track", track.ID).Int("votes", count).Msg("Vote quorum reached, track skipped")
	return result, nil
}

// Tally returns the votes the room holds for trackID.
func (c *Coordinator) Tally(ctx context.Context, roomCode, trackID string) (int, error) {
	return c.db.CountVotes(ctx, roomCode, trackID)
}

func (c *Coordinator) lock(roomCode string) func() {
	c.mu.Lock()
	l, ok := c.locks[roomCode]
	if !ok {
		l = &roomLock{}
		c.locks[roomCode] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, roomCode)
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType events.EventType, roomCode, userID string, payload interface{}) {
	if err := c.publisher.Publish(ctx, eventType, roomCode, userID, payload); err != nil {
		c.logger.Warn().Err(err).Str("room", roomCode).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}
