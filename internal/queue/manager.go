// Package queue keeps the room's own record of requested tracks and forwards
// each request to the host's player.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jukebox-rooms/internal/spotify"
	"github.com/jukebox-rooms/pkg/database"
	"github.com/jukebox-rooms/pkg/events"
	"github.com/jukebox-rooms/pkg/models"
)

const defaultEnqueueTimeout = 10 * time.Second

var ErrMissingURI = errors.New("track uri is required")

// Enqueuer is the part of the provider client the queue needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, ownerID, uri string) error
}

// Request describes a track a participant wants queued.
type Request struct {
	RoomCode    string
	HostID      string
	RequestedBy string
	Title       string
	Artist      string
	URI         string
	ArtURL      string
}

// Manager persists queued tracks first and tells the provider afterwards. The
// stored queue is what the room intends to play next; provider failures are
// logged and never undo it.
type Manager struct {
	db        *database.MySQLDB
	provider  Enqueuer
	publisher events.Publisher
	logger    zerolog.Logger
	timeout   time.Duration

	seq      atomic.Int64
	inflight sync.WaitGroup
}

type Option func(*Manager)

// WithEnqueueTimeout bounds each background provider call.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

func NewManager(db *database.MySQLDB, provider Enqueuer, publisher events.Publisher, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		db:        db,
		provider:  provider,
		publisher: publisher,
		logger:    logger.With().Str("component", "queue").Logger(),
		timeout:   defaultEnqueueTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.seq.Store(time.Now().UnixNano())
	return m
}

// Enqueue stores the request and hands it to the provider in the background.
func (m *Manager) Enqueue(ctx context.Context, req Request) (*models.QueuedTrack, error) {
	if req.URI == "" {
		return nil, ErrMissingURI
	}

	item := &models.QueuedTrack{
		ID:          uuid.New(),
		RoomCode:    req.RoomCode,
		AddedBy:     req.RequestedBy,
		Title:       req.Title,
		Artist:      req.Artist,
		ProviderURI: req.URI,
		AlbumArtURL: req.ArtURL,
		AddedAt:     time.Now().UTC(),
		Seq:         m.seq.Add(1),
	}

	if err := m.db.AddToQueue(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to add to queue: %w", err)
	}

	m.inflight.Add(1)
	go m.forward(req.HostID, item)

	if err := m.publisher.Publish(ctx, events.EventTypeTrackQueued, item.RoomCode, item.AddedBy, events.TrackQueuedPayload{
		ID:     item.ID.String(),
		Title:  item.Title,
		Artist: item.Artist,
		URI:    item.ProviderURI,
	}); err != nil {
		m.logger.Warn().Err(err).Str("room", item.RoomCode).Msg("Failed to publish event")
	}

	return item, nil
}

func (m *Manager) forward(hostID string, item *models.QueuedTrack) {
	defer m.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.provider.Enqueue(ctx, hostID, item.ProviderURI); err != nil {
		m.logger.Warn().
			Err(err).
			Str("room", item.RoomCode).
			Str("uri", item.ProviderURI).
			Msg("Provider did not accept queued track")
		return
	}
	m.logger.Debug().Str("room", item.RoomCode).Str("uri", item.ProviderURI).Msg("Track queued on provider")
}

// Reconcile drops the oldest pending entry once the provider reports it
// playing. It reports whether an entry was removed.
func (m *Manager) Reconcile(ctx context.Context, roomCode, currentTrackID string) (bool, error) {
	if currentTrackID == "" {
		return false, nil
	}

	oldest, err := m.db.OldestQueued(ctx, roomCode)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read queue: %w", err)
	}

	if spotify.TrackIDFromURI(oldest.ProviderURI) != currentTrackID {
		return false, nil
	}

	if err := m.db.DeleteQueued(ctx, oldest.ID.String()); err != nil {
		return false, fmt.Errorf("failed to remove queued track: %w", err)
	}
	return true, nil
}

// List returns the room's pending tracks, oldest first.
func (m *Manager) List(ctx context.Context, roomCode string) ([]*models.QueuedTrack, error) {
	items, err := m.db.GetQueue(ctx, roomCode)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	return items, nil
}

// Wait blocks until background provider calls have finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}
