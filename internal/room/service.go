package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jukebox-rooms/internal/queue"
	"github.com/jukebox-rooms/internal/session"
	"github.com/jukebox-rooms/internal/spotify"
	"github.com/jukebox-rooms/internal/vote"
	"github.com/jukebox-rooms/pkg/events"
	"github.com/jukebox-rooms/pkg/models"
)

const searchLimit = 10

// ErrNotInRoom rejects room actions from callers not bound to the room.
var ErrNotInRoom = errors.New("join the room first")

// Provider is the playback surface of the host's Spotify account.
type Provider interface {
	CurrentTrack(ctx context.Context, ownerID string) (*spotify.CurrentTrack, error)
	Play(ctx context.Context, ownerID string) error
	Pause(ctx context.Context, ownerID string) error
	SkipNext(ctx context.Context, ownerID string) error
	SkipPrevious(ctx context.Context, ownerID string) error
	Search(ctx context.Context, ownerID, query string, limit int) (spotify.TrackSeq, bool)
	Devices(ctx context.Context, ownerID string) ([]spotify.Device, error)
}

// State is a room as seen by one participant.
type State struct {
	Code            string `json:"code"`
	VotesToSkip     int    `json:"votes_to_skip"`
	GuestCanControl bool   `json:"guest_can_control"`
	IsHost          bool   `json:"is_host"`
}

// NowPlaying is the playback view polled by participants. Track is nil when
// the host is connected but idle; ActiveDevice tells an idle player apart
// from a host without an open player.
type NowPlaying struct {
	Track         *spotify.CurrentTrack `json:"track"`
	Votes         int                   `json:"votes"`
	VotesRequired int                   `json:"votes_required"`
	ActiveDevice  bool                  `json:"active_device"`
}

// TrackRequest is a search hit a participant wants queued.
type TrackRequest struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URI    string `json:"uri" binding:"required"`
	ArtURL string `json:"art_url"`
}

// Service is the entry point for everything a participant does in a room.
type Service struct {
	registry *Registry
	sessions *session.Binder
	votes    *vote.Coordinator
	queue    *queue.Manager
	provider Provider
	events   events.Publisher
	logger   zerolog.Logger
}

func NewService(
	registry *Registry,
	sessions *session.Binder,
	votes *vote.Coordinator,
	queue *queue.Manager,
	provider Provider,
	publisher events.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		registry: registry,
		sessions: sessions,
		votes:    votes,
		queue:    queue,
		provider: provider,
		events:   publisher,
		logger:   logger.With().Str("component", "room").Logger(),
	}
}

// CreateRoom opens a room for an authenticated host and binds the host's
// session to it.
func (s *Service) CreateRoom(ctx context.Context, hostID string, guestCanControl bool, votesToSkip int) (*models.Room, error) {
	room, err := s.registry.Create(ctx, hostID, guestCanControl, votesToSkip)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Bind(ctx, hostID, room.Code); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventTypeRoomCreated, room.Code, hostID, events.RoomPayload{
		GuestCanControl: room.GuestCanControl,
		VotesToSkip:     room.VotesToSkip,
	})
	return room, nil
}

// JoinRoom binds identity to the room with the given code.
func (s *Service) JoinRoom(ctx context.Context, identity, code string) (*models.Room, error) {
	room, err := s.registry.Live(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Bind(ctx, identity, room.Code); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventTypeParticipantJoined, room.Code, identity, nil)
	return room, nil
}

func (s *Service) GetRoomState(ctx context.Context, code, identity string) (*State, error) {
	room, err := s.registry.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return &State{
		Code:            room.Code,
		VotesToSkip:     room.VotesToSkip,
		GuestCanControl: room.GuestCanControl,
		IsHost:          identity != "" && identity == room.HostID,
	}, nil
}

func (s *Service) UpdateRoomSettings(ctx context.Context, code, hostID string, guestCanControl bool, votesToSkip int) (*models.Room, error) {
	room, err := s.registry.UpdateSettings(ctx, code, hostID, guestCanControl, votesToSkip)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventTypeSettingsUpdated, room.Code, hostID, events.RoomPayload{
		GuestCanControl: room.GuestCanControl,
		VotesToSkip:     room.VotesToSkip,
	})
	return room, nil
}

// LeaveRoom unbinds identity. A leaving host closes the room.
func (s *Service) LeaveRoom(ctx context.Context, identity string) error {
	room, ok, err := s.sessions.Resolve(ctx, identity)
	if err != nil {
		return err
	}

	closed, err := s.sessions.Unbind(ctx, identity)
	if err != nil {
		return err
	}

	if ok && len(closed) == 0 {
		s.publish(ctx, events.EventTypeParticipantLeft, room.Code, identity, nil)
	}
	for _, code := range closed {
		s.publish(ctx, events.EventTypeRoomClosed, code, identity, nil)
	}
	return nil
}

// CurrentRoom returns the room identity is bound to, if it still exists.
func (s *Service) CurrentRoom(ctx context.Context, identity string) (*models.Room, bool, error) {
	return s.sessions.Resolve(ctx, identity)
}

// NowPlaying reads the host's playback and settles the pending queue against
// it.
func (s *Service) NowPlaying(ctx context.Context, code string) (*NowPlaying, error) {
	room, err := s.registry.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	track, err := s.provider.CurrentTrack(ctx, room.HostID)
	if err != nil {
		return nil, err
	}

	view := &NowPlaying{Track: track, VotesRequired: room.VotesToSkip}
	if track == nil {
		view.ActiveDevice = s.hasActiveDevice(ctx, room.HostID)
		return view, nil
	}
	view.ActiveDevice = true

	if view.Votes, err = s.votes.Tally(ctx, room.Code, track.ID); err != nil {
		return nil, fmt.Errorf("failed to count votes: %w", err)
	}

	if _, err := s.queue.Reconcile(ctx, room.Code, track.ID); err != nil {
		s.logger.Warn().Err(err).Str("room", room.Code).Msg("Queue reconciliation failed")
	}
	return view, nil
}

func (s *Service) hasActiveDevice(ctx context.Context, hostID string) bool {
	devices, err := s.provider.Devices(ctx, hostID)
	if err != nil {
		s.logger.Debug().Err(err).Str("host", hostID).Msg("Failed to list devices")
		return false
	}
	for _, d := range devices {
		if d.IsActive {
			return true
		}
	}
	return false
}

func (s *Service) Play(ctx context.Context, code, identity string) error {
	return s.control(ctx, code, identity, "play", s.provider.Play)
}

func (s *Service) Pause(ctx context.Context, code, identity string) error {
	return s.control(ctx, code, identity, "pause", s.provider.Pause)
}

func (s *Service) Previous(ctx context.Context, code, identity string) error {
	return s.control(ctx, code, identity, "previous", s.provider.SkipPrevious)
}

func (s *Service) control(ctx context.Context, code, identity, action string, call func(context.Context, string) error) error {
	room, err := s.participant(ctx, code, identity)
	if err != nil {
		return err
	}
	if identity != room.HostID && !room.GuestCanControl {
		return ErrForbidden
	}

	if err := call(ctx, room.HostID); err != nil {
		return err
	}

	s.publish(ctx, events.EventTypePlaybackControlled, room.Code, identity, events.PlaybackPayload{Action: action})
	return nil
}

// Skip skips right away for the host and counts as a vote for anyone else.
func (s *Service) Skip(ctx context.Context, code, identity string) (vote.Result, error) {
	room, err := s.participant(ctx, code, identity)
	if err != nil {
		return vote.Result{}, err
	}
	if identity != room.HostID {
		return s.votes.RegisterVote(ctx, room.Code, identity)
	}

	if err := s.provider.SkipNext(ctx, room.HostID); err != nil {
		return vote.Result{}, err
	}

	s.publish(ctx, events.EventTypeTrackSkipped, room.Code, identity, events.TrackSkippedPayload{Cause: "control"})
	return vote.Result{Required: room.VotesToSkip, Skipped: true}, nil
}

// Vote registers a skip vote, also for the host.
func (s *Service) Vote(ctx context.Context, code, identity string) (vote.Result, error) {
	room, err := s.participant(ctx, code, identity)
	if err != nil {
		return vote.Result{}, err
	}
	return s.votes.RegisterVote(ctx, room.Code, identity)
}

// Search looks tracks up with the host's account. connected is false when the
// host's account could not be used.
func (s *Service) Search(ctx context.Context, code, identity, query string) (spotify.TrackSeq, bool, error) {
	room, err := s.participant(ctx, code, identity)
	if err != nil {
		return nil, false, err
	}
	tracks, connected := s.provider.Search(ctx, room.HostID, query, searchLimit)
	return tracks, connected, nil
}

func (s *Service) AddToQueue(ctx context.Context, code, identity string, track TrackRequest) (*models.QueuedTrack, error) {
	room, err := s.participant(ctx, code, identity)
	if err != nil {
		return nil, err
	}

	item, err := s.queue.Enqueue(ctx, queue.Request{
		RoomCode:    room.Code,
		HostID:      room.HostID,
		RequestedBy: identity,
		Title:       track.Title,
		Artist:      track.Artist,
		URI:         track.URI,
		ArtURL:      track.ArtURL,
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) Queue(ctx context.Context, code string) ([]*models.QueuedTrack, error) {
	room, err := s.registry.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.queue.List(ctx, room.Code)
}

// participant returns the room when identity hosts it or is bound to it.
func (s *Service) participant(ctx context.Context, code, identity string) (*models.Room, error) {
	room, err := s.registry.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if identity != "" && identity == room.HostID {
		return room, nil
	}

	bound, ok, err := s.sessions.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !ok || bound.Code != room.Code {
		return nil, ErrNotInRoom
	}
	return room, nil
}

func (s *Service) publish(ctx context.Context, eventType events.EventType, roomCode, userID string, payload interface{}) {
	if err := s.events.Publish(ctx, eventType, roomCode, userID, payload); err != nil {
		s.logger.Warn().Err(err).Str("room", roomCode).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}
