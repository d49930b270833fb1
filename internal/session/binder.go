// Package session remembers which room a browser session belongs to.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jukebox-rooms/pkg/database"
	"github.com/jukebox-rooms/pkg/models"
)

const sessionKeyPrefix = "session:"

var ErrEmptyIdentity = errors.New("session identity is required")

// Rooms is what the binder needs from the room registry.
type Rooms interface {
	FindByCode(ctx context.Context, code string) (*models.Room, error)
	DeleteByHost(ctx context.Context, hostID string) ([]string, error)
}

// Binder maps a session identity to a room code. Bindings expire with the
// session and may outlive their room.
type Binder struct {
	client *redis.Client
	rooms  Rooms
	ttl    time.Duration
	logger zerolog.Logger
}

func NewBinder(client *redis.Client, rooms Rooms, ttl time.Duration, logger zerolog.Logger) *Binder {
	return &Binder{
		client: client,
		rooms:  rooms,
		ttl:    ttl,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

func sessionKey(identity string) string {
	return sessionKeyPrefix + identity
}

func (b *Binder) Bind(ctx context.Context, identity, roomCode string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if err := b.client.Set(ctx, sessionKey(identity), roomCode, b.ttl).Err(); err != nil {
		return fmt.Errorf("failed to bind session: %w", err)
	}
	return nil
}

// Resolve returns the room the session is bound to. A binding whose room is
// gone resolves to nothing and is dropped.
func (b *Binder) Resolve(ctx context.Context, identity string) (*models.Room, bool, error) {
	if identity == "" {
		return nil, false, nil
	}

	code, err := b.client.Get(ctx, sessionKey(identity)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to resolve session: %w", err)
	}

	room, err := b.rooms.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			b.logger.Debug().Str("room", code).Msg("Dropping binding to a closed room")
			b.drop(ctx, identity)
			return nil, false, nil
		}
		return nil, false, err
	}

	// sliding expiry
	if err := b.client.Expire(ctx, sessionKey(identity), b.ttl).Err(); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to extend session")
	}
	return room, true, nil
}

// Unbind removes the session's binding. When the session belongs to the host
// of the bound room, the host's rooms are closed. It returns the codes of
// closed rooms.
func (b *Binder) Unbind(ctx context.Context, identity string) ([]string, error) {
	room, ok, err := b.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	b.drop(ctx, identity)

	if !ok || room.HostID != identity {
		return nil, nil
	}

	closed, err := b.rooms.DeleteByHost(ctx, identity)
	if err != nil {
		return nil, err
	}
	b.logger.Info().Str("host", identity).Strs("rooms", closed).Msg("Host left, rooms closed")
	return closed, nil
}

func (b *Binder) drop(ctx context.Context, identity string) {
	if err := b.client.Del(ctx, sessionKey(identity)).Err(); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to drop session binding")
	}
}
