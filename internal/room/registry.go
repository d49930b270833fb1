package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/jukebox-rooms/pkg/database"
	"github.com/jukebox-rooms/pkg/models"
)

const (
	roomKeyPrefix   = "room:"
	roomCacheTTL    = 24 * time.Hour
	codeLength      = 6
	maxCodeAttempts = 10
)

var (
	// ErrNotFound is database.ErrNotFound so callers outside this package can
	// match it without importing room.
	ErrNotFound        = database.ErrNotFound
	ErrForbidden       = errors.New("only the host can do that")
	ErrInvalidSettings = errors.New("votes_to_skip must be at least 1")
	ErrCodeExhausted   = errors.New("could not generate a unique room code")

	errStaleRead = errors.New("room changed during read")
)

// NormalizeCode makes room codes case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Registry owns rooms. Rooms live in the database and are cached in Redis by
// code. Every write drops the cached copy and bumps the code's version; a
// reader only fills the cache when the version did not move during its
// database read.
type Registry struct {
	db      *database.MySQLDB
	cache   *redis.Client
	logger  zerolog.Logger
	newCode func() string
}

type RegistryOption func(*Registry)

// WithCodeGenerator replaces the random room code generator.
func WithCodeGenerator(gen func() string) RegistryOption {
	return func(r *Registry) { r.newCode = gen }
}

func NewRegistry(db *database.MySQLDB, cache *redis.Client, logger zerolog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		db:      db,
		cache:   cache,
		logger:  logger.With().Str("component", "room_registry").Logger(),
		newCode: generateRoomCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a room for host. Any room the host still had is closed in the
// same transaction, so a host never owns two rooms.
func (r *Registry) Create(ctx context.Context, hostID string, guestCanControl bool, votesToSkip int) (*models.Room, error) {
	if votesToSkip < 1 {
		return nil, ErrInvalidSettings
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := NormalizeCode(r.newCode())

		exists, err := r.db.RoomCodeExists(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to check room code: %w", err)
		}
		if exists {
			continue
		}

		now := time.Now().UTC()
		room := &models.Room{
			ID:              uuid.New(),
			Code:            code,
			HostID:          hostID,
			GuestCanControl: guestCanControl,
			VotesToSkip:     votesToSkip,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		replaced, err := r.db.ReplaceHostRoom(ctx, room)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost a race for the code
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create room: %w", err)
		}

		r.invalidate(ctx, replaced...)
		r.store(ctx, room)
		if len(replaced) > 0 {
			r.logger.Info().Str("host", hostID).Strs("replaced", replaced).Msg("Closed previous rooms of host")
		}
		return room, nil
	}

	return nil, ErrCodeExhausted
}

// FindByCode looks a room up by its case-insensitive code.
func (r *Registry) FindByCode(ctx context.Context, code string) (*models.Room, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}

	if room, ok := r.cached(ctx, code); ok {
		return room, nil
	}

	version, err := r.version(ctx, code)
	if err != nil {
		r.logger.Warn().Err(err).Str("code", code).Msg("Room version read failed")
		return r.live(ctx, code)
	}

	room, err := r.live(ctx, code)
	if err != nil {
		return nil, err
	}

	r.fill(ctx, room, version)
	return room, nil
}

// Live reads a room straight from the database, bypassing the cache. Use it
// where a stale setting would change the outcome.
func (r *Registry) Live(ctx context.Context, code string) (*models.Room, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	return r.live(ctx, code)
}

func (r *Registry) live(ctx context.Context, code string) (*models.Room, error) {
	room, err := r.db.GetRoomByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

// FindLatestByHost returns the host's room.
func (r *Registry) FindLatestByHost(ctx context.Context, hostID string) (*models.Room, error) {
	room, err := r.db.GetLatestRoomByHost(ctx, hostID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

// UpdateSettings changes a room's settings on behalf of hostID.
func (r *Registry) UpdateSettings(ctx context.Context, code, hostID string, guestCanControl bool, votesToSkip int) (*models.Room, error) {
	room, err := r.Live(ctx, code)
	if err != nil {
		return nil, err
	}
	code = room.Code
	if room.HostID != hostID {
		return nil, ErrForbidden
	}
	if votesToSkip < 1 {
		return nil, ErrInvalidSettings
	}

	if err := r.db.UpdateRoomSettings(ctx, code, guestCanControl, votesToSkip); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update room: %w", err)
	}
	r.invalidate(ctx, code)

	room.GuestCanControl = guestCanControl
	room.VotesToSkip = votesToSkip
	return room, nil
}

// DeleteByHost closes every room of host and returns their codes.
func (r *Registry) DeleteByHost(ctx context.Context, hostID string) ([]string, error) {
	codes, err := r.db.DeleteRoomsByHost(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete rooms: %w", err)
	}
	r.invalidate(ctx, codes...)
	return codes, nil
}

func roomKey(code string) string {
	return roomKeyPrefix + code
}

func versionKey(code string) string {
	return roomKeyPrefix + code + ":version"
}

// version returns the code's write counter, empty when it was never written.
func (r *Registry) version(ctx context.Context, code string) (string, error) {
	v, err := r.cache.Get(ctx, versionKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (r *Registry) cached(ctx context.Context, code string) (*models.Room, bool) {
	roomJSON, err := r.cache.Get(ctx, roomKey(code)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("code", code).Msg("Room cache read failed")
		}
		return nil, false
	}

	var room models.Room
	if err := json.Unmarshal(roomJSON, &room); err != nil {
		return nil, false
	}
	return &room, true
}

func (r *Registry) store(ctx context.Context, room *models.Room) {
	roomJSON, err := json.Marshal(room)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, roomKey(room.Code), roomJSON, roomCacheTTL).Err(); err != nil {
		r.logger.Warn().Err(err).Str("code", room.Code).Msg("Failed to cache room")
	}
}

// fill caches room unless the code was written after version was read.
func (r *Registry) fill(ctx context.Context, room *models.Room, version string) {
	roomJSON, err := json.Marshal(room)
	if err != nil {
		return
	}

	key := versionKey(room.Code)
	err = r.cache.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleRead
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, roomKey(room.Code), roomJSON, roomCacheTTL)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
	case errors.Is(err, errStaleRead), errors.Is(err, redis.TxFailedErr):
		r.logger.Debug().Str("code", room.Code).Msg("Room changed during read, not caching")
	default:
		r.logger.Warn().Err(err).Str("code", room.Code).Msg("Failed to cache room")
	}
}

func (r *Registry) invalidate(ctx context.Context, codes ...string) {
	if len(codes) == 0 {
		return
	}
	_, err := r.cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, code := range codes {
			pipe.Del(ctx, roomKey(code))
			pipe.Incr(ctx, versionKey(code))
			pipe.Expire(ctx, versionKey(code), roomCacheTTL)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Strs("codes", codes).Msg("Failed to drop cached rooms")
	}
}

func generateRoomCode() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = charset[rand.Intn(len(charset))]
	}
	return string(code)
}
