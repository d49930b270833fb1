package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jukebox-rooms/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

type MySQLDB struct {
	*gorm.DB
}

func NewMySQLDB(host, port, user, password, dbname string, log zerolog.Logger) (*MySQLDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		user, password, host, port, dbname)

	db, err := Open(mysql.Open(dsn), logger.Warn, log)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Open connects through any gorm dialector and migrates the schema. Tests use
// it with the sqlite driver.
func Open(dialector gorm.Dialector, level logger.LogLevel, log zerolog.Logger) (*MySQLDB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := autoMigrate(db, log); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &MySQLDB{DB: db}, nil
}

func autoMigrate(db *gorm.DB, log zerolog.Logger) error {
	log.Info().Msg("Running database migrations")

	return db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.QueuedTrack{},
		&models.SkipVote{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// User operations
func (db *MySQLDB) UpsertUserBySpotifyID(ctx context.Context, user *models.User) (*models.User, error) {
	var existing models.User
	err := db.WithContext(ctx).First(&existing, "spotify_id = ?", user.SpotifyID).Error
	if err == nil {
		existing.DisplayName = user.DisplayName
		existing.Email = user.Email
		return &existing, db.WithContext(ctx).Save(&existing).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return user, db.WithContext(ctx).Create(user).Error
}

func (db *MySQLDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// Room operations

// ReplaceHostRoom deletes every room the host still owns, together with their
// votes and queued tracks, and inserts room in the same transaction.
func (db *MySQLDB) ReplaceHostRoom(ctx context.Context, room *models.Room) ([]string, error) {
	var replaced []string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		codes, err := deleteHostRooms(tx, room.HostID)
		if err != nil {
			return err
		}
		replaced = codes
		return tx.Create(room).Error
	})
	return replaced, err
}

func (db *MySQLDB) RoomCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.Room{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *MySQLDB) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	if err := db.WithContext(ctx).First(&room, "code = ?", code).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (db *MySQLDB) GetLatestRoomByHost(ctx context.Context, hostID string) (*models.Room, error) {
	var room models.Room
	if err := db.WithContext(ctx).Where("host_id = ?", hostID).
		Order("created_at DESC").
		First(&room).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (db *MySQLDB) UpdateRoomSettings(ctx context.Context, code string, guestCanControl bool, votesToSkip int) error {
	res := db.WithContext(ctx).Model(&models.Room{}).Where("code = ?", code).Updates(map[string]interface{}{
		"guest_can_control": guestCanControl,
		"votes_to_skip":     votesToSkip,
		"updated_at":        time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRoomsByHost removes the host's rooms with their votes and queue and
// returns the codes that were deleted.
func (db *MySQLDB) DeleteRoomsByHost(ctx context.Context, hostID string) ([]string, error) {
	var codes []string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		codes, err = deleteHostRooms(tx, hostID)
		return err
	})
	return codes, err
}

func deleteHostRooms(tx *gorm.DB, hostID string) ([]string, error) {
	var codes []string
	if err := tx.Model(&models.Room{}).Where("host_id = ?", hostID).Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, nil
	}
	if err := tx.Where("room_code IN ?", codes).Delete(&models.SkipVote{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("room_code IN ?", codes).Delete(&models.QueuedTrack{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("host_id = ?", hostID).Delete(&models.Room{}).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// Queue operations
func (db *MySQLDB) AddToQueue(ctx context.Context, item *models.QueuedTrack) error {
	return db.WithContext(ctx).Create(item).Error
}

func (db *MySQLDB) GetQueue(ctx context.Context, roomCode string) ([]*models.QueuedTrack, error) {
	var items []*models.QueuedTrack
	if err := db.WithContext(ctx).Where("room_code = ?", roomCode).
		Order("added_at ASC, seq ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (db *MySQLDB) OldestQueued(ctx context.Context, roomCode string) (*models.QueuedTrack, error) {
	var item models.QueuedTrack
	if err := db.WithContext(ctx).Where("room_code = ?", roomCode).
		Order("added_at ASC, seq ASC").
		First(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (db *MySQLDB) DeleteQueued(ctx context.Context, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&models.QueuedTrack{}).Error
}

// Vote operations

// RecordVote purges the room's votes for any track other than trackID, stores
// the vote unless the voter already voted for trackID, and returns the number
// of votes for trackID. All of it runs in one transaction.
func (db *MySQLDB) RecordVote(ctx context.Context, vote *models.SkipVote) (int, error) {
	var total int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_code = ? AND track_id <> ?", vote.RoomCode, vote.TrackID).
			Delete(&models.SkipVote{}).Error; err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&models.SkipVote{}).
			Where("room_code = ? AND voter_identity = ? AND track_id = ?", vote.RoomCode, vote.VoterIdentity, vote.TrackID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 {
			if err := tx.Create(vote).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
				return err
			}
		}

		return tx.Model(&models.SkipVote{}).
			Where("room_code = ? AND track_id = ?", vote.RoomCode, vote.TrackID).
			Count(&total).Error
	})
	return int(total), err
}

func (db *MySQLDB) CountVotes(ctx context.Context, roomCode, trackID string) (int, error) {
	var total int64
	if err := db.WithContext(ctx).Model(&models.SkipVote{}).
		Where("room_code = ? AND track_id = ?", roomCode, trackID).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

func (db *MySQLDB) DeleteVotesForTrack(ctx context.Context, roomCode, trackID string) error {
	return db.WithContext(ctx).Where("room_code = ? AND track_id = ?", roomCode, trackID).
		Delete(&models.SkipVote{}).Error
}
