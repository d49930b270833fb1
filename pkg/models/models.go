package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID          uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	SpotifyID   string    `json:"spotify_id" gorm:"size:128;uniqueIndex"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Room is a shared listening session owned by a single host. A host has at
// most one room at a time.
type Room struct {
	ID              uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Code            string    `json:"code" gorm:"size:16;uniqueIndex"`
	HostID          string    `json:"host_id" gorm:"size:64;index"`
	GuestCanControl bool      `json:"guest_can_control"`
	VotesToSkip     int       `json:"votes_to_skip"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// QueuedTrack mirrors a track a participant asked the host's player to queue.
// It is best-effort and is dropped once the provider reports it playing.
type QueuedTrack struct {
	ID          uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	RoomCode    string    `json:"room_code" gorm:"size:16;index"`
	AddedBy     string    `json:"added_by" gorm:"size:64"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	ProviderURI string    `json:"provider_uri"`
	AlbumArtURL string    `json:"album_art_url"`
	AddedAt     time.Time `json:"added_at" gorm:"index"`
	Seq         int64     `json:"-" gorm:"index"`
}

// SkipVote is one participant's vote to skip one track in one room.
type SkipVote struct {
	ID            uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	RoomCode      string    `json:"room_code" gorm:"size:16;uniqueIndex:idx_vote_room_voter_track"`
	VoterIdentity string    `json:"voter_identity" gorm:"size:64;uniqueIndex:idx_vote_room_voter_track"`
	TrackID       string    `json:"track_id" gorm:"size:64;uniqueIndex:idx_vote_room_voter_track"`
	CreatedAt     time.Time `json:"created_at"`
}

// TokenGrant is a token endpoint response normalized for storage.
type TokenGrant struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int
	RefreshToken string
}
