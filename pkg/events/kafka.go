package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	EventTypeRoomCreated        EventType = "room_created"
	EventTypeRoomClosed         EventType = "room_closed"
	EventTypeSettingsUpdated    EventType = "settings_updated"
	EventTypeTrackQueued        EventType = "track_queued"
	EventTypeVoteRegistered     EventType = "vote_registered"
	EventTypeTrackSkipped       EventType = "track_skipped"
	EventTypeParticipantJoined  EventType = "participant_joined"
	EventTypeParticipantLeft    EventType = "participant_left"
	EventTypePlaybackControlled EventType = "playback_controlled"
)

type Event struct {
	Type      EventType       `json:"type"`
	RoomCode  string          `json:"room_code"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Publisher announces room activity to every instance of the service.
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, roomCode, userID string, payload interface{}) error
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, roomCode, userID string, payload interface{}) (Event, error) {
	event := Event{
		Type:      eventType,
		RoomCode:  roomCode,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		event.Payload = data
	}
	return event, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaClient struct {
	writer messageWriter
	reader messageReader
	logger zerolog.Logger
}

// NewKafkaClient publishes to and consumes from topic. Every client joins its
// own consumer group, prefixed with groupID, so each instance receives every
// event for the sockets it serves.
func NewKafkaClient(brokers []string, topic string, groupID string, logger zerolog.Logger) *KafkaClient {
	// events of one room share a key so they stay ordered on one partition
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     broadcastGroupID(groupID),
		StartOffset: kafka.LastOffset,
	})

	return &KafkaClient{
		writer: writer,
		reader: reader,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

func broadcastGroupID(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, host, uuid.NewString()[:8])
}

func (k *KafkaClient) Publish(ctx context.Context, eventType EventType, roomCode, userID string, payload interface{}) error {
	event, err := NewEvent(eventType, roomCode, userID, payload)
	if err != nil {
		return err
	}

	messageJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(roomCode),
		Value: messageJSON,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// ConsumeEvents feeds every event on the topic to handler until ctx is done.
// Undecodable messages are skipped.
func (k *KafkaClient) ConsumeEvents(ctx context.Context, handler func(Event) error) error {
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			k.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping undecodable event")
			continue
		}

		if err := handler(event); err != nil {
			return fmt.Errorf("failed to handle event: %w", err)
		}
	}
}

func (k *KafkaClient) Close() error {
	return errors.Join(k.writer.Close(), k.reader.Close())
}

// Event payload types
type RoomPayload struct {
	GuestCanControl bool `json:"guest_can_control"`
	VotesToSkip     int  `json:"votes_to_skip"`
}

type TrackQueuedPayload struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URI    string `json:"uri"`
}

type VotePayload struct {
	TrackID  string `json:"track_id"`
	Count    int    `json:"count"`
	Required int    `json:"required"`
}

type TrackSkippedPayload struct {
	TrackID string `json:"track_id"`
	// "vote" when the quorum was reached, "control" for a direct skip
	Cause string `json:"cause"`
}

type PlaybackPayload struct {
	Action string `json:"action"`
}
