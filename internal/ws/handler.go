package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jukebox-rooms/internal/room"
	"github.com/jukebox-rooms/pkg/events"
	"github.com/jukebox-rooms/pkg/models"
)

const writeWait = 5 * time.Second

// Rooms resolves the room a socket asks to follow.
type Rooms interface {
	FindByCode(ctx context.Context, code string) (*models.Room, error)
}

// Consumer delivers the room event stream.
type Consumer interface {
	ConsumeEvents(ctx context.Context, handler func(events.Event) error) error
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Hub pushes room events to the browsers watching each room.
type Hub struct {
	rooms    Rooms
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu    sync.RWMutex
	conns map[string]map[*conn]struct{}
}

func NewHub(rooms Rooms, allowedOrigins []string, logger zerolog.Logger) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	h := &Hub{
		rooms:  rooms,
		logger: logger.With().Str("component", "ws").Logger(),
		conns:  make(map[string]map[*conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
	return h
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	r, err := h.rooms.FindByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		h.logger.Error().Err(err).Msg("Failed to load room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	cn := &conn{ws: ws}
	h.add(r.Code, cn)
	defer h.remove(r.Code, cn)

	// Inbound frames are ignored; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("room", r.Code).Msg("WebSocket closed")
			}
			return
		}
	}
}

func (h *Hub) add(code string, cn *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[code]; !ok {
		h.conns[code] = make(map[*conn]struct{})
	}
	h.conns[code][cn] = struct{}{}
}

func (h *Hub) remove(code string, cn *conn) {
	h.mu.Lock()
	if set, ok := h.conns[code]; ok {
		delete(set, cn)
		if len(set) == 0 {
			delete(h.conns, code)
		}
	}
	h.mu.Unlock()

	cn.ws.Close()
}

// Connections reports how many sockets follow a room.
func (h *Hub) Connections(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[code])
}

// Dispatch sends an event to every socket following its room.
func (h *Hub) Dispatch(event events.Event) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns[event.RoomCode]))
	for cn := range h.conns[event.RoomCode] {
		targets = append(targets, cn)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	for _, cn := range targets {
		if err := cn.write(data); err != nil {
			h.logger.Debug().Err(err).Str("room", event.RoomCode).Msg("Dropping connection")
			h.remove(event.RoomCode, cn)
		}
	}
}

// Run forwards consumed events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, consumer Consumer) error {
	err := consumer.ConsumeEvents(ctx, func(event events.Event) error {
		h.Dispatch(event)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
