package room

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jukebox-rooms/internal/auth"
	"github.com/jukebox-rooms/internal/queue"
	"github.com/jukebox-rooms/internal/spotify"
	"github.com/jukebox-rooms/internal/vote"
)

type Handler struct {
	service *Service
	logger  zerolog.Logger
}

func NewHandler(service *Service, logger zerolog.Logger) *Handler {
	return &Handler{service: service, logger: logger.With().Str("component", "room_http").Logger()}
}

// RegisterRoutes mounts the room API. requireHost guards host-only routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireHost gin.HandlerFunc) {
	rooms := r.Group("/rooms")
	{
		rooms.POST("", requireHost, h.createRoom)
		rooms.POST("/join", h.joinRoom)
		rooms.POST("/leave", h.leaveRoom)
		rooms.GET("/current", h.currentRoom)
		rooms.GET("/:code", h.getRoom)
		rooms.PATCH("/:code", requireHost, h.updateRoom)
		rooms.GET("/:code/now-playing", h.nowPlaying)
		rooms.PUT("/:code/play", h.play)
		rooms.PUT("/:code/pause", h.pause)
		rooms.POST("/:code/skip", h.skip)
		rooms.POST("/:code/previous", h.previous)
		rooms.POST("/:code/vote", h.vote)
		rooms.GET("/:code/search", h.search)
		rooms.GET("/:code/queue", h.getQueue)
		rooms.POST("/:code/queue", h.addToQueue)
	}
}

type CreateRoomRequest struct {
	GuestCanControl bool `json:"guest_can_control"`
	VotesToSkip     int  `json:"votes_to_skip" binding:"required,min=1"`
}

func (h *Handler) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.CreateRoom(c.Request.Context(), auth.UserID(c), req.GuestCanControl, req.VotesToSkip)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, room)
}

type JoinRoomRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) joinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.JoinRoom(c.Request.Context(), auth.Identity(c), req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": room.Code})
}

func (h *Handler) leaveRoom(c *gin.Context) {
	if err := h.service.LeaveRoom(c.Request.Context(), auth.Identity(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentRoom(c *gin.Context) {
	room, ok, err := h.service.CurrentRoom(c.Request.Context(), auth.Identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"code": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": room.Code})
}

func (h *Handler) getRoom(c *gin.Context) {
	state, err := h.service.GetRoomState(c.Request.Context(), c.Param("code"), auth.Identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type UpdateRoomRequest struct {
	GuestCanControl bool `json:"guest_can_control"`
	VotesToSkip     int  `json:"votes_to_skip" binding:"required,min=1"`
}

func (h *Handler) updateRoom(c *gin.Context) {
	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.UpdateRoomSettings(c.Request.Context(), c.Param("code"), auth.UserID(c), req.GuestCanControl, req.VotesToSkip)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) nowPlaying(c *gin.Context) {
	view, err := h.service.NowPlaying(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) play(c *gin.Context) {
	if err := h.service.Play(c.Request.Context(), c.Param("code"), auth.Identity(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) pause(c *gin.Context) {
	if err := h.service.Pause(c.Request.Context(), c.Param("code"), auth.Identity(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) previous(c *gin.Context) {
	if err := h.service.Previous(c.Request.Context(), c.Param("code"), auth.Identity(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) skip(c *gin.Context) {
	result, err := h.service.Skip(c.Request.Context(), c.Param("code"), auth.Identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) vote(c *gin.Context) {
	result, err := h.service.Vote(c.Request.Context(), c.Param("code"), auth.Identity(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) search(c *gin.Context) {
	tracks, connected, err := h.service.Search(c.Request.Context(), c.Param("code"), auth.Identity(c), c.Query("q"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks.Collect(), "connected": connected})
}

func (h *Handler) getQueue(c *gin.Context) {
	items, err := h.service.Queue(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) addToQueue(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.service.AddToQueue(c.Request.Context(), c.Param("code"), auth.Identity(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var apiErr *spotify.APIError

	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, ErrNotInRoom), errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidSettings), errors.Is(err, queue.ErrMissingURI):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, vote.ErrNothingToVoteOn):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, spotify.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "host is not connected to Spotify", "connected": false})
	case errors.As(err, &apiErr) && apiErr.NoActiveDevice():
		c.JSON(http.StatusConflict, gin.H{"error": "no active playback device"})
	case errors.Is(err, spotify.ErrProviderRejected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, spotify.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Spotify is unavailable"})
	case errors.Is(err, ErrCodeExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
