package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jukebox-rooms/internal/auth"
	"github.com/jukebox-rooms/internal/config"
	"github.com/jukebox-rooms/internal/queue"
	"github.com/jukebox-rooms/internal/room"
	"github.com/jukebox-rooms/internal/session"
	"github.com/jukebox-rooms/internal/spotify"
	"github.com/jukebox-rooms/internal/vote"
	"github.com/jukebox-rooms/internal/ws"
	"github.com/jukebox-rooms/pkg/database"
	"github.com/jukebox-rooms/pkg/events"
	"github.com/jukebox-rooms/pkg/jwt"
	"github.com/jukebox-rooms/pkg/logger"
	"github.com/jukebox-rooms/pkg/redis"
)

const (
	authCookieValidity = 30 * 24 * time.Hour
	shutdownTimeout    = 15 * time.Second
)

func main() {
	log := logger.New("info", true)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log = logger.New(cfg.LogLevel, !cfg.Production())

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize MySQL database
	db, err := database.NewMySQLDB(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Initialize Kafka client
	kafkaClient := events.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, log)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Kafka client")
		}
	}()

	// Initialize services
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	spotifyAuth := spotify.NewAuth(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.Spotify.RedirectURI, httpClient)
	tokenStore := redis.NewTokenStore(redisClient, spotifyAuth, log)
	spotifyClient := spotify.NewClient(tokenStore, httpClient, log)

	registry := room.NewRegistry(db, redisClient, log)
	sessions := session.NewBinder(redisClient, registry, cfg.SessionTTL, log)
	votes := vote.NewCoordinator(db, registry, spotifyClient, kafkaClient, log, vote.WithSkipTimeout(cfg.HTTPTimeout))
	queueManager := queue.NewManager(db, spotifyClient, kafkaClient, log, queue.WithEnqueueTimeout(cfg.HTTPTimeout))
	roomService := room.NewService(registry, sessions, votes, queueManager, spotifyClient, kafkaClient, log)

	signer := jwt.NewSigner(cfg.JWTSecret, authCookieValidity)

	// Initialize handlers
	authHandler := auth.NewHandler(spotifyAuth, tokenStore, db, signer, cfg.FrontendURL, cfg.Production(), log)
	roomHandler := room.NewHandler(roomService, log)
	hub := ws.NewHub(registry, cfg.AllowedOrigins, log)

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery(), logger.Middleware(log))

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	router.Use(auth.Identify(signer, cfg.SessionTTL, cfg.Production()))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Redirect legacy Spotify OAuth callback to the API route
	router.GET("/auth/callback", func(c *gin.Context) {
		// Preserve query parameters when redirecting
		dest := "/api/v1/auth/callback"
		if raw := c.Request.URL.RawQuery; raw != "" {
			dest += "?" + raw
		}
		c.Redirect(http.StatusTemporaryRedirect, dest)
	})

	v1 := router.Group("/api/v1")
	authHandler.RegisterRoutes(v1)
	roomHandler.RegisterRoutes(v1, auth.RequireHost(tokenStore))
	v1.GET("/ws/:code", hub.HandleWebSocket)

	// Serve frontend static files and SPA fallback
	router.NoRoute(func(c *gin.Context) {
		// Prevent directory traversal
		cleanPath := filepath.Clean("/" + c.Request.URL.Path)
		filePath := filepath.Join("frontend/dist", cleanPath)
		if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
			c.File(filePath)
			return
		}
		// Fallback to index.html for client-side routing
		c.File("frontend/dist/index.html")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := hub.Run(ctx, kafkaClient); err != nil {
			log.Error().Err(err).Msg("Event consumer stopped")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("port", cfg.Port).Msg("Server starting")
	if err := serve(ctx, srv, shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
	log.Info().Msg("Shutting down")
	stop()

	// Let in-flight provider enqueues finish before the clients close.
	queueManager.Wait()
}
