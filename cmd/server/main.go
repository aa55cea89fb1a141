package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collaborative-whiteboard-server/auth"
	"collaborative-whiteboard-server/internal/bus"
	"collaborative-whiteboard-server/internal/collab"
	"collaborative-whiteboard-server/internal/config"
	apperrors "collaborative-whiteboard-server/internal/errors"
	"collaborative-whiteboard-server/internal/integration"
	"collaborative-whiteboard-server/internal/storage"
	"collaborative-whiteboard-server/internal/worker"
	"collaborative-whiteboard-server/internal/ws"
	"collaborative-whiteboard-server/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Initialize Redis
	redis.InitRedis()

	instanceID := uuid.NewString()

	// Cross-instance room event bus. Without Redis every room lives on
	// this instance alone.
	var eventBus bus.RoomEventBus
	if redis.RedisClient != nil {
		redisBus := bus.NewRedisBus(redis.RedisClient, instanceID)
		if err := redisBus.Start(context.Background()); err != nil {
			log.Fatalf("Event bus failed to start: %v", err)
		}
		eventBus = redisBus
	} else {
		eventBus = bus.NewMemoryFleet().Join(instanceID)
	}

	// Worker pool for fire-and-forget platform calls
	pool := worker.NewWorkerPool(4, 10*time.Second)

	platform := integration.NewHTTPClient(
		config.AppConfig.PlatformAddress,
		config.AppConfig.PlatformSecret,
		pool,
	)

	// Room content persistence: the platform by default, the local
	// database when STORAGE_MODE=db.
	var persistence collab.PersistenceClient = platform
	if config.AppConfig.StorageMode == "db" {
		db, err := storage.Connect(storage.ConnectOptions{
			Host:        config.AppConfig.DBHost,
			Port:        config.AppConfig.DBPort,
			User:        config.AppConfig.DBUser,
			Password:    config.AppConfig.DBPassword,
			Name:        config.AppConfig.DBName,
			Environment: config.AppConfig.Environment,
		})
		if err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		defer storage.Close(db)
		persistence = storage.NewStore(db)
	}

	opts := collab.DefaultOptions()
	opts.ContributionWindow = config.AppConfig.ContributionWindow
	opts.SaveInterval = config.AppConfig.SaveInterval
	opts.SaveTimeout = config.AppConfig.SaveTimeout
	opts.SaveFailedAttempts = config.AppConfig.SaveFailedAttempts
	opts.CollaboratorInactivity = config.AppConfig.CollaboratorInactivity
	opts.DebouncedSaveWait = config.AppConfig.DebouncedSaveWait
	opts.DebouncedSaveMaxWait = config.AppConfig.DebouncedSaveMaxWait
	opts.InactivityResetDebounce = config.AppConfig.InactivityResetDebounce
	opts.EnableSaveRequests = config.AppConfig.SaveRequestsEnabled

	collabServer := collab.NewServer(opts, eventBus, platform, persistence, platform)

	// Handshake resolution: local JWT first, platform round trip as
	// fallback.
	collabServer.AddResolveStep(auth.JWTResolveStep(config.AppConfig.JWTSecret))
	collabServer.AddResolveStep(platform.Who)

	// Initialize Gin router
	router := gin.Default()

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}

	if config.AppConfig.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{config.AppConfig.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "instance": instanceID})
	})

	router.GET("/ws", func(ctx *gin.Context) {
		ws.ServeWS(collabServer, ctx.Writer, ctx.Request)
	})

	// internal use routes
	internalAuth := auth.InternalAuthMiddleware(config.AppConfig.InternalSecret)
	router.GET("/internal/rooms", internalAuth, func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, collabServer.Rooms())
	})
	router.GET("/internal/rooms/:id/content", internalAuth, func(ctx *gin.Context) {
		content, ok := collabServer.RoomContent(ctx.Param("id"))
		if !ok {
			apperrors.HandleError(ctx, apperrors.ErrNotFound(nil))
			return
		}
		ctx.JSON(http.StatusOK, content)
	})

	// Server configuration
	serverPort := config.AppConfig.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Printf("Server listening on port %s", serverPort)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Println("Server shutdown error:", err)
	}

	// Flush pending room saves before exiting
	collabServer.Shutdown()
	pool.Shutdown()
	if err := eventBus.Close(); err != nil {
		log.Println("Event bus close error:", err)
	}

	log.Println("Server shutdown complete")
}
