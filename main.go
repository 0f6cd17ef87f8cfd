package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"match-service/config"
	"match-service/internal/constants"
	"match-service/internal/game"
	"match-service/internal/handlers"
	"match-service/internal/matchmaking"
	"match-service/internal/middleware"
	"match-service/internal/reconciler"
	"match-service/internal/repository"
	"match-service/internal/session"
	"match-service/internal/usercache"
	"match-service/pkg/cache"
	"match-service/pkg/database"
	"match-service/pkg/messaging"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
)

func main() {
	cfg := config.Load()
	log.Println("Configuration loaded")

	pgClient, err := database.NewPostgresClient(&cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	log.Println("Connected to PostgreSQL")
	defer pgClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := pgClient.InitSchema(ctx); err != nil {
		log.Printf("Warning: Failed to initialize PostgreSQL schema: %v", err)
	} else {
		log.Println("PostgreSQL schema initialized")
	}
	cancel()

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")
	defer redisClient.Close()

	rabbitClient, err := messaging.NewRabbitMQClient(&cfg.RabbitMQ)
	if err != nil {
		log.Printf("Warning: Failed to connect to RabbitMQ: %v", err)
		rabbitClient = nil
	} else {
		log.Println("Connected to RabbitMQ")
		defer rabbitClient.Close()
	}

	db := pgClient.GetDB()
	matchRepo := repository.NewMatchRepository(db)
	answerRepo := repository.NewAnswerRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	userRepo := repository.NewUserRepository(db)
	statsRepo := repository.NewStatsRepository(db)

	sessions := session.NewStore(redisClient.GetClient())
	users := usercache.New(userRepo, 5*time.Minute)

	var publisher reconciler.Publisher
	if rabbitClient != nil {
		publisher = rabbitClient
	}
	rec := reconciler.New(matchRepo, answerRepo, sessions, statsRepo, publisher)

	queue := matchmaking.NewQueue(&cfg.Matchmaking)
	var mmPublisher matchmaking.Publisher
	if rabbitClient != nil {
		mmPublisher = rabbitClient
	}
	mmService := matchmaking.NewService(queue, matchRepo, questionRepo, sessions, mmPublisher)

	manager := game.NewManager(matchRepo, questionRepo, users, sessions, rec, matchRepo, mmService)
	hub := game.NewHub(manager)
	go hub.Run()
	log.Println("Game hub started")

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Matchmaking.ProcessInterval),
		gocron.NewTask(func() {
			jobCtx, jobCancel := context.WithTimeout(context.Background(), cfg.Matchmaking.ProcessInterval)
			defer jobCancel()
			if created := mmService.Process(jobCtx); created > 0 {
				log.Printf("Matchmaking pass created %d matches", created)
			}
		}),
	)
	if err != nil {
		log.Fatalf("Failed to schedule matchmaking pass: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Matchmaking.SweepInterval),
		gocron.NewTask(func() {
			if removed := mmService.Sweep(); removed > 0 {
				log.Printf("Queue sweep removed %d expired entries", removed)
			}
		}),
	)
	if err != nil {
		log.Fatalf("Failed to schedule queue sweep: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			jobCtx, jobCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer jobCancel()
			expired, err := matchRepo.ExpireStaleChallenges(jobCtx, constants.ChallengeTTL)
			if err != nil {
				log.Printf("Failed to expire stale challenges: %v", err)
				return
			}
			if expired > 0 {
				log.Printf("Expired %d stale challenges", expired)
			}
		}),
	)
	if err != nil {
		log.Fatalf("Failed to schedule challenge expiry: %v", err)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Printf("Scheduler shutdown: %v", err)
		}
	}()
	log.Println("Scheduler started")

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "match-service",
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pgClient.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "postgres unreachable"})
			return
		}
		if err := redisClient.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "redis unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})

	wsHandler := handlers.NewWebSocketHandler(hub, matchRepo, users)
	matchHandler := handlers.NewMatchHandler(matchRepo, questionRepo, answerRepo, statsRepo, sessions, rec, mmService)
	mmHandler := handlers.NewMatchmakingHandler(queue, mmService, users, cfg.Matchmaking.ProcessInterval)
	userHandler := handlers.NewUserHandler(userRepo, users)

	auth := middleware.Auth(cfg.Auth.JWTSecret)

	router.GET("/ws", auth, wsHandler.HandleWebSocket)

	api := router.Group("/api/v1", auth)
	{
		api.POST("/matchmaking/join", mmHandler.Join)
		api.POST("/matchmaking/leave", mmHandler.Leave)
		api.GET("/matchmaking/status", mmHandler.Status)
		api.POST("/matchmaking/process", mmHandler.Process)

		api.POST("/matches", matchHandler.CreateMatch)
		api.GET("/matches/:id", matchHandler.GetMatch)
		api.POST("/matches/:id/join", matchHandler.JoinChallenge)
		api.POST("/matches/:id/decline", matchHandler.DeclineChallenge)
		api.POST("/matches/:id/complete", matchHandler.Complete)
		api.POST("/matches/:id/complete-async", matchHandler.CompleteAsync)

		api.GET("/players/me/stats", matchHandler.PlayerStats)
		api.PUT("/players/me/profile", userHandler.UpdateProfile)
	}

	httpAddr := ":" + cfg.Server.HTTPPort
	server := &http.Server{
		Addr:    httpAddr,
		Handler: router,
	}

	go func() {
		log.Printf("Match service HTTP server starting on port %s...", cfg.Server.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}

	log.Println("Match service stopped")
}
