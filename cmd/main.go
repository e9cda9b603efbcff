package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/leapingturtlefrog/Friendsly/internal/config"
	"github.com/leapingturtlefrog/Friendsly/internal/domain"
	"github.com/leapingturtlefrog/Friendsly/internal/handler"
	"github.com/leapingturtlefrog/Friendsly/internal/hub"
	"github.com/leapingturtlefrog/Friendsly/internal/middleware"
	internalpubsub "github.com/leapingturtlefrog/Friendsly/internal/pubsub"
	"github.com/leapingturtlefrog/Friendsly/internal/repository"
	"github.com/leapingturtlefrog/Friendsly/internal/service"
	"github.com/leapingturtlefrog/Friendsly/pkg/database"
	"github.com/leapingturtlefrog/Friendsly/pkg/jwt"
	pkglog "github.com/leapingturtlefrog/Friendsly/pkg/log"
	"github.com/leapingturtlefrog/Friendsly/pkg/pubsub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		pkglog.L().Fatal().Err(err).Msg("failed to load config")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "queue-service",
	})
	logger := pkglog.L()

	// Connect to database using GORM
	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := database.AutoMigrate(db, &domain.QueueEntryModel{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Msg("database migration completed")

	queueRepo := repository.NewGormQueueRepository(db)

	// Event bus (redis or kafka, by config)
	bus, err := pubsub.New(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to event bus")
	}
	defer bus.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("event bus connected")

	// Coordinator + notifier
	turnService := service.NewTurnService(queueRepo, bus, cfg.Queue.LeaseTTL)

	wsHub := hub.NewHub()
	go wsHub.Run()

	subscriber := internalpubsub.NewSubscriber(bus, wsHub)

	// Auth
	tokens := jwt.NewManager(cfg.Auth.Secret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	// HTTP + WebSocket
	httpHandler := handler.NewHandler(turnService, authMiddleware)
	wsHandler := handler.NewWSHandler(wsHub, turnService, cfg.WebSocket)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	httpHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r, authMiddleware)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("db_driver", cfg.Database.Driver).Msg("queue-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return subscriber.Run(ctx)
	})

	g.Go(func() error {
		return service.RunLeaseReaper(ctx, turnService, cfg.Queue.ReapInterval)
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down queue-service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("queue-service exited with error")
	}
	logger.Info().Msg("queue-service stopped")
}
