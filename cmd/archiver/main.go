package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dialogport/tg-archiver/internal/archiver"
	"github.com/dialogport/tg-archiver/internal/config"
	"github.com/dialogport/tg-archiver/internal/database"
	"github.com/dialogport/tg-archiver/internal/events"
	"github.com/dialogport/tg-archiver/internal/logger"
	"github.com/dialogport/tg-archiver/internal/media"
	"github.com/dialogport/tg-archiver/internal/migrator"
	"github.com/dialogport/tg-archiver/internal/nats"
	"github.com/dialogport/tg-archiver/internal/publisher"
	"github.com/dialogport/tg-archiver/internal/repository"
	"github.com/dialogport/tg-archiver/internal/telegram"
	"github.com/dialogport/tg-archiver/migrations"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting telegram archiver")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Run database migrations
	mig, err := migrator.NewWithFS(migrations.FS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrator")
	}
	if err := mig.Up(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	if version, dirty, err := mig.Version(ctx, cfg.DatabaseURL); err == nil {
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("database schema is up to date")
	}

	// 5. Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// 6. Connect to NATS
	nc, err := nats.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
	} else {
		defer nc.Close()
		if err := nc.EnsureStream(ctx, nats.StreamName, []string{nats.SubjectPrefix}); err != nil {
			log.Warn().Err(err).Msg("failed to ensure archive stream")
		}
	}

	var pub archiver.EventPublisher
	if nc != nil {
		pub = publisher.NewNATSPublisher(nc.Conn)
	}

	// 7. Initialize repositories
	dialogsRepo := repository.NewDialogsRepository(db.Pool)
	messagesRepo := repository.NewMessagesRepository(db.Pool)
	attachmentsRepo := repository.NewAttachmentsRepository(db.Pool)
	repliesRepo := repository.NewRepliesRepository(db.Pool)

	// 8. Initialize telegram manager
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		log.Fatal().Msg("TG_API_ID and TG_API_HASH are required")
	}

	tgManager := telegram.NewManager(cfg, db.GORM)
	if err := tgManager.Init(ctx); err != nil {
		// not fatal, status stays ERROR/UNAUTHORIZED and QR login remains available
		log.Error().Err(err).Msg("telegram manager init failed")
	}

	tgClient := telegram.NewClient(tgManager)
	defer tgClient.Close()

	// 9. Media storage
	saver, err := media.NewSaver(cfg.ImagesPath, cfg.AttachmentsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare media directories")
	}

	// 10. Dialog filter
	filter, err := archiver.LoadDialogFilter(cfg.DialogFilterFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.DialogFilterFile).Msg("failed to load dialog filter")
	}
	if filter != nil {
		log.Info().Str("file", cfg.DialogFilterFile).Msg("dialog filter loaded")
	}

	// 11. WebSocket hub
	hub := events.NewHub()
	go hub.Run()
	defer hub.Stop()

	// 12. Archiver service & sync manager
	svc := archiver.NewService(
		tgClient,
		dialogsRepo,
		messagesRepo,
		attachmentsRepo,
		repliesRepo,
		saver,
		pub,
		hub,
		filter,
		archiver.Limits{
			MessageFetch:            cfg.MessageFetchLimit,
			ReplyFetch:              cfg.ReplyFetchLimit,
			DebugMessageIDThreshold: cfg.DebugMessageIDThreshold,
		},
		log,
	)
	syncManager := archiver.NewSyncManager(svc, log)
	defer syncManager.Shutdown()

	// 13. HTTP server
	handler := archiver.NewHandler(syncManager, dialogsRepo, messagesRepo, tgClient, hub, log)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: archiver.NewRouter(handler),
	}

	log.Info().Int("port", cfg.HTTPPort).Msg("starting http server")
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// 14. Kick off the initial sync and the scheduler
	if tgClient.GetStatus() == telegram.StatusReady {
		opts := archiver.SyncOptions{DialogID: cfg.DebugDialogID}
		if _, err := syncManager.Start(opts); err != nil {
			log.Error().Err(err).Msg("failed to start initial sync")
		}
	} else {
		log.Warn().Str("status", string(tgClient.GetStatus())).Msg("telegram not ready, skipping initial sync")
	}
	syncManager.Schedule(time.Duration(cfg.SyncIntervalMinutes) * time.Minute)

	// 15. Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	log.Info().Msg("shutdown complete")
}
