package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/picklo/blob"
	"github.com/wfunc/picklo/broadcast"
	"github.com/wfunc/picklo/config"
	"github.com/wfunc/picklo/engine"
	"github.com/wfunc/picklo/entitlement"
	"github.com/wfunc/picklo/hand"
	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/monitor"
	"github.com/wfunc/picklo/persistence"
	"github.com/wfunc/picklo/room"
	"github.com/wfunc/picklo/rpc"
	"github.com/wfunc/picklo/server"
	"github.com/wfunc/picklo/services"
	"github.com/wfunc/picklo/timer"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		panic("failed to load .env: " + err.Error())
	}

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := broadcast.NewHub(64)
	defer hub.Close()

	// Initialize Database
	var store persistence.Store
	switch cfg.Database.Driver {
	case "memory":
		store = persistence.NewMemoryStore(hub)
		logger.Log.Warn("Using in-memory store; state is lost on restart.")
	default:
		opts := persistence.PostgresOptions{
			Host:            cfg.Database.Postgres.Host,
			Port:            cfg.Database.Postgres.Port,
			User:            cfg.Database.Postgres.User,
			Password:        cfg.Database.Postgres.Password,
			DBName:          cfg.Database.Postgres.DBName,
			SSLMode:         cfg.Database.Postgres.SSLMode,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}
		db, err := persistence.NewGormPostgreSQL(opts)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := db.Migrate(cfg.Database.MigrationsPath, cfg.Database.AutoMigrate); err != nil {
			logger.Log.Fatalf("Failed to migrate database: %v", err)
		}
		logger.Log.Info("Database connection successful.")

		listener, err := persistence.NewChangeListener(opts.DSN(), hub)
		if err != nil {
			logger.Log.Fatalf("Failed to listen for changes: %v", err)
		}
		defer listener.Close()
		go listener.Run(ctx)
		store = db
	}
	defer store.Close()

	blobs, err := blob.NewOSStore(cfg.Storage.Dir, cfg.Server.PublicBaseURL+cfg.Storage.PublicPath)
	if err != nil {
		logger.Log.Fatalf("Failed to open blob storage: %v", err)
	}

	mon := monitor.NewMonitor("picklo")
	timers := timer.NewManager(100 * time.Millisecond)
	defer timers.Stop()

	match := engine.MatchConfig{
		HandSize:        cfg.Match.HandSize,
		RoundCount:      cfg.Match.RoundCount,
		RoundDuration:   cfg.Match.RoundDuration,
		DisplayDelay:    cfg.Match.DisplayDelay,
		FreeRoundLimit:  cfg.Match.FreeRoundLimit,
		AllowVoteChange: cfg.Match.AllowVoteChange,
		RejectSelfVote:  cfg.Match.RejectSelfVote,
		Readiness:       engine.Readiness(cfg.Match.Readiness),
	}
	rooms := room.NewRegistry(store, mon)
	hands := hand.New(store, blobs, mon, match.HandSize, cfg.Match.UploadConcurrency)
	scores := services.NewScoreService(store)
	e := engine.New(store, rooms, hands, scores, entitlement.NewRoomFlag(store), match,
		engine.WithTimers(timers),
		engine.WithMonitor(mon),
	)

	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewRoundService(e, store, scores), mon)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}

	// Initialize Game Server
	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, server.Deps{
		Engine:   e,
		Rooms:    rooms,
		Hands:    hands,
		Scores:   scores,
		Hub:      hub,
		Blobs:    blobs,
		Monitor:  mon,
		RPC:      rpcServer,
		BlobPath: cfg.Storage.PublicPath,
		Resync:   30 * time.Second,
	})

	statsTimer := timers.AddTimer(time.Minute, time.Minute, func() {
		logger.Log.Infow("server stats", "sessions", gameServer.Sessions().Count(), "watched_rooms", hub.Rooms())
		mon.SetWatchedRooms(hub.Rooms())
	})

	go func() {
		<-ctx.Done()
		logger.Log.Info("Shutting down.")
		timers.RemoveTimer(statsTimer)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gameServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warnf("Shutdown: %v", err)
		}
	}()

	// Start Server
	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
