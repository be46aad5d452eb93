package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/arcade-count-bot/internal/arcade"
	"github.com/park285/arcade-count-bot/internal/command"
	appcfg "github.com/park285/arcade-count-bot/internal/config"
	"github.com/park285/arcade-count-bot/internal/dispatch"
	"github.com/park285/arcade-count-bot/internal/msgcat"
	"github.com/park285/arcade-count-bot/internal/napcat"
	"github.com/park285/arcade-count-bot/internal/obslog"
	"github.com/park285/arcade-count-bot/internal/store"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("env file %s: %v", *envFile, err)
	}

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bot_stopped_with_error", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
	logger.Info("bot_stopped")
}

func run(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) error {
	opts := store.Options{
		Backend:        cfg.StoreBackend,
		DataFile:       cfg.DataFile,
		RedisURL:       cfg.RedisURL,
		RedisKeyPrefix: cfg.RedisKeyPrefix,
		SQLitePath:     cfg.SQLitePath,
		DatabaseURL:    cfg.DatabaseURL,
	}
	if cfg.PersistCursor {
		opts.CursorFile = cfg.CursorFile
	}
	backend, err := store.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer backend.Close()

	reg := arcade.NewRegistry(backend,
		arcade.WithLogger(logger),
		arcade.WithLocation(cfg.Location),
		arcade.WithOverwrite(cfg.AllowVenueOverwrite),
	)
	// a failed load leaves an empty registry; the next save overwrites storage
	_ = reg.Load(ctx)

	var cursorStore store.CursorStore
	if cfg.PersistCursor {
		cursorStore = backend
	}
	cursor := dispatch.NewCursor(cursorStore)
	if err := cursor.Restore(ctx); err != nil {
		logger.Warn("cursor_restore_failed", zap.Error(err))
	}

	texts, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}

	client := napcat.NewClient(cfg.NapcatBaseURL,
		napcat.WithToken(cfg.NapcatToken),
		napcat.WithTimeout(cfg.RequestTimeout),
		napcat.WithRetry(cfg.RetryAttempts),
	)

	var ws *napcat.WebSocket
	if cfg.SourceMode == "ws" || cfg.EgressMode != "http" {
		ws = napcat.NewWebSocket(cfg.NapcatWSURL,
			napcat.WithWSToken(cfg.NapcatToken),
			napcat.WithPingInterval(cfg.PingInterval),
			napcat.WithWSLogger(logger),
		)
		ws.OnStateChange(func(state napcat.WebSocketState) {
			logger.Info("ws_state", zap.String("state", string(state)))
		})
	}

	var src dispatch.Source
	switch cfg.SourceMode {
	case "ws":
		events := napcat.NewEventStream(ws, 0, logger)
		defer events.Close()
		src = events
	default:
		src = napcat.NewPollSource(client, cfg.GroupChatType)
	}
	egress := napcat.NewEgress(cfg.EgressMode, cfg.EgressDryRun, client, ws, logger)

	handler := command.NewHandler(reg, texts,
		command.WithLocation(cfg.Location),
		command.WithLogger(logger),
	)
	loop := dispatch.NewLoop(src, egress, handler, reg, cursor,
		dispatch.WithBatchSize(cfg.BatchSize),
		dispatch.WithIntervals(cfg.PollInterval, cfg.IdleInterval),
		dispatch.WithCallTimeout(cfg.RequestTimeout),
		dispatch.WithGroupFilter(cfg.GroupAllowed),
		dispatch.WithLogger(logger),
	)

	logger.Info("bot_starting",
		zap.String("source", cfg.SourceMode),
		zap.String("egress", cfg.EgressMode),
		zap.Bool("dryrun", cfg.EgressDryRun),
		zap.String("store", cfg.StoreBackend),
		zap.String("messages_dir", texts.OverrideDir()),
		zap.Int("venues", reg.Len()),
		zap.Int64("cursor", cursor.Last()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if ws != nil {
		g.Go(func() error { return ws.Run(gctx) })
	}
	if cfg.MessagesDir != "" {
		g.Go(func() error {
			if err := texts.Watch(gctx, logger); err != nil {
				logger.Warn("msgcat_watch_disabled", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
