package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/discordgo"

	"ch3fx/internal/api"
	"ch3fx/internal/auth"
	"ch3fx/internal/bot"
	"ch3fx/internal/config"
	"ch3fx/internal/db"
	"ch3fx/internal/exchange"
	"ch3fx/internal/ledger"
	"ch3fx/internal/notify"
	"ch3fx/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadServerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	loc, _ := time.LoadLocation(cfg.Timezone)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("ledger store init failed", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	svc := exchange.NewService(store, cfg.Economy, loc, logger)
	if err := svc.Init(ctx); err != nil {
		logger.Error("exchange init failed", "err", err)
		os.Exit(1)
	}

	if cfg.RunOnce {
		report, err := svc.Tick(ctx, time.Now())
		if err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("run-once tick completed", "regime", report.Regime.Regime, "updated", len(report.Updated))
		return
	}

	hub := notify.NewHub()
	sinks := []notify.Sink{hub}

	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("nats connect failed", "err", err)
			os.Exit(1)
		}
		defer nc.Drain()
		sinks = append(sinks, notify.NewNATSSink(nc, cfg.NATSSubject))
	}

	allow := auth.NewAllowList(cfg.AdminUserIDs, cfg.APIToken)

	var session *discordgo.Session
	if cfg.DiscordToken != "" {
		session, err = discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			logger.Error("discord session init failed", "err", err)
			os.Exit(1)
		}
		sinks = append(sinks, notify.NewDiscordSink(session, cfg.StockChannelID, cfg.TerminalChannelID))
	} else {
		logger.Warn("DISCORD_BOT_TOKEN not set, running without the bot")
	}

	// The notifier must be in place before any command handler can run.
	dispatcher := notify.NewDispatcher(logger, 0, sinks...)
	dispatcher.Start()
	defer dispatcher.Close()
	svc.SetNotifier(dispatcher)

	if session != nil {
		bot.New(svc, session, allow, cfg.ActiveChannelIDs, logger).Attach(session)
		if err := session.Open(); err != nil {
			logger.Error("discord connect failed", "err", err)
			os.Exit(1)
		}
		defer session.Close()
	}

	sched, err := scheduler.New(svc, loc, scheduler.Schedules{
		Tick:      cfg.TickSchedule,
		Dividends: cfg.DividendSchedule,
		Decay:     cfg.DecaySchedule,
	}, logger)
	if err != nil {
		logger.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	// Pay today's dividends if the process was down at the scheduled time.
	if paid, err := sched.RunDividends(ctx); err != nil {
		logger.Error("dividend catch-up failed", "err", err)
	} else if paid {
		logger.Info("dividend catch-up paid")
	}

	server := api.New(logger, allow, svc, hub)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		server.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("ch3fx listening", "addr", cfg.Addr, "store", cfg.StoreBackend, "timezone", cfg.Timezone)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("ch3fx shutdown")
}

func openStore(ctx context.Context, cfg config.ServerConfig) (ledger.Store, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := ledger.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case "redis":
		rdb, err := db.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return ledger.NewRedisStore(rdb, cfg.RedisPrefix), func() { _ = rdb.Close() }, nil
	case "memory":
		return ledger.NewMemoryStore(), func() {}, nil
	default:
		store, err := ledger.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
