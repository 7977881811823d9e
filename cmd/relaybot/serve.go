package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/go-relay-bot/internal/bot"
	"github.com/tbourn/go-relay-bot/internal/config"
	"github.com/tbourn/go-relay-bot/internal/gateway"
	httpapi "github.com/tbourn/go-relay-bot/internal/http"
	"github.com/tbourn/go-relay-bot/internal/observability"
	"github.com/tbourn/go-relay-bot/internal/repo"
	"github.com/tbourn/go-relay-bot/internal/services"
	"github.com/tbourn/go-relay-bot/internal/shortener"
	"github.com/tbourn/go-relay-bot/internal/sysutil"
)

const (
	pollTimeoutSeconds = 30
	shutdownGrace      = 10 * time.Second
	receiptPurgeEvery  = time.Hour
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Identity{
		Version:    version,
		Bot:        cfg.Bot.Username,
		UpdateMode: cfg.Bot.UpdateMode,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openDB(cfg.DBPath, true)
	if err != nil {
		return err
	}
	defer closeDB(db)

	tg, err := gateway.DialTelegram(gateway.TelegramOptions{
		Token:        cfg.Bot.Token,
		Channel:      cfg.Bot.ChannelUsername,
		DiscussionID: cfg.Bot.DiscussionChatID,
		HTTPClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// Long polls hold the request open for pollTimeoutSeconds.
			Timeout: (pollTimeoutSeconds + 15) * time.Second,
		},
	})
	if err != nil {
		return err
	}
	_, selfUser, selfName := tg.Self()
	cfg.Bot.Username = sysutil.FirstNonEmpty(cfg.Bot.Username, selfUser)
	log.Info().Str("bot", cfg.Bot.Username).Str("channel", cfg.Bot.ChannelUsername).Msg("connected to platform")

	sessions, closeSessions, err := openSessions(ctx, cfg.Session)
	if err != nil {
		return err
	}
	defer closeSessions()

	engine := bot.NewEngine(buildDeps(db, tg, sessions, sysutil.FirstNonEmpty(cfg.Bot.Name, selfName)), bot.Options{
		Timeout:   cfg.Bot.UpdateTimeout,
		ChatRPS:   cfg.Bot.ChatRPS,
		ChatBurst: cfg.Bot.ChatBurst,
	})

	var (
		updates *httpapi.Updates
		source  <-chan gateway.Update
	)
	switch cfg.Bot.UpdateMode {
	case "webhook":
		q := bot.NewQueue(cfg.Bot.Workers * 4)
		updates = &httpapi.Updates{Decoder: tg, Sink: q}
		source = q
		go purgeReceipts(ctx, db, receiptPurgeEvery)
	default:
		source = tg.Poll(ctx, pollTimeoutSeconds)
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, updates, cfg)
	srv := newHTTPServer(cfg, r)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("mode", cfg.Bot.UpdateMode).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := engine.Serve(ctx, source, cfg.Bot.Workers); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("update loop: %w", err)
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
	}
	stop()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("stopped")
	return runErr
}

// buildDeps wires the services behind the engine.
func buildDeps(db *gorm.DB, gw gateway.Gateway, sessions bot.SessionStore, botName string) bot.Deps {
	links := services.Links{BotUsername: cfg.Bot.Username, Channel: cfg.Bot.ChannelUsername}
	identity := &services.IdentityService{DB: db}
	tokens := &services.TokenService{DB: db}

	deps := bot.Deps{
		Gateway:    gw,
		Sessions:   sessions,
		Identities: identity,
		Messages:   tokens,
		Publisher: &services.PublishService{
			DB:           db,
			Gateway:      gw,
			Identity:     identity,
			Tokens:       tokens,
			Links:        links,
			BotName:      botName,
			MaxBodyRunes: cfg.Bot.MaxBodyRunes,
		},
		Router: &services.ReplyRouter{DB: db, Gateway: gw, Identity: identity, Links: links},
		Broadcaster: &services.Broadcaster{
			DB:          db,
			Gateway:     gw,
			Scheduler:   services.TimerScheduler{},
			Links:       links,
			BatchSize:   cfg.Broadcast.BatchSize,
			MaxBatches:  cfg.Broadcast.MaxBatches,
			Interval:    cfg.Broadcast.Interval,
			Limiter:     rate.NewLimiter(rate.Limit(cfg.Broadcast.SendRPS), 1),
			SendTimeout: cfg.Bot.UpdateTimeout,
		},
		Stats:     &services.StatsService{DB: db},
		Operators: bot.NewOperatorSet(cfg.Bot.OperatorIDs...),
		Renderer: &bot.Renderer{
			Panels:     bot.LoadPanels(cfg.Bot.TextsDir),
			Links:      links,
			DisplayCap: cfg.Bot.DisplayCap,
		},
	}
	if cfg.Shortener.URL != "" {
		deps.Shortener = shortener.New(cfg.Shortener.URL, cfg.Shortener.Timeout)
	}
	return deps
}

// openDB opens SQLite, installs query tracing and migrates the schema.
func openDB(path string, tracing bool) (*gorm.DB, error) {
	db, err := repo.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	if tracing {
		if err := repo.EnableTracing(db); err != nil {
			closeDB(db)
			return nil, fmt.Errorf("db tracing: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// openSessions picks the session backend. The returned closer is never nil.
func openSessions(ctx context.Context, sc config.SessionConfig) (bot.SessionStore, func(), error) {
	if sc.Backend != "redis" {
		return bot.NewMemoryStore(), func() {}, nil
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rs, err := bot.NewRedisStore(pctx, sc.RedisAddr, sc.RedisDB, sc.TTL)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

func newHTTPServer(c config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", c.Port),
		Handler:           h,
		ReadTimeout:       c.ReadTimeout,
		ReadHeaderTimeout: c.ReadHeaderTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       c.IdleTimeout,
		MaxHeaderBytes:    c.MaxHeaderBytes,
	}
}

// purgeReceipts drops expired webhook receipts every interval until ctx ends.
func purgeReceipts(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeReceipts(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge receipts")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired webhook receipts removed")
			}
		}
	}
}
