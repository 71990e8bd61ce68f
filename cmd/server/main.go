package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sheikh-saqib/offline-payments-sync/internal/api"
	"github.com/sheikh-saqib/offline-payments-sync/internal/auth"
	"github.com/sheikh-saqib/offline-payments-sync/internal/config"
	"github.com/sheikh-saqib/offline-payments-sync/internal/events"
	"github.com/sheikh-saqib/offline-payments-sync/internal/events/kafka"
	"github.com/sheikh-saqib/offline-payments-sync/internal/events/redisstream"
	interfaces "github.com/sheikh-saqib/offline-payments-sync/internal/interfaces"
	"github.com/sheikh-saqib/offline-payments-sync/internal/ledger"
	"github.com/sheikh-saqib/offline-payments-sync/internal/logger"
	"github.com/sheikh-saqib/offline-payments-sync/internal/storage/memory"
	"github.com/sheikh-saqib/offline-payments-sync/internal/storage/postgres"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a bearer token for the given owner id and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	appLog := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat, "transfer-server")
	authenticator := auth.NewAuthenticator(cfg.JWTSecret)

	if *issueToken != "" {
		token, err := authenticator.IssueToken(*issueToken, *tokenTTL)
		if err != nil {
			appLog.Fatal("failed to issue token", "error", err)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openLedgerStore(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal("failed to initialise ledger store", "error", err)
	}
	defer closeStore()

	var opts []ledger.Option
	publisher, closePublishers := openPublishers(ctx, cfg, appLog)
	defer closePublishers()
	if publisher != nil {
		opts = append(opts, ledger.WithPublisher(publisher, cfg.KafkaTopic))
	}

	ledgerService := ledger.NewLedger(store, opts...)
	server := api.NewServer(ledgerService, authenticator, appLog, api.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLog.Info("server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", "error", err)
	}
}

// openLedgerStore uses Postgres when DATABASE_URL is set and a seeded
// in-memory store otherwise.
func openLedgerStore(ctx context.Context, cfg *config.ServerConfig, appLog *log.Logger) (interfaces.LedgerStore, func(), error) {
	seeds, err := config.ParseSeedAccounts(cfg.SeedAccounts)
	if err != nil {
		return nil, nil, err
	}

	if cfg.DatabaseURL == "" {
		store := memory.NewMemoryLedgerStore()
		for _, account := range seeds {
			if err := store.SeedAccount(ctx, account); err != nil {
				return nil, nil, err
			}
		}
		appLog.Warn("DATABASE_URL not set, using in-memory ledger", "seeded_accounts", len(seeds))
		return store, func() {}, nil
	}

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, nil, err
	}

	store := postgres.NewPostgresLedgerStore(db)
	for _, account := range seeds {
		if err := store.SeedAccount(ctx, account); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	appLog.Info("connected to postgres", "seeded_accounts", len(seeds))
	return store, func() { db.Close() }, nil
}

// openPublishers returns nil when no event sink is configured.
func openPublishers(ctx context.Context, cfg *config.ServerConfig, appLog *log.Logger) (interfaces.EventPublisher, func()) {
	var fanout events.Fanout
	var closers []io.Closer

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers)
		fanout = append(fanout, publisher)
		closers = append(closers, publisher)
		appLog.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if cfg.RedisAddr != "" {
		publisher, err := redisstream.NewPublisher(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Warn("redis event stream disabled", "error", err)
		} else {
			fanout = append(fanout, publisher)
			closers = append(closers, publisher)
			appLog.Info("publishing events to redis stream", "addr", cfg.RedisAddr, "stream", cfg.KafkaTopic)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				appLog.Warn("failed to close event publisher", "error", err)
			}
		}
	}

	switch len(fanout) {
	case 0:
		return nil, closeAll
	case 1:
		return fanout[0], closeAll
	}
	return fanout, closeAll
}
