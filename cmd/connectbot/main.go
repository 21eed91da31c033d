package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/ngconnect/connectbot/internal/bot"
	"github.com/ngconnect/connectbot/internal/buildinfo"
	"github.com/ngconnect/connectbot/internal/config"
	"github.com/ngconnect/connectbot/internal/crypto"
	"github.com/ngconnect/connectbot/internal/database"
	"github.com/ngconnect/connectbot/internal/engine"
	"github.com/ngconnect/connectbot/internal/geo"
	"github.com/ngconnect/connectbot/internal/logger"
	"github.com/ngconnect/connectbot/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("connectbot: %v", err)
	}
}

func run() error {
	startedAt := time.Now()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	log.Printf("loading config: %s", cfgPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg); err != nil {
		return err
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	logger.L.With("component", "app").Info("starting",
		slog.String("event", "start"),
		slog.String("version", buildinfo.Version),
		slog.String("commit", buildinfo.Commit),
	)

	cipher, err := buildCipher(cfg)
	if err != nil {
		return err
	}

	if err := database.RunMigrations(cfg.Database); err != nil {
		return err
	}
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := storage.NewUserStore(db)
	resolver := geo.NewNominatimResolver(cfg.Geo)
	eng := engine.New(resolver, cipher, store)

	b, err := bot.New(cfg, eng, store)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.L.With("component", "app").Info("app ready",
		slog.String("event", "ready"),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)

	err = b.Run(ctx)

	logger.L.With("component", "app").Info("shutting down...",
		slog.String("event", "shutdown"),
	)
	return err
}

// buildCipher constructs the contact-record cipher. Without a configured key a
// fresh one is generated and surfaced to the operator; records sealed under it
// cannot be read after a restart unless the key is saved.
func buildCipher(cfg *config.Config) (*crypto.CipherBox, error) {
	key := cfg.Crypto.Key
	if key == "" {
		generated, err := crypto.Generate()
		if err != nil {
			return nil, err
		}
		key = generated
		logger.SEC.LogAttrs(logger.Background(), slog.LevelWarn, "encryption key generated",
			slog.String("event", "crypto.key_generated"),
			slog.String("key", generated),
		)
	}
	return crypto.New(key)
}
