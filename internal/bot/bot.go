// Package bot adapts Telegram updates into conversation engine events and
// renders engine replies back into Telegram messages. It owns the bot
// lifecycle: poller selection, middleware chain, routes, and shutdown.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	"log/slog"

	"github.com/ngconnect/connectbot/internal/config"
	"github.com/ngconnect/connectbot/internal/engine"
	"github.com/ngconnect/connectbot/internal/logger"
)

// Counter reports how many users have completed intake.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Bot runs the Telegram front of the intake service.
type Bot struct {
	cfg     *config.Config
	engine  *engine.Engine
	counter Counter
	tb      *tele.Bot
}

// New builds the bot, connects to the Telegram API, and registers routes.
func New(cfg *config.Config, eng *engine.Engine, counter Counter) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bot: nil config provided")
	}

	b := &Bot{cfg: cfg, engine: eng, counter: counter}

	poller := buildPoller(cfg)
	settings := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: poller,
		Client: buildHTTPClient(),
		OnError: func(err error, c tele.Context) {
			attrs := []slog.Attr{slog.String("err", logger.SanitizeLimit(err.Error(), 256))}
			if c != nil {
				if sender := c.Sender(); sender != nil {
					attrs = append(attrs, slog.Int64("user_id", sender.ID))
				}
			}
			logger.TG.LogAttrs(logger.Background(), slog.LevelError, "tg.handler_error", attrs...)
		},
	}

	buildStart := time.Now()
	tb, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("bot: initialization failed: %w", err)
	}
	b.tb = tb
	buildTook := time.Since(buildStart)

	switch p := poller.(type) {
	case *tele.Webhook:
		logger.TG.LogAttrs(logger.Background(), slog.LevelInfo, "webhook mode",
			slog.String("event", "mode"),
			slog.String("mode", "webhook"),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
			slog.Duration("duration", logger.RoundMS(buildTook)),
		)
	default:
		logger.TG.LogAttrs(logger.Background(), slog.LevelInfo, "polling mode",
			slog.String("event", "mode"),
			slog.String("mode", "polling"),
			slog.Int("timeout_seconds", cfg.Telegram.LongPollTimeoutSeconds),
			slog.Duration("duration", logger.RoundMS(buildTook)),
		)
		if strings.EqualFold(cfg.Telegram.RunMode, config.RunModeLongpoll) {
			if err := deleteWebhook(cfg.Telegram.Token); err != nil {
				logger.TG.LogAttrs(logger.Background(), slog.LevelWarn, "failed to delete webhook",
					slog.String("event", "delete_webhook"),
					slog.String("err", err.Error()),
				)
			}
		}
	}

	b.wire()
	return b, nil
}

// wire installs the middleware chain and binds every route.
func (b *Bot) wire() {
	b.tb.Use(recoverMiddleware)

	interval := time.Duration(b.cfg.RateLimit.IntervalMS) * time.Millisecond
	if interval > 0 {
		exclude := make(map[string]struct{}, len(b.cfg.RateLimit.ExcludeUpdates))
		for _, kind := range b.cfg.RateLimit.ExcludeUpdates {
			exclude[strings.ToLower(kind)] = struct{}{}
		}
		b.tb.Use(rateLimitMiddleware(rateLimitOptions{
			Interval: interval,
			Exclude:  exclude,
		}))
	}

	b.tb.Use(loggerMiddleware)

	cmds := b.commands()
	for name, cmd := range cmds {
		h := cmd.Handler
		if cmd.AdminOnly {
			h = adminOnly(b.cfg.Telegram.AdminID, h)
		}
		b.tb.Handle(name, h)
	}
	b.tb.Handle(tele.OnCallback, b.handleCallback)
	b.tb.Handle(tele.OnLocation, b.handleLocation)
	b.tb.Handle(tele.OnText, b.handleText)

	if err := b.tb.SetCommands(menuCommands(cmds)); err != nil {
		logger.TG.LogAttrs(logger.Background(), slog.LevelError, "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
	}

	logger.TG.LogAttrs(logger.Background(), slog.LevelInfo, "tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(cmds)),
	)
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runDone := make(chan struct{})
	go func() {
		b.tb.Start()
		close(runDone)
	}()

	select {
	case <-ctx.Done():
		b.tb.Stop()
		<-runDone
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	case <-runDone:
		return nil
	}
}

// deleteWebhook clears a leftover webhook so long polling can receive updates.
func deleteWebhook(token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty token")
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/deleteWebhook", token)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("drop_pending_updates=false"))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deleteWebhook status: %s", resp.Status)
	}
	return nil
}
