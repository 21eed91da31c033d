package bot

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/ngconnect/connectbot/internal/logger"
)

const contextKey = "logger_ctx"

// storeContext attaches a reusable context to tele.Context for downstream helpers.
func storeContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

func contextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	if v := c.Get(contextKey); v != nil {
		if ctx, ok := v.(context.Context); ok {
			return ctx, true
		}
	}
	return nil, false
}

// buildContext constructs a context.Context from tele.Context, enriching it
// with RID and update/user/chat metadata for consistent service logging.
func buildContext(c tele.Context) context.Context {
	if cached, ok := contextFrom(c); ok {
		return cached
	}

	upd := c.Update()
	user := c.Sender()
	chat := c.Chat()

	var (
		chatID int64
		userID int64
	)
	if chat != nil {
		chatID = chat.ID
	}
	if user != nil {
		userID = user.ID
	}

	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(upd.ID, chatID, userID)
	}

	ctx := logger.Background()
	ctx = logger.WithRID(ctx, rid)
	ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	storeContext(c, ctx)
	return ctx
}

// withHandler enriches the stored context with handler metadata.
func withHandler(c tele.Context, handler string) context.Context {
	ctx := buildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	storeContext(c, ctx)
	return ctx
}
