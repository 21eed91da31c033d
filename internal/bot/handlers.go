package bot

import (
	"fmt"
	"sort"
	"time"

	tele "gopkg.in/telebot.v4"
	"log/slog"

	"github.com/ngconnect/connectbot/internal/engine"
	"github.com/ngconnect/connectbot/internal/logger"
)

// Callback uniques for the consent keyboard.
const (
	cbConnectYes = "connect_yes"
	cbConnectNo  = "connect_no"
)

// command describes a bot command with its handler and menu metadata.
type command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
}

// commands builds the command table. Admin commands stay out of the menu.
func (b *Bot) commands() map[string]command {
	return map[string]command{
		"/start": {
			Handler:     b.handleStart,
			Description: "Begin the connection flow",
		},
		"/cancel": {
			Handler:     b.handleCancel,
			Description: "Cancel the current process",
		},
		"/user_count": {
			Handler:     b.handleUserCount,
			Description: "Show the number of registered users",
			AdminOnly:   true,
			Hidden:      true,
		},
	}
}

// menuCommands returns the visible command list for SetCommands, sorted.
func menuCommands(cmds map[string]command) []tele.Command {
	var list []tele.Command
	for name, cmd := range cmds {
		if cmd.Hidden || cmd.AdminOnly {
			continue
		}
		list = append(list, tele.Command{Text: name, Description: cmd.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

func (b *Bot) handleStart(c tele.Context) error {
	return b.turn(c, "command.start", engine.Entry{})
}

func (b *Bot) handleCancel(c tele.Context) error {
	return b.turn(c, "command.cancel", engine.Cancel{})
}

func (b *Bot) handleUserCount(c tele.Context) error {
	start := time.Now()
	ctx := withHandler(c, "command.user_count")

	count, err := b.counter.Count(ctx)
	if err != nil {
		logHandlerSummary(c, "command.user_count", start, err)
		return c.Send("Could not read the user count right now.")
	}

	err = c.Send(fmt.Sprintf("Total registered users: %d", count))
	logHandlerSummary(c, "command.user_count", start, err, slog.Int64("count", count))
	return err
}

func (b *Bot) handleCallback(c tele.Context) error {
	start := time.Now()
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	_ = c.Respond()

	key, _ := parseCallback(cb)
	name := "callback." + key
	switch key {
	case cbConnectYes:
		return b.turnTimed(c, name, start, engine.Choice{Accept: true})
	case cbConnectNo:
		return b.turnTimed(c, name, start, engine.Choice{Accept: false})
	default:
		logHandlerSummary(c, name, start, nil, slog.String("outcome", "unknown_callback"))
		_ = c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		return nil
	}
}

const msgCheckingLocation = "Checking your location..."

// locationPreamble returns the progress notice shown while the reverse
// geocode runs; the lookup can take seconds and the user should not see
// dead air. Only the location step resolves, so only it gets the notice.
func locationPreamble(step engine.Step) (string, bool) {
	if step == engine.StepAwaitingLocation {
		return msgCheckingLocation, true
	}
	return "", false
}

func (b *Bot) handleLocation(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Location == nil {
		return nil
	}
	if sender := c.Sender(); sender != nil {
		if text, ok := locationPreamble(b.engine.StepOf(sender.ID)); ok {
			_ = c.Send(text)
		}
	}
	loc := msg.Location
	return b.turn(c, "message.location", engine.Location{
		Latitude:  float64(loc.Lat),
		Longitude: float64(loc.Lng),
	})
}

func (b *Bot) handleText(c tele.Context) error {
	return b.turn(c, "message.text", engine.Text{Text: c.Text()})
}

// turn feeds one event into the engine and delivers its replies.
func (b *Bot) turn(c tele.Context, name string, ev engine.Event) error {
	return b.turnTimed(c, name, time.Now(), ev)
}

func (b *Bot) turnTimed(c tele.Context, name string, start time.Time, ev engine.Event) error {
	ctx := withHandler(c, name)
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	replies, err := b.engine.HandleEvent(ctx, sender.ID, ev)
	if err == nil {
		err = b.deliver(c, replies)
	} else {
		// Engine errors still carry user-facing replies.
		_ = b.deliver(c, replies)
	}

	extras := []slog.Attr{slog.String("step", b.engine.StepOf(sender.ID).String())}
	logHandlerSummary(c, name, start, err, extras...)
	return err
}

// deliver renders engine replies into Telegram sends, in order.
func (b *Bot) deliver(c tele.Context, replies []engine.Reply) error {
	for _, r := range replies {
		var err error
		switch r.Markup {
		case engine.MarkupChoices:
			err = c.Send(r.Text, consentKeyboard())
		case engine.MarkupForceReply:
			err = c.Send(r.Text, &tele.ReplyMarkup{ForceReply: true, Placeholder: r.Placeholder})
		case engine.MarkupMarkdown:
			err = c.Send(r.Text, tele.ModeMarkdown)
		default:
			err = c.Send(r.Text)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// consentKeyboard builds the inline yes/no choice shown at entry.
func consentKeyboard() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	yes := markup.Data("Yes, let's go!", cbConnectYes)
	no := markup.Data("No, thanks", cbConnectNo)
	markup.InlineKeyboard = [][]tele.InlineButton{{*yes.Inline(), *no.Inline()}}
	return markup
}

func logHandlerSummary(c tele.Context, handlerName string, start time.Time, err error, extras ...slog.Attr) {
	ctx := withHandler(c, handlerName)

	duration := logger.RoundMS(time.Since(start)).Milliseconds()
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("handler", handlerName),
		slog.Int64("duration_ms", duration),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("cause", handlerName),
		)
	}
	if len(extras) > 0 {
		attrs = append(attrs, extras...)
	}
	logger.LogEvent(ctx, logger.Component("tg"), slog.LevelInfo, "handler.handled", attrs...)
}
