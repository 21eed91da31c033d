// Package engine drives the intake dialogue: a per-user state machine fed by
// typed transport events, gating every forward transition on validation,
// encryption, and a durable store write. Sessions are owned exclusively by
// this package.
package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/ngconnect/connectbot/internal/geo"
	"github.com/ngconnect/connectbot/internal/logger"
	"log/slog"
)

// Resolver maps coordinates to a permitted region name. Any failure is
// reported as geo.ErrUnresolved and treated uniformly.
type Resolver interface {
	ResolveRegion(ctx context.Context, lat, lon float64) (string, error)
}

// Cipher seals contact plaintext before it is persisted.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
}

// RecordStore commits the completed intake record.
type RecordStore interface {
	Upsert(ctx context.Context, userID int64, ciphertext, region string) error
}

// Engine is the conversation state machine. A single Engine serves all users;
// per-user slots serialize each user's turns (including the store write) while
// different users proceed concurrently.
type Engine struct {
	resolver Resolver
	cipher   Cipher
	store    RecordStore

	mu    sync.Mutex
	users map[int64]*userSlot
}

type userSlot struct {
	mu   sync.Mutex
	refs int
	sess Session
}

// New wires the engine with its collaborators.
func New(resolver Resolver, cipher Cipher, store RecordStore) *Engine {
	return &Engine{
		resolver: resolver,
		cipher:   cipher,
		store:    store,
		users:    make(map[int64]*userSlot),
	}
}

// StepOf reports the user's current step, for diagnostics.
func (e *Engine) StepOf(userID int64) Step {
	e.mu.Lock()
	slot, ok := e.users[userID]
	e.mu.Unlock()
	if !ok {
		return StepNone
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.sess.Step
}

// HandleEvent processes one conversation turn for userID. Replies are emitted
// only after all side effects of the turn have resolved; the returned error
// is for logging, never for user display — user-facing text is always carried
// in the replies.
func (e *Engine) HandleEvent(ctx context.Context, userID int64, ev Event) ([]Reply, error) {
	slot := e.acquire(userID)
	defer e.release(userID, slot)

	from := slot.sess.Step
	replies, err := e.dispatch(ctx, userID, slot, ev)

	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int64("user_id", userID),
		slog.String("event_type", ev.eventName()),
		slog.String("step", from.String()),
		slog.String("next_step", slot.sess.Step.String()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
	}
	logger.Debug(ctx, "engine", "engine.turn", attrs...)

	return replies, err
}

func (e *Engine) dispatch(ctx context.Context, userID int64, slot *userSlot, ev Event) ([]Reply, error) {
	switch ev := ev.(type) {
	case Entry:
		// Idempotent entry: any in-flight partial data is discarded.
		slot.sess = Session{Step: StepAwaitingAction}
		return []Reply{{Text: msgWelcome, Markup: MarkupChoices}}, nil

	case Cancel:
		slot.sess = Session{}
		return []Reply{{Text: msgCancelled}}, nil

	case Choice:
		if slot.sess.Step != StepAwaitingAction {
			// Stale button tap from an earlier message.
			return e.reprompt(slot), nil
		}
		if !ev.Accept {
			slot.sess = Session{}
			return []Reply{{Text: msgFarewell}}, nil
		}
		slot.sess.Step = StepAwaitingLocation
		return []Reply{{Text: msgAskLocation}}, nil

	case Location:
		if slot.sess.Step != StepAwaitingLocation {
			return e.reprompt(slot), nil
		}
		region, err := e.resolver.ResolveRegion(ctx, ev.Latitude, ev.Longitude)
		if err != nil {
			// Unresolved for any reason: stay in place, let the user retry.
			return []Reply{{Text: msgLocationRetry}}, nil
		}
		slot.sess.Step = StepAwaitingContact
		slot.sess.PendingRegion = region
		return []Reply{{Text: msgAskContact(region), Markup: MarkupForceReply, Placeholder: contactHint}}, nil

	case Text:
		switch slot.sess.Step {
		case StepAwaitingContact:
			// Stray commands ("/help") are not contact details; ask again.
			if strings.HasPrefix(strings.TrimSpace(ev.Text), "/") {
				return e.reprompt(slot), nil
			}
			return e.commit(ctx, userID, slot, ev.Text)
		case StepAwaitingLocation:
			return []Reply{{Text: msgNotALocation}}, nil
		case StepAwaitingAction:
			return []Reply{{Text: msgUseButtons}}, nil
		default:
			return []Reply{{Text: msgNoSession}}, nil
		}

	default:
		return e.reprompt(slot), nil
	}
}

// commit runs the terminal step: encrypt, persist, confirm — in that order.
// Any failure discards the session without a partial record.
func (e *Engine) commit(ctx context.Context, userID int64, slot *userSlot, contact string) ([]Reply, error) {
	region := slot.sess.PendingRegion
	if region == "" {
		region = geo.RegionUnknown
	}

	ciphertext, err := e.cipher.Encrypt(contact)
	if err != nil {
		slot.sess = Session{}
		return []Reply{{Text: msgSaveFailed}}, err
	}

	if err := e.store.Upsert(ctx, userID, ciphertext, region); err != nil {
		slot.sess = Session{}
		return []Reply{{Text: msgSaveFailed}}, err
	}

	slot.sess = Session{}
	return []Reply{{Text: msgSaved(region), Markup: MarkupMarkdown}}, nil
}

// reprompt re-emits the expectation for the current step without transitioning.
func (e *Engine) reprompt(slot *userSlot) []Reply {
	switch slot.sess.Step {
	case StepAwaitingAction:
		return []Reply{{Text: msgUseButtons}}
	case StepAwaitingLocation:
		return []Reply{{Text: msgNotALocation}}
	case StepAwaitingContact:
		return []Reply{{Text: msgAskContact(slot.sess.PendingRegion), Markup: MarkupForceReply, Placeholder: contactHint}}
	default:
		return []Reply{{Text: msgNoSession}}
	}
}

// acquire locks the user's slot, creating it on first use. The slot mutex is
// held for the whole turn so a user's events are never interleaved, while
// other users proceed on their own slots.
func (e *Engine) acquire(userID int64) *userSlot {
	e.mu.Lock()
	slot, ok := e.users[userID]
	if !ok {
		slot = &userSlot{}
		e.users[userID] = slot
	}
	slot.refs++
	e.mu.Unlock()

	slot.mu.Lock()
	return slot
}

// release unlocks the slot and drops it from the map once it is idle with no
// waiters, so the session table does not grow with every passerby.
func (e *Engine) release(userID int64, slot *userSlot) {
	slot.mu.Unlock()

	e.mu.Lock()
	slot.refs--
	if slot.refs == 0 && slot.sess.Step == StepNone {
		delete(e.users, userID)
	}
	e.mu.Unlock()
}
