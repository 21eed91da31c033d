package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngconnect/connectbot/internal/geo"
)

type fakeResolver struct {
	region string
	err    error
	calls  int
}

func (f *fakeResolver) ResolveRegion(_ context.Context, _, _ float64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.region, nil
}

type fakeCipher struct {
	err error
}

func (f *fakeCipher) Encrypt(plaintext string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "enc:" + plaintext, nil
}

type storedRecord struct {
	Ciphertext string
	Region     string
}

type fakeStore struct {
	mu      sync.Mutex
	err     error
	records map[int64]storedRecord
	writes  int
}

func (f *fakeStore) Upsert(_ context.Context, userID int64, ciphertext, region string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.records == nil {
		f.records = make(map[int64]storedRecord)
	}
	f.records[userID] = storedRecord{Ciphertext: ciphertext, Region: region}
	f.writes++
	return nil
}

func newTestEngine(resolver *fakeResolver, cipher *fakeCipher, store *fakeStore) *Engine {
	if resolver == nil {
		resolver = &fakeResolver{region: "Lagos"}
	}
	if cipher == nil {
		cipher = &fakeCipher{}
	}
	if store == nil {
		store = &fakeStore{}
	}
	return New(resolver, cipher, store)
}

func handle(t *testing.T, e *Engine, userID int64, ev Event) []Reply {
	t.Helper()
	replies, err := e.HandleEvent(context.Background(), userID, ev)
	require.NoError(t, err)
	require.NotEmpty(t, replies)
	return replies
}

func TestHappyPath(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(&fakeResolver{region: "Lagos"}, nil, store)
	const user = int64(1)

	replies := handle(t, e, user, Entry{})
	assert.Equal(t, MarkupChoices, replies[0].Markup)
	assert.Contains(t, replies[0].Text, "Ready to start?")
	assert.Equal(t, StepAwaitingAction, e.StepOf(user))

	replies = handle(t, e, user, Choice{Accept: true})
	assert.Contains(t, replies[0].Text, "share your location")
	assert.Equal(t, StepAwaitingLocation, e.StepOf(user))

	replies = handle(t, e, user, Location{Latitude: 6.5, Longitude: 3.3})
	assert.Equal(t, MarkupForceReply, replies[0].Markup)
	assert.Contains(t, replies[0].Text, "Lagos State")
	assert.NotEmpty(t, replies[0].Placeholder)
	assert.Equal(t, StepAwaitingContact, e.StepOf(user))

	replies = handle(t, e, user, Text{Text: "Jane Doe, +234801234567"})
	assert.Equal(t, MarkupMarkdown, replies[0].Markup)
	assert.Contains(t, replies[0].Text, "saved securely")
	assert.Equal(t, StepNone, e.StepOf(user))

	rec := store.records[user]
	assert.Equal(t, "enc:Jane Doe, +234801234567", rec.Ciphertext)
	assert.Equal(t, "Lagos", rec.Region)
	assert.Equal(t, 1, store.writes)
}

func TestDeclineEndsSession(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(nil, nil, store)
	const user = int64(2)

	handle(t, e, user, Entry{})
	replies := handle(t, e, user, Choice{Accept: false})
	assert.Contains(t, replies[0].Text, "come back anytime")
	assert.Equal(t, StepNone, e.StepOf(user))
	assert.Zero(t, store.writes)
}

func TestInvalidEventsDoNotTransition(t *testing.T) {
	resolver := &fakeResolver{region: "Lagos"}
	e := newTestEngine(resolver, nil, nil)
	const user = int64(3)

	// Text and location before any session: redirect to entry, no session created.
	replies := handle(t, e, user, Text{Text: "hello"})
	assert.Contains(t, replies[0].Text, "/start")
	assert.Equal(t, StepNone, e.StepOf(user))

	handle(t, e, user, Entry{})

	// Text and location while a choice is expected.
	handle(t, e, user, Text{Text: "yes please"})
	assert.Equal(t, StepAwaitingAction, e.StepOf(user))
	handle(t, e, user, Location{Latitude: 6.5, Longitude: 3.3})
	assert.Equal(t, StepAwaitingAction, e.StepOf(user))
	assert.Zero(t, resolver.calls, "resolver must not run outside the location step")

	handle(t, e, user, Choice{Accept: true})

	// Plain text while a location is expected.
	replies = handle(t, e, user, Text{Text: "Lagos"})
	assert.Contains(t, replies[0].Text, "location")
	assert.Equal(t, StepAwaitingLocation, e.StepOf(user))

	handle(t, e, user, Location{Latitude: 6.5, Longitude: 3.3})

	// Stale button tap while contact text is expected.
	handle(t, e, user, Choice{Accept: true})
	assert.Equal(t, StepAwaitingContact, e.StepOf(user))
}

func TestCommandTextNotCapturedAsContact(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(&fakeResolver{region: "Lagos"}, nil, store)
	const user = int64(12)

	handle(t, e, user, Entry{})
	handle(t, e, user, Choice{Accept: true})
	handle(t, e, user, Location{Latitude: 6.5, Longitude: 3.3})

	replies := handle(t, e, user, Text{Text: "/help"})
	assert.Equal(t, MarkupForceReply, replies[0].Markup, "command re-prompts for contact")
	assert.Equal(t, StepAwaitingContact, e.StepOf(user))
	assert.Zero(t, store.writes, "commands must never be committed as contact info")

	replies = handle(t, e, user, Text{Text: "  /start@connectbot  "})
	assert.Equal(t, MarkupForceReply, replies[0].Markup)
	assert.Zero(t, store.writes)

	handle(t, e, user, Text{Text: "Jane Doe, +234801234567"})
	assert.Equal(t, "enc:Jane Doe, +234801234567", store.records[user].Ciphertext)
}

func TestUnresolvedRegionStaysInPlace(t *testing.T) {
	resolver := &fakeResolver{err: geo.ErrUnresolved}
	e := newTestEngine(resolver, nil, nil)
	const user = int64(4)

	handle(t, e, user, Entry{})
	handle(t, e, user, Choice{Accept: true})

	replies := handle(t, e, user, Location{Latitude: 5.6, Longitude: -0.2})
	assert.Contains(t, replies[0].Text, "try again")
	assert.Equal(t, StepAwaitingLocation, e.StepOf(user))

	// Recovery on a later share.
	resolver.err = nil
	resolver.region = "Kano"
	replies = handle(t, e, user, Location{Latitude: 12.0, Longitude: 8.5})
	assert.Contains(t, replies[0].Text, "Kano State")
	assert.Equal(t, StepAwaitingContact, e.StepOf(user))
}

func TestCancelFromEveryStep(t *testing.T) {
	advance := map[string][]Event{
		"awaiting_action":   {Entry{}},
		"awaiting_location": {Entry{}, Choice{Accept: true}},
		"awaiting_contact":  {Entry{}, Choice{Accept: true}, Location{Latitude: 6.5, Longitude: 3.3}},
	}
	for name, events := range advance {
		t.Run(name, func(t *testing.T) {
			store := &fakeStore{}
			e := newTestEngine(&fakeResolver{region: "Lagos"}, nil, store)
			const user = int64(5)

			for _, ev := range events {
				handle(t, e, user, ev)
			}
			replies := handle(t, e, user, Cancel{})
			assert.Contains(t, replies[0].Text, "cancelled")
			assert.Equal(t, StepNone, e.StepOf(user))
			assert.Zero(t, store.writes)

			// Follow-up events are redirected to the entry prompt.
			replies = handle(t, e, user, Text{Text: "still here"})
			assert.Contains(t, replies[0].Text, "/start")
			replies = handle(t, e, user, Location{Latitude: 6.5, Longitude: 3.3})
			assert.Contains(t, replies[0].Text, "/start")
		})
	}
}

func TestCancelLeavesCommittedRecord(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(&fakeResolver{region: "Lagos"}, nil, store)
	const user = int64(6)

	handle(t, e, user, Entry{})
	handle(t, e, user, Choice{Accept: true})
	handle(t, e, user, Location{Latitude: 6.5, Longitude: 3.3})
	handle(t, e, user, Text{Text: "first contact"})
	require.Equal(t, 1, store.writes)

	handle(t, e, user, Entry{})
	handle(t, e, user, Cancel{})

	rec := store.records[user]
	assert.Equal(t, "enc:first contact", rec.Ciphertext, "cancel must not touch the committed record")
}

func TestEntryRestartsAndDiscardsPendingRegion(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(&fakeResolver{region: "Lagos"}, nil, store)
	const user = int64(7)

	handle(t, e, user, Entry{})
	handle(t, e, user, Choice{Accept: true})
	handle(t, e, user, Location{Latitude: 6.5, Longitude: 3.3})
	require.Equal(t, StepAwaitingContact, e.StepOf(user))

	// Restart mid-flow: back to the beginning, pending region gone.
	replies := handle(t, e, user, Entry{})
	assert.Equal(t, MarkupChoices, replies[0].Markup)
	assert.Equal(t, StepAwaitingAction, e.StepOf(user))

	handle(t, e, user, Text{Text: "contact without flow"})
	assert.Equal(t, StepAwaitingAction, e.StepOf(user))
	assert.Zero(t, store.writes, "nothing committed after restart")
}

func TestStoreFailureEndsSessionWithoutCommit(t *testing.T) {
	store := &fakeStore{err: errors.New("connection reset")}
	e := newTestEngine(&fakeResolver{region: "Lagos"}, nil, store)
	const user = int64(8)

	handle(t, e, user, Entry{})
	handle(t, e, user, Choice{Accept: true})
	handle(t, e, user, Location{Latitude: 6.5, Longitude: 3.3})

	replies, err := e.HandleEvent(context.Background(), user, Text{Text: "Jane"})
	require.Error(t, err)
	require.NotEmpty(t, replies)
	assert.Contains(t, replies[0].Text, "not saved")
	assert.NotContains(t, replies[0].Text, "connection reset", "raw error must not leak")
	assert.Equal(t, StepNone, e.StepOf(user))
	assert.Empty(t, store.records)
}

func TestEncryptFailureEndsSessionWithoutCommit(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(&fakeResolver{region: "Lagos"}, &fakeCipher{err: errors.New("bad key")}, store)
	const user = int64(9)

	handle(t, e, user, Entry{})
	handle(t, e, user, Choice{Accept: true})
	handle(t, e, user, Location{Latitude: 6.5, Longitude: 3.3})

	replies, err := e.HandleEvent(context.Background(), user, Text{Text: "Jane"})
	require.Error(t, err)
	assert.Contains(t, replies[0].Text, "not saved")
	assert.Equal(t, StepNone, e.StepOf(user))
	assert.Zero(t, store.writes, "store must not be reached when sealing fails")
}

func TestUsersAreIndependent(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(&fakeResolver{region: "Lagos"}, nil, store)

	handle(t, e, 100, Entry{})
	handle(t, e, 100, Choice{Accept: true})

	handle(t, e, 200, Entry{})

	assert.Equal(t, StepAwaitingLocation, e.StepOf(100))
	assert.Equal(t, StepAwaitingAction, e.StepOf(200))

	handle(t, e, 200, Cancel{})
	assert.Equal(t, StepAwaitingLocation, e.StepOf(100), "cancel for one user must not touch another")
}

func TestConcurrentTurnsSameUserSerialize(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(&fakeResolver{region: "Lagos"}, nil, store)
	const user = int64(11)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.HandleEvent(context.Background(), user, Entry{})
		}()
	}
	wg.Wait()

	assert.Equal(t, StepAwaitingAction, e.StepOf(user))
}
