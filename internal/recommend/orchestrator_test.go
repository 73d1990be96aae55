package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/reelworthy/go-recommendation-flow/internal/event"
	"github.com/reelworthy/go-recommendation-flow/internal/store"
)

type fakeRated struct {
	latest *store.RatedItem
	err    error
}

func (f *fakeRated) MostRecent(ctx context.Context, userID string) (*store.RatedItem, error) {
	return f.latest, f.err
}

// fakeReccs returns docs for successive ForUser calls; the last entry
// repeats once the slice is exhausted.
type fakeReccs struct {
	docs      []*store.ReccDocument
	forCalls  int
	createID  primitive.ObjectID
	createErr error
	created   int
	claimErr  error
	claimed   []primitive.ObjectID
}

func (f *fakeReccs) ForUser(ctx context.Context, userID string) (*store.ReccDocument, error) {
	i := f.forCalls
	f.forCalls++
	if len(f.docs) == 0 {
		return nil, nil
	}
	if i >= len(f.docs) {
		i = len(f.docs) - 1
	}
	return f.docs[i], nil
}

func (f *fakeReccs) CreateInProgress(ctx context.Context, userID string) (primitive.ObjectID, error) {
	f.created++
	return f.createID, f.createErr
}

func (f *fakeReccs) Claim(ctx context.Context, id primitive.ObjectID) error {
	f.claimed = append(f.claimed, id)
	return f.claimErr
}

type fakeRequester struct {
	reply   event.Event
	err     error
	calls   int
	lastEv  event.Event
	lastKey string
}

func (f *fakeRequester) Request(ctx context.Context, ev event.Event, requestKey string, timeout time.Duration) (event.Event, error) {
	f.calls++
	f.lastEv = ev
	f.lastKey = requestKey
	if f.err != nil {
		return event.Event{}, f.err
	}
	return f.reply, nil
}

func newTestService(rated *fakeRated, reccs *fakeReccs, req *fakeRequester) (*Service, *int) {
	svc := NewService(rated, reccs, req, Options{
		RequestRoutingKey: "movie_recommendations",
		ReplyTimeout:      time.Second,
		PollInterval:      time.Millisecond,
		PollAttempts:      3,
	}, zerolog.Nop())
	sleeps := 0
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	return svc, &sleeps
}

func okDoc(id primitive.ObjectID, updatedAt time.Time) *store.ReccDocument {
	return &store.ReccDocument{ID: id, UserID: "u1", State: event.StateOK, UpdatedAt: updatedAt}
}

func TestGet_FreshCachedSkipsBroker(t *testing.T) {
	now := time.Now()
	doc := okDoc(primitive.NewObjectID(), now)
	rated := &fakeRated{latest: &store.RatedItem{UpdatedAt: now.Add(-time.Hour)}}
	reccs := &fakeReccs{docs: []*store.ReccDocument{doc}}
	req := &fakeRequester{}
	svc, _ := newTestService(rated, reccs, req)

	got, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != doc {
		t.Fatalf("expected the cached document")
	}
	if req.calls != 0 {
		t.Fatalf("expected no broker request, got %d", req.calls)
	}
}

func TestGet_StaleTriggersRecompute(t *testing.T) {
	now := time.Now()
	id := primitive.NewObjectID()
	stale := okDoc(id, now.Add(-time.Hour))
	fresh := okDoc(id, now)
	rated := &fakeRated{latest: &store.RatedItem{UpdatedAt: now}}
	reccs := &fakeReccs{docs: []*store.ReccDocument{stale, fresh}}
	req := &fakeRequester{reply: event.Event{State: event.StateOK}}
	svc, _ := newTestService(rated, reccs, req)

	got, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != fresh {
		t.Fatalf("expected the recomputed document")
	}
	if len(reccs.claimed) != 1 || reccs.claimed[0] != id {
		t.Fatalf("expected a claim on %s, got %v", id.Hex(), reccs.claimed)
	}
	if req.lastEv.ExistingReccsID != id {
		t.Fatalf("request event carried id %s, want %s", req.lastEv.ExistingReccsID.Hex(), id.Hex())
	}
	if req.lastKey != "movie_recommendations" {
		t.Fatalf("unexpected routing key %q", req.lastKey)
	}
}

func TestGet_FailedRecomputeServesCached(t *testing.T) {
	now := time.Now()
	cached := okDoc(primitive.NewObjectID(), now.Add(-time.Hour))
	rated := &fakeRated{latest: &store.RatedItem{UpdatedAt: now}}
	reccs := &fakeReccs{docs: []*store.ReccDocument{cached}}
	req := &fakeRequester{reply: event.Event{State: event.StateFail}}
	svc, _ := newTestService(rated, reccs, req)

	got, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != cached {
		t.Fatalf("expected the cached document as fallback")
	}
}

func TestGet_RequestErrorServesCached(t *testing.T) {
	now := time.Now()
	cached := okDoc(primitive.NewObjectID(), now.Add(-time.Hour))
	rated := &fakeRated{latest: &store.RatedItem{UpdatedAt: now}}
	reccs := &fakeReccs{docs: []*store.ReccDocument{cached}}
	req := &fakeRequester{err: errors.New("timed out")}
	svc, _ := newTestService(rated, reccs, req)

	got, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != cached {
		t.Fatalf("expected the cached document as fallback")
	}
}

func TestGet_InProgressPollsUntilDone(t *testing.T) {
	id := primitive.NewObjectID()
	running := &store.ReccDocument{ID: id, UserID: "u1", State: event.StateInProgress}
	done := okDoc(id, time.Now())
	reccs := &fakeReccs{docs: []*store.ReccDocument{running, running, done}}
	svc, sleeps := newTestService(&fakeRated{}, reccs, &fakeRequester{})

	got, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != done {
		t.Fatalf("expected the finished document")
	}
	if *sleeps != 2 {
		t.Fatalf("expected 2 poll sleeps, got %d", *sleeps)
	}
}

func TestGet_InProgressExhaustsPolls(t *testing.T) {
	running := &store.ReccDocument{ID: primitive.NewObjectID(), UserID: "u1", State: event.StateInProgress}
	reccs := &fakeReccs{docs: []*store.ReccDocument{running}}
	svc, sleeps := newTestService(&fakeRated{}, reccs, &fakeRequester{})

	_, err := svc.Get(context.Background(), "u1")
	if !errors.Is(err, ErrStillComputing) {
		t.Fatalf("expected ErrStillComputing, got %v", err)
	}
	if *sleeps != 3 {
		t.Fatalf("expected 3 poll sleeps, got %d", *sleeps)
	}
}

func TestGet_FirstComputation(t *testing.T) {
	id := primitive.NewObjectID()
	done := okDoc(id, time.Now())
	reccs := &fakeReccs{docs: []*store.ReccDocument{nil, done}, createID: id}
	req := &fakeRequester{reply: event.Event{State: event.StateOK}}
	svc, _ := newTestService(&fakeRated{}, reccs, req)

	got, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != done {
		t.Fatalf("expected the computed document")
	}
	if reccs.created != 1 {
		t.Fatalf("expected one CreateInProgress, got %d", reccs.created)
	}
	if req.lastEv.ExistingReccsID != id {
		t.Fatalf("request event carried id %s, want %s", req.lastEv.ExistingReccsID.Hex(), id.Hex())
	}
	if req.lastEv.UserID != "u1" {
		t.Fatalf("request event carried user %q", req.lastEv.UserID)
	}
}

func TestGet_FirstComputationFailure(t *testing.T) {
	reccs := &fakeReccs{docs: []*store.ReccDocument{nil}, createID: primitive.NewObjectID()}
	req := &fakeRequester{reply: event.Event{State: event.StateFail}}
	svc, _ := newTestService(&fakeRated{}, reccs, req)

	_, err := svc.Get(context.Background(), "u1")
	if !errors.Is(err, ErrComputeFailed) {
		t.Fatalf("expected ErrComputeFailed, got %v", err)
	}
}

func TestGet_LostClaimRacePolls(t *testing.T) {
	now := time.Now()
	id := primitive.NewObjectID()
	stale := okDoc(id, now.Add(-time.Hour))
	fresh := okDoc(id, now)
	rated := &fakeRated{latest: &store.RatedItem{UpdatedAt: now}}
	reccs := &fakeReccs{docs: []*store.ReccDocument{stale, fresh}, claimErr: store.ErrNotClaimed}
	req := &fakeRequester{}
	svc, sleeps := newTestService(rated, reccs, req)

	got, err := svc.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != fresh {
		t.Fatalf("expected the document produced by the other computation")
	}
	if req.calls != 0 {
		t.Fatalf("expected no broker request after a lost claim, got %d", req.calls)
	}
	if *sleeps != 1 {
		t.Fatalf("expected 1 poll sleep, got %d", *sleeps)
	}
}
