// Package recommend coordinates recommendation computations between the
// API side and the worker side of the pipeline.
package recommend

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/reelworthy/go-recommendation-flow/internal/event"
	"github.com/reelworthy/go-recommendation-flow/internal/store"
)

var (
	// ErrStillComputing is returned when a computation is running and did
	// not finish within the polling window.
	ErrStillComputing = errors.New("recommendations still computing")

	// ErrComputeFailed is returned when a first-time computation ends in a
	// non-ok state, so there is nothing cached to fall back on.
	ErrComputeFailed = errors.New("recommendation computation failed")
)

// RatedReader exposes the slice of rating history the orchestrator needs
// for staleness checks.
type RatedReader interface {
	MostRecent(ctx context.Context, userID string) (*store.RatedItem, error)
}

// ReccReader is the orchestrator's view of the recommendation store.
type ReccReader interface {
	ForUser(ctx context.Context, userID string) (*store.ReccDocument, error)
	CreateInProgress(ctx context.Context, userID string) (primitive.ObjectID, error)
	Claim(ctx context.Context, id primitive.ObjectID) error
}

// Requester performs a broker round trip and returns the worker's reply.
type Requester interface {
	Request(ctx context.Context, ev event.Event, requestKey string, timeout time.Duration) (event.Event, error)
}

// Options carries the orchestrator's timing and routing knobs.
type Options struct {
	RequestRoutingKey string
	ReplyTimeout      time.Duration
	PollInterval      time.Duration
	PollAttempts      int
}

// Service decides, per request, whether cached recommendations are still
// good, a computation is already underway, or a new one must be triggered.
type Service struct {
	rated  RatedReader
	reccs  ReccReader
	broker Requester
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
	log    zerolog.Logger
}

func NewService(rated RatedReader, reccs ReccReader, brk Requester, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		rated:  rated,
		reccs:  reccs,
		broker: brk,
		opts:   opts,
		sleep:  sleepContext,
		log:    logger.With().Str("component", "recommend").Logger(),
	}
}

// Get returns the user's recommendation document, triggering or waiting
// for a computation as needed.
func (s *Service) Get(ctx context.Context, userID string) (*store.ReccDocument, error) {
	doc, err := s.reccs.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return s.computeFirst(ctx, userID)
	}
	if doc.State == event.StateInProgress {
		return s.poll(ctx, userID)
	}

	stale, err := s.isStale(ctx, userID, doc)
	if err != nil {
		return nil, err
	}
	if !stale {
		return doc, nil
	}
	return s.recompute(ctx, userID, doc)
}

// computeFirst handles a user with no recommendation document yet. There
// is no cached result, so a failed computation is surfaced as an error.
func (s *Service) computeFirst(ctx context.Context, userID string) (*store.ReccDocument, error) {
	id, err := s.reccs.CreateInProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	ev := event.New(userID).WithExisting(id)

	reply, err := s.broker.Request(ctx, ev, s.opts.RequestRoutingKey, s.opts.ReplyTimeout)
	if err != nil {
		return nil, err
	}
	if reply.State != event.StateOK {
		s.log.Warn().Str("user_id", userID).Str("state", string(reply.State)).
			Msg("first computation did not complete")
		return nil, ErrComputeFailed
	}
	return s.reccs.ForUser(ctx, userID)
}

// recompute claims the existing document and triggers a fresh computation.
// A failed or timed-out computation falls back on the cached document, and
// a lost claim race means someone else is computing, so we poll instead.
func (s *Service) recompute(ctx context.Context, userID string, cached *store.ReccDocument) (*store.ReccDocument, error) {
	err := s.reccs.Claim(ctx, cached.ID)
	if errors.Is(err, store.ErrNotClaimed) {
		return s.poll(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	ev := event.New(userID).WithExisting(cached.ID)

	reply, err := s.broker.Request(ctx, ev, s.opts.RequestRoutingKey, s.opts.ReplyTimeout)
	if err != nil || reply.State != event.StateOK {
		s.log.Warn().Str("user_id", userID).Err(err).
			Msg("recompute did not complete, serving cached recommendations")
		return cached, nil
	}
	return s.reccs.ForUser(ctx, userID)
}

// poll waits for an in-flight computation owned by someone else.
func (s *Service) poll(ctx context.Context, userID string) (*store.ReccDocument, error) {
	for i := 0; i < s.opts.PollAttempts; i++ {
		if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
			return nil, err
		}
		doc, err := s.reccs.ForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if doc != nil && doc.State != event.StateInProgress {
			return doc, nil
		}
	}
	return nil, ErrStillComputing
}

// isStale reports whether the user rated something after the document was
// last updated.
func (s *Service) isStale(ctx context.Context, userID string, doc *store.ReccDocument) (bool, error) {
	latest, err := s.rated.MostRecent(ctx, userID)
	if err != nil {
		return false, err
	}
	return latest != nil && latest.UpdatedAt.After(doc.UpdatedAt), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
