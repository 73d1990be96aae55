package recommend

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/reelworthy/go-recommendation-flow/internal/aggregate"
	"github.com/reelworthy/go-recommendation-flow/internal/broker"
	"github.com/reelworthy/go-recommendation-flow/internal/event"
	"github.com/reelworthy/go-recommendation-flow/internal/score"
	"github.com/reelworthy/go-recommendation-flow/internal/store"
)

// Gatherer collects everything the calculator needs for one user.
type Gatherer interface {
	Gather(ctx context.Context, userID string) (*aggregate.Corpus, error)
}

// ResultWriter persists a finished computation.
type ResultWriter interface {
	SetResult(ctx context.Context, id primitive.ObjectID, recs []score.RankedItem, state event.State) error
}

// Publisher sends a reply event back through the broker.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event, routingKey, correlationID string) error
}

// Processor handles one recommendation request end to end. Requests are
// acked once handled, even when the reply publish fails: the result is
// already persisted and a redelivery would only recompute it.
type Processor struct {
	agg      Gatherer
	reccs    ResultWriter
	broker   Publisher
	tvDomain bool
	nowFunc  func() time.Time
	log      zerolog.Logger
}

func NewProcessor(agg Gatherer, reccs ResultWriter, brk Publisher, tvDomain bool, logger zerolog.Logger) *Processor {
	return &Processor{
		agg:      agg,
		reccs:    reccs,
		broker:   brk,
		tvDomain: tvDomain,
		nowFunc:  time.Now,
		log:      logger.With().Str("component", "processor").Logger(),
	}
}

// Handle computes recommendations for the event's user, persists them and
// replies on the requester's result queue.
func (p *Processor) Handle(ctx context.Context, ev event.Event, correlationID string) error {
	start := p.nowFunc()
	log := p.log.With().Str("event_uuid", ev.UUID).Str("user_id", ev.UserID).Logger()

	ev, err := ev.InProgress()
	if err != nil {
		log.Error().Err(err).Msg("dropping event in unexpected state")
		return nil
	}

	reply, err := p.compute(ctx, ev, start)
	if err != nil {
		log.Error().Err(err).Msg("computation failed")
		reply, err = ev.Failed()
		if err != nil {
			return err
		}
		if !ev.ExistingReccsID.IsZero() {
			if err := p.reccs.SetResult(ctx, ev.ExistingReccsID, nil, event.StateFail); err != nil {
				log.Error().Err(err).Msg("persisting failed state")
			}
		}
	}

	if err := p.reply(ctx, reply, correlationID); err != nil {
		log.Error().Err(err).Msg("reply publish failed, result is persisted")
	}
	return nil
}

func (p *Processor) compute(ctx context.Context, ev event.Event, start time.Time) (event.Event, error) {
	corpus, err := p.agg.Gather(ctx, ev.UserID)
	if err != nil {
		return event.Event{}, err
	}
	ranked := score.Calculate(corpus.Discovered, ratedRefs(corpus.Rated), corpus.Freq, p.tvDomain)

	if !ev.ExistingReccsID.IsZero() {
		if err := p.reccs.SetResult(ctx, ev.ExistingReccsID, ranked, event.StateOK); err != nil {
			return event.Event{}, err
		}
	}
	return ev.Completed(ranked, time.Since(start).Seconds())
}

// reply routes the finished event back to the requester. The correlation
// id carries the reply routing key; older requesters omit it, so fall
// back on the event's own result key.
func (p *Processor) reply(ctx context.Context, ev event.Event, correlationID string) error {
	key := correlationID
	if key == "" {
		key = ev.ResultRoutingKey
	}
	return p.broker.Publish(ctx, ev, key, key)
}

func ratedRefs(rated []store.RatedItem) []score.RatedRef {
	refs := make([]score.RatedRef, 0, len(rated))
	for _, r := range rated {
		ids := make([]int, 0, len(r.Genres))
		for _, g := range r.Genres {
			ids = append(ids, g.ID)
		}
		refs = append(refs, score.RatedRef{ID: r.MediaID, GenreIDs: ids})
	}
	return refs
}

// consumeRetryWait is how long the worker backs off after a broker error
// before declaring and consuming again.
const consumeRetryWait = 30 * time.Second

// Consumer is the slice of the broker the worker loop needs.
type Consumer interface {
	DeclareQueue(routingKey string, durable, autoDelete bool) (string, error)
	Consume(ctx context.Context, queueName string, handler broker.Handler) error
}

// Worker consumes the request queue until its context is cancelled,
// reconnecting after broker failures.
type Worker struct {
	broker     Consumer
	requestKey string
	processor  *Processor
	retryWait  time.Duration
	log        zerolog.Logger
}

func NewWorker(brk Consumer, requestKey string, processor *Processor, logger zerolog.Logger) *Worker {
	return &Worker{
		broker:     brk,
		requestKey: requestKey,
		processor:  processor,
		retryWait:  consumeRetryWait,
		log:        logger.With().Str("component", "worker").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		name, err := w.broker.DeclareQueue(w.requestKey, true, false)
		if err == nil {
			w.log.Info().Str("queue", name).Msg("consuming recommendation requests")
			err = w.broker.Consume(ctx, name, w.processor.Handle)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.log.Error().Err(err).Dur("retry_in", w.retryWait).Msg("consume interrupted")
		if err := sleepContext(ctx, w.retryWait); err != nil {
			return err
		}
	}
}
