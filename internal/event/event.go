// Package event defines the request/result envelope that flows through the
// broker, its state machine, and the wire codec.
package event

import (
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/reelworthy/go-recommendation-flow/internal/score"
)

// State tracks an event through its lifecycle. Transitions only move
// forward: undefined -> in_progress -> {ok, fail, skipped}.
type State string

const (
	StateUndefined  State = "undefined"
	StateInProgress State = "in_progress"
	StateOK         State = "ok"
	StateFail       State = "fail"
	StateSkipped    State = "skipped"
)

// ParseState maps a wire string to a State. Unknown strings decode to
// undefined rather than erroring, so old producers stay compatible.
func ParseState(s string) State {
	switch State(s) {
	case StateInProgress, StateOK, StateFail, StateSkipped:
		return State(s)
	default:
		return StateUndefined
	}
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	switch from {
	case StateUndefined:
		return to == StateInProgress
	case StateInProgress:
		return to == StateOK || to == StateFail || to == StateSkipped
	default:
		return false
	}
}

// Event is one computation request or result. Values are immutable; the
// transition methods return modified copies, so a consumed request is never
// aliased by its reply.
type Event struct {
	UUID             string
	ParentUUID       string
	UserID           string
	ResultRoutingKey string
	ExistingReccsID  primitive.ObjectID
	State            State
	Recommendations  []score.RankedItem
	Duration         float64 // computation time, seconds
}

// New builds a fresh request event for a user. The result routing key is
// derived from the event's own identity: each request gets a private reply
// channel.
func New(userID string) Event {
	id := uuid.NewString()
	return Event{
		UUID:             id,
		ParentUUID:       id,
		UserID:           userID,
		ResultRoutingKey: id,
		State:            StateUndefined,
	}
}

// WithExisting returns a copy referencing an existing persisted document,
// so the worker updates it in place instead of creating a new one.
func (e Event) WithExisting(id primitive.ObjectID) Event {
	e.ExistingReccsID = id
	return e
}

// InProgress marks the start of computation.
func (e Event) InProgress() (Event, error) {
	return e.transition(StateInProgress)
}

// Completed carries the ranked result and the elapsed computation time.
func (e Event) Completed(recs []score.RankedItem, duration float64) (Event, error) {
	next, err := e.transition(StateOK)
	if err != nil {
		return e, err
	}
	next.Recommendations = recs
	next.Duration = duration
	return next, nil
}

// Failed marks the computation as errored.
func (e Event) Failed() (Event, error) {
	return e.transition(StateFail)
}

// Skipped marks a request whose cached result was still fresh.
func (e Event) Skipped() (Event, error) {
	return e.transition(StateSkipped)
}

func (e Event) transition(to State) (Event, error) {
	if !CanTransition(e.State, to) {
		return e, fmt.Errorf("illegal state transition %s -> %s", e.State, to)
	}
	e.State = to
	return e, nil
}

// wire is the flat broker payload. Empty and zero fields are omitted on
// encode and default on decode.
type wire struct {
	UUID             string             `bson:"uuid,omitempty"`
	ParentUUID       string             `bson:"parent_uuid,omitempty"`
	UserID           string             `bson:"user_id,omitempty"`
	ResultRoutingKey string             `bson:"result_routing_key,omitempty"`
	ExistingReccsID  primitive.ObjectID `bson:"existing_reccs_id,omitempty"`
	State            string             `bson:"state,omitempty"`
	Recommendations  []score.RankedItem `bson:"recommendations,omitempty"`
	Duration         float64            `bson:"duration,omitempty"`
}

// Deconstruct flattens the event into its wire payload, clearing fields
// that hold their defaults.
func (e Event) Deconstruct() map[string]any {
	doc := map[string]any{}
	putNonEmpty(doc, "uuid", e.UUID)
	putNonEmpty(doc, "parent_uuid", e.ParentUUID)
	putNonEmpty(doc, "user_id", e.UserID)
	putNonEmpty(doc, "result_routing_key", e.ResultRoutingKey)
	if !e.ExistingReccsID.IsZero() {
		doc["existing_reccs_id"] = e.ExistingReccsID
	}
	if e.State != StateUndefined {
		doc["state"] = string(e.State)
	}
	if len(e.Recommendations) > 0 {
		doc["recommendations"] = e.Recommendations
	}
	if e.Duration > 0 {
		doc["duration"] = e.Duration
	}
	return doc
}

func putNonEmpty(doc map[string]any, key, val string) {
	if val != "" {
		doc[key] = val
	}
}

// Encode serializes the event for the broker as extended JSON, so ObjectIDs
// and dates survive the round trip.
func (e Event) Encode() ([]byte, error) {
	w := wire{
		UUID:             e.UUID,
		ParentUUID:       e.ParentUUID,
		UserID:           e.UserID,
		ResultRoutingKey: e.ResultRoutingKey,
		ExistingReccsID:  e.ExistingReccsID,
		Recommendations:  e.Recommendations,
		Duration:         e.Duration,
	}
	if e.State != StateUndefined {
		w.State = string(e.State)
	}
	body, err := bson.MarshalExtJSON(w, false, false)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.UUID, err)
	}
	return body, nil
}

// Decode rebuilds an event from its wire payload. Absent fields keep their
// defaults; an absent or unknown state decodes to undefined.
func Decode(body []byte) (Event, error) {
	var w wire
	if err := bson.UnmarshalExtJSON(body, false, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return Event{
		UUID:             w.UUID,
		ParentUUID:       w.ParentUUID,
		UserID:           w.UserID,
		ResultRoutingKey: w.ResultRoutingKey,
		ExistingReccsID:  w.ExistingReccsID,
		State:            ParseState(w.State),
		Recommendations:  w.Recommendations,
		Duration:         w.Duration,
	}, nil
}
