package event

import (
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/reelworthy/go-recommendation-flow/internal/catalog"
	"github.com/reelworthy/go-recommendation-flow/internal/score"
)

func TestNew_Defaults(t *testing.T) {
	e := New("user-1")
	if e.UUID == "" {
		t.Fatal("expected a generated uuid")
	}
	if e.ParentUUID != e.UUID {
		t.Fatalf("parent uuid should default to uuid, got %s", e.ParentUUID)
	}
	if e.ResultRoutingKey != e.UUID {
		t.Fatalf("result routing key should derive from uuid, got %s", e.ResultRoutingKey)
	}
	if e.State != StateUndefined {
		t.Fatalf("new event must start undefined, got %s", e.State)
	}

	other := New("user-1")
	if other.UUID == e.UUID {
		t.Fatal("uuids must be unique per event")
	}
}

func TestTransitions_ForwardOnly(t *testing.T) {
	e := New("user-1")

	if _, err := e.Completed(nil, 1); err == nil {
		t.Fatal("undefined -> ok must be rejected")
	}
	if _, err := e.Failed(); err == nil {
		t.Fatal("undefined -> fail must be rejected")
	}

	running, err := e.InProgress()
	if err != nil {
		t.Fatalf("undefined -> in_progress: %v", err)
	}
	if e.State != StateUndefined {
		t.Fatal("transition mutated the original value")
	}

	done, err := running.Completed([]score.RankedItem{{MediaID: 2, Weight: 100}}, 1.5)
	if err != nil {
		t.Fatalf("in_progress -> ok: %v", err)
	}
	if done.Duration != 1.5 || len(done.Recommendations) != 1 {
		t.Fatalf("completed event missing payload: %+v", done)
	}
	if len(running.Recommendations) != 0 {
		t.Fatal("completion mutated the in-progress value")
	}

	if _, err := done.InProgress(); err == nil {
		t.Fatal("ok -> in_progress must be rejected")
	}
	if _, err := done.Failed(); err == nil {
		t.Fatal("ok -> fail must be rejected")
	}
}

func TestParseState_Unknown(t *testing.T) {
	for _, s := range []string{"", "bogus", "OK", "done"} {
		if got := ParseState(s); got != StateUndefined {
			t.Fatalf("ParseState(%q) = %s, want undefined", s, got)
		}
	}
	if got := ParseState("in_progress"); got != StateInProgress {
		t.Fatalf("ParseState(in_progress) = %s", got)
	}
}

func TestRoundTrip(t *testing.T) {
	e := New("user-42").WithExisting(primitive.NewObjectID())
	running, err := e.InProgress()
	if err != nil {
		t.Fatalf("in progress: %v", err)
	}
	done, err := running.Completed([]score.RankedItem{
		{MediaID: 2, Weight: 100, Info: catalog.Item{ID: 2, Title: "Alphaville", GenreIDs: []int{878}, VoteAverage: 7.1}},
		{MediaID: 3, Weight: 50, Info: catalog.Item{ID: 3, Director: "1138"}},
	}, 12.25)
	if err != nil {
		t.Fatalf("completed: %v", err)
	}

	body, err := done.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(done, decoded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, done)
	}
}

func TestRoundTrip_Request(t *testing.T) {
	// A fresh request has no recommendations, duration or existing id; all
	// of those must stay at their defaults after the round trip.
	e := New("user-7")
	body, err := e.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(e, decoded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, e)
	}
	if !decoded.ExistingReccsID.IsZero() {
		t.Fatal("existing id should stay zero")
	}
}

func TestDecode_UnknownState(t *testing.T) {
	decoded, err := Decode([]byte(`{"uuid":"u1","user_id":"user-1","state":"exploded"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.State != StateUndefined {
		t.Fatalf("unknown state must decode to undefined, got %s", decoded.State)
	}
}

func TestDeconstruct_OmitsDefaults(t *testing.T) {
	e := New("user-1")
	doc := e.Deconstruct()
	for _, key := range []string{"state", "recommendations", "duration", "existing_reccs_id"} {
		if _, ok := doc[key]; ok {
			t.Fatalf("default field %q must be omitted, got %v", key, doc[key])
		}
	}
	if doc["uuid"] != e.UUID || doc["user_id"] != "user-1" {
		t.Fatalf("identity fields missing from payload: %v", doc)
	}
}
