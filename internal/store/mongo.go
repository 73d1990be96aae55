// Package store persists rated items and recommendation documents in
// MongoDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/reelworthy/go-recommendation-flow/internal/event"
	"github.com/reelworthy/go-recommendation-flow/internal/score"
)

// ErrNotClaimed indicates a conditional claim found the document already
// in progress (another computation owns it).
var ErrNotClaimed = errors.New("document already in progress")

// Connect dials MongoDB and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// RatedStore reads a user's rating history.
type RatedStore struct {
	coll *mongo.Collection
}

func NewRatedStore(db *mongo.Database, collection string) *RatedStore {
	return &RatedStore{coll: db.Collection(collection)}
}

// ForUser returns every rated item for a user.
func (s *RatedStore) ForUser(ctx context.Context, userID string) ([]RatedItem, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("query rated items: %w", err)
	}
	var items []RatedItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode rated items: %w", err)
	}
	return items, nil
}

// MostRecent returns the user's most recently updated rated item, or nil
// when the user has rated nothing.
func (s *RatedStore) MostRecent(ctx context.Context, userID string) (*RatedItem, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "updatedAt", Value: -1}}}},
		bson.D{{Key: "$limit", Value: 1}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("query most recent rated item: %w", err)
	}
	var items []RatedItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode rated items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// ReccStore owns the recommendation documents. The state field is the
// in-progress coordination point: claims go through a conditional update
// so at most one computation runs per user.
type ReccStore struct {
	coll    *mongo.Collection
	nowFunc func() time.Time
}

func NewReccStore(db *mongo.Database, collection string) *ReccStore {
	return &ReccStore{coll: db.Collection(collection), nowFunc: time.Now}
}

// ForUser returns the user's recommendation document, or nil when none
// has been created yet.
func (s *ReccStore) ForUser(ctx context.Context, userID string) (*ReccDocument, error) {
	var doc ReccDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "user_id", Value: userID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	return &doc, nil
}

// CreateInProgress inserts the user's recommendation document in the
// in_progress state, with no recommendations yet.
func (s *ReccStore) CreateInProgress(ctx context.Context, userID string) (primitive.ObjectID, error) {
	now := s.nowFunc()
	doc := ReccDocument{
		UserID:    userID,
		State:     event.StateInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("insert recommendation document: %w", err)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return id, nil
}

// Claim atomically moves an existing document into in_progress, but only
// if no other computation holds it. Returns ErrNotClaimed when the guard
// fails, so two near-simultaneous triggers cannot both launch work.
func (s *ReccStore) Claim(ctx context.Context, id primitive.ObjectID) error {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "state", Value: bson.D{{Key: "$ne", Value: event.StateInProgress}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "state", Value: event.StateInProgress},
		{Key: "updatedAt", Value: s.nowFunc()},
	}}}
	err := s.coll.FindOneAndUpdate(ctx, filter, update).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotClaimed
	}
	if err != nil {
		return fmt.Errorf("claim recommendation document: %w", err)
	}
	return nil
}

// SetResult writes the computation outcome and terminal state in place.
func (s *ReccStore) SetResult(ctx context.Context, id primitive.ObjectID, recs []score.RankedItem, state event.State) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "recommendations", Value: recs},
		{Key: "state", Value: state},
		{Key: "updatedAt", Value: s.nowFunc()},
	}}}
	if _, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update); err != nil {
		return fmt.Errorf("store recommendation result: %w", err)
	}
	return nil
}
