package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/reelworthy/go-recommendation-flow/internal/event"
	"github.com/reelworthy/go-recommendation-flow/internal/score"
)

// Genre is one genre entry on a rated item.
type Genre struct {
	ID   int    `bson:"id" json:"id"`
	Name string `bson:"name,omitempty" json:"name,omitempty"`
}

// Keyword is one keyword entry on a rated item.
type Keyword struct {
	ID   int    `bson:"id" json:"id"`
	Name string `bson:"name,omitempty" json:"name,omitempty"`
}

// Network is the broadcaster of a rated TV item. Absent on movies.
type Network struct {
	ID   int    `bson:"id" json:"id"`
	Name string `bson:"name,omitempty" json:"name,omitempty"`
}

// RatedItem is one entry of the user's rating history, as persisted by the
// upstream rating service.
type RatedItem struct {
	UserID    string    `bson:"user_id" json:"user_id"`
	MediaID   int       `bson:"media_id" json:"media_id"`
	Rating    float64   `bson:"rating" json:"rating"`
	Genres    []Genre   `bson:"genres,omitempty" json:"genres,omitempty"`
	Director  string    `bson:"director,omitempty" json:"director,omitempty"`
	Keywords  []Keyword `bson:"keywords,omitempty" json:"keywords,omitempty"`
	Network   *Network  `bson:"network,omitempty" json:"network,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// ReccDocument is the persisted recommendation record for one user. It is
// created once on the first computation and updated in place afterwards; the
// state field doubles as the in-progress coordination point.
type ReccDocument struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"_id,omitempty"`
	UserID          string             `bson:"user_id" json:"user_id"`
	Recommendations []score.RankedItem `bson:"recommendations,omitempty" json:"recommendations,omitempty"`
	State           event.State        `bson:"state" json:"state"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}
