package score

import "github.com/reelworthy/go-recommendation-flow/internal/catalog"

// FreqEntry is one value/occurrence pair in a frequency table.
type FreqEntry struct {
	Key   string `bson:"key" json:"key"`
	Count int    `bson:"count" json:"count"`
}

// Tables holds the per-category frequency tables extracted from a user's
// rating history. Networks is populated for the TV domain only.
type Tables struct {
	Directors []FreqEntry `bson:"directors,omitempty" json:"directors,omitempty"`
	Genres    []FreqEntry `bson:"genres,omitempty" json:"genres,omitempty"`
	Keywords  []FreqEntry `bson:"keywords,omitempty" json:"keywords,omitempty"`
	Networks  []FreqEntry `bson:"networks,omitempty" json:"networks,omitempty"`
}

// RatedRef is the slice of a rated item the scorer needs: identity for
// exclusion and genre ids for the genre weight.
type RatedRef struct {
	ID       int
	GenreIDs []int
}

// RankedItem is one scored recommendation. Weight is the rescaled
// percentage weight: the top-ranked item is always 100.
type RankedItem struct {
	MediaID int          `bson:"media_id" json:"media_id"`
	Weight  int          `bson:"weight" json:"weight"`
	Info    catalog.Item `bson:"media_info" json:"media_info"`
}
