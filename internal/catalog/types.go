package catalog

// Item is one media entry returned by the catalog source. Director, Keyword
// and Network are annotations attached by the aggregator recording which
// discovery query produced the item; the catalog itself never returns them.
type Item struct {
	ID          int     `bson:"id" json:"id"`
	Title       string  `bson:"title,omitempty" json:"title,omitempty"`
	GenreIDs    []int   `bson:"genre_ids,omitempty" json:"genre_ids,omitempty"`
	VoteAverage float64 `bson:"vote_average,omitempty" json:"vote_average,omitempty"`
	Director    string  `bson:"director,omitempty" json:"director,omitempty"`
	Keyword     string  `bson:"keyword,omitempty" json:"keyword,omitempty"`
	Network     string  `bson:"network,omitempty" json:"network,omitempty"`
}

// DiscoverKind selects the attribute a discovery query filters on.
type DiscoverKind string

const (
	DiscoverDirector DiscoverKind = "director"
	DiscoverGenre    DiscoverKind = "genre"
	DiscoverKeyword  DiscoverKind = "keyword"
	DiscoverNetwork  DiscoverKind = "network"
)

// Relation names the two "related items" lookups the catalog offers for a
// seed item.
const (
	RelationSimilar     = "similar"
	RelationRecommended = "recommendations"
)

// page is the wire shape of a catalog result page.
type page struct {
	Page    int    `json:"page"`
	Results []Item `json:"results"`
}
