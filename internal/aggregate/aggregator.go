// Package aggregate builds the discovery corpus for one user: frequency
// tables from their rating history, parallel discovery queries per table
// entry, and similar/recommended lookups for their top-rated seeds.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/reelworthy/go-recommendation-flow/internal/catalog"
	"github.com/reelworthy/go-recommendation-flow/internal/score"
	"github.com/reelworthy/go-recommendation-flow/internal/store"
)

const (
	topPerCategory = 6
	seedLimit      = 20
	seedThreshold  = 6.0
)

// RatedSource supplies a user's rating history.
type RatedSource interface {
	ForUser(ctx context.Context, userID string) ([]store.RatedItem, error)
}

// Corpus is the full scoring input for one user.
type Corpus struct {
	Discovered []catalog.Item
	Rated      []store.RatedItem
	Freq       score.Tables
}

// Aggregator gathers the corpus. Fan-out to the catalog is bounded by
// limit concurrent requests; any failed sub-fetch aborts the whole pass.
type Aggregator struct {
	rated    RatedSource
	catalog  catalog.Client
	tvDomain bool
	limit    int
	log      zerolog.Logger
}

func New(rated RatedSource, cat catalog.Client, tvDomain bool, limit int, logger zerolog.Logger) *Aggregator {
	if limit <= 0 {
		limit = 8
	}
	return &Aggregator{
		rated:    rated,
		catalog:  cat,
		tvDomain: tvDomain,
		limit:    limit,
		log:      logger.With().Str("component", "aggregate").Logger(),
	}
}

// Gather assembles the discovery corpus for userID.
func (a *Aggregator) Gather(ctx context.Context, userID string) (*Corpus, error) {
	rated, err := a.rated.ForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch rated items: %w", err)
	}
	freq := Frequencies(rated, a.tvDomain)

	var discovered []catalog.Item

	// Directors drive movie discovery; networks drive TV discovery.
	if a.tvDomain {
		items, err := a.discoverAll(ctx, catalog.DiscoverNetwork, freq.Networks)
		if err != nil {
			return nil, err
		}
		discovered = append(discovered, items...)
	} else {
		items, err := a.discoverAll(ctx, catalog.DiscoverDirector, freq.Directors)
		if err != nil {
			return nil, err
		}
		discovered = append(discovered, items...)
	}

	genreItems, err := a.discoverAll(ctx, catalog.DiscoverGenre, freq.Genres)
	if err != nil {
		return nil, err
	}
	discovered = append(discovered, genreItems...)

	keywordItems, err := a.discoverAll(ctx, catalog.DiscoverKeyword, freq.Keywords)
	if err != nil {
		return nil, err
	}
	discovered = append(discovered, keywordItems...)

	seeds := TopRated(rated)
	for _, relation := range []string{catalog.RelationSimilar, catalog.RelationRecommended} {
		items, err := a.relatedAll(ctx, seeds, relation)
		if err != nil {
			return nil, err
		}
		discovered = append(discovered, items...)
	}

	a.log.Info().
		Str("user_id", userID).
		Int("rated", len(rated)).
		Int("discovered", len(discovered)).
		Msg("gathered discovery corpus")

	return &Corpus{Discovered: discovered, Rated: rated, Freq: freq}, nil
}

// discoverAll fans out one discovery request per frequency entry and tags
// every result item with the value that produced it.
func (a *Aggregator) discoverAll(ctx context.Context, kind catalog.DiscoverKind, entries []score.FreqEntry) ([]catalog.Item, error) {
	results := make([][]catalog.Item, len(entries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			items, err := a.catalog.Discover(ctx, kind, entry.Key)
			if err != nil {
				return err
			}
			for j := range items {
				switch kind {
				case catalog.DiscoverDirector:
					items[j].Director = entry.Key
				case catalog.DiscoverKeyword:
					items[j].Keyword = entry.Key
				case catalog.DiscoverNetwork:
					items[j].Network = entry.Key
				}
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("discover by %s: %w", kind, err)
	}
	var all []catalog.Item
	for _, items := range results {
		all = append(all, items...)
	}
	return all, nil
}

// relatedAll fans out one related-items request per seed.
func (a *Aggregator) relatedAll(ctx context.Context, seeds []store.RatedItem, relation string) ([]catalog.Item, error) {
	results := make([][]catalog.Item, len(seeds))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i, seed := range seeds {
		i, seed := i, seed
		g.Go(func() error {
			items, err := a.catalog.Related(ctx, seed.MediaID, relation)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch %s items: %w", relation, err)
	}
	var all []catalog.Item
	for _, items := range results {
		all = append(all, items...)
	}
	return all, nil
}

// Frequencies extracts the per-category frequency tables from a rating
// history, keeping the six most frequent values per category. Networks are
// only tabulated for the TV domain.
func Frequencies(rated []store.RatedItem, tvDomain bool) score.Tables {
	directors := map[string]int{}
	genres := map[string]int{}
	keywords := map[string]int{}
	networks := map[string]int{}

	for _, item := range rated {
		if item.Director != "" {
			directors[item.Director]++
		}
		if key := genreSetKey(item.Genres); key != "" {
			genres[key]++
		}
		for _, kw := range item.Keywords {
			keywords[strconv.Itoa(kw.ID)]++
		}
		if tvDomain && item.Network != nil {
			networks[strconv.Itoa(item.Network.ID)]++
		}
	}

	tables := score.Tables{
		Directors: topEntries(directors, topPerCategory),
		Genres:    topEntries(genres, topPerCategory),
		Keywords:  topEntries(keywords, topPerCategory),
	}
	if tvDomain {
		tables.Networks = topEntries(networks, topPerCategory)
	}
	return tables
}

// genreSetKey joins an item's genre ids into the comma-separated form the
// catalog's discover endpoint accepts, so the whole set is one query value.
func genreSetKey(genres []store.Genre) string {
	if len(genres) == 0 {
		return ""
	}
	ids := make([]string, 0, len(genres))
	for _, g := range genres {
		ids = append(ids, strconv.Itoa(g.ID))
	}
	return strings.Join(ids, ",")
}

// TopRated selects the seed items: the user's highest-rated entries above
// the rating threshold, capped at seedLimit.
func TopRated(rated []store.RatedItem) []store.RatedItem {
	var seeds []store.RatedItem
	for _, item := range rated {
		if item.Rating > seedThreshold {
			seeds = append(seeds, item)
		}
	}
	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].Rating != seeds[j].Rating {
			return seeds[i].Rating > seeds[j].Rating
		}
		return seeds[i].MediaID < seeds[j].MediaID
	})
	if len(seeds) > seedLimit {
		seeds = seeds[:seedLimit]
	}
	return seeds
}

func topEntries(counts map[string]int, n int) []score.FreqEntry {
	entries := make([]score.FreqEntry, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, score.FreqEntry{Key: k, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
