// Package watchlist resolves a user's saved media ids into full catalog
// records.
package watchlist

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/reelworthy/go-recommendation-flow/internal/catalog"
)

type Service struct {
	catalog catalog.Client
	limit   int
	log     zerolog.Logger
}

func New(cat catalog.Client, limit int, logger zerolog.Logger) *Service {
	return &Service{
		catalog: cat,
		limit:   limit,
		log:     logger.With().Str("component", "watchlist").Logger(),
	}
}

// Details fetches the catalog record for every id, preserving input order.
// Any failed lookup fails the whole call.
func (s *Service) Details(ctx context.Context, mediaIDs []int) ([]catalog.Item, error) {
	items := make([]catalog.Item, len(mediaIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, id := range mediaIDs {
		i, id := i, id
		g.Go(func() error {
			item, err := s.catalog.Info(ctx, id)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
