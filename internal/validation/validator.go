package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// maximum ids resolved per watchlist request; keeps catalog fan-out bounded
const maxWatchlistIDs = 40

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(watchlistStructValidation, WatchlistRequest{})

	return v
}

func watchlistStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(WatchlistRequest)

	if len(req.MediaIDs) > maxWatchlistIDs {
		sl.ReportError(req.MediaIDs, "media_ids", "MediaIDs", "max_watchlist_ids", "")
	}

	seen := map[int]struct{}{}
	for _, id := range req.MediaIDs {
		if _, dup := seen[id]; dup {
			sl.ReportError(req.MediaIDs, "media_ids", "MediaIDs", "unique_media_ids", "")
			return
		}
		seen[id] = struct{}{}
	}
}
