package validation

// RecommendationsRequest is the payload for POST /recommendations
type RecommendationsRequest struct {
	UserID string `json:"user_id" validate:"required"` // business id for the requesting user
}

// WatchlistRequest is the payload for POST /watchlist
type WatchlistRequest struct {
	MediaIDs []int `json:"media_ids" validate:"required,min=1,dive,gt=0"` // at least one catalog id
}
