package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reelworthy/go-recommendation-flow/internal/catalog"
	"github.com/reelworthy/go-recommendation-flow/internal/recommend"
	"github.com/reelworthy/go-recommendation-flow/internal/store"
	"github.com/reelworthy/go-recommendation-flow/internal/validation"
)

// Recommender resolves recommendations for a user, triggering computation
// when needed.
type Recommender interface {
	Get(ctx context.Context, userID string) (*store.ReccDocument, error)
}

// Watchlister resolves media ids into catalog records.
type Watchlister interface {
	Details(ctx context.Context, mediaIDs []int) ([]catalog.Item, error)
}

// PingFunc probes one downstream dependency.
type PingFunc func(ctx context.Context) error

// HandlerConfig groups dependencies for the API routes.
type HandlerConfig struct {
	Recommender Recommender
	Watchlist   Watchlister
	MongoPing   PingFunc
	CatalogPing PingFunc
	BrokerPing  PingFunc
}

// RegisterRoutes registers the API surface.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "reelworthy recommendation api"})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/mongo_ping", pingRoute("mongo", cfg.MongoPing))
	r.GET("/tmdb_ping", pingRoute("tmdb", cfg.CatalogPing))
	r.GET("/rmq_ping", pingRoute("rabbitmq", cfg.BrokerPing))

	r.POST("/recommendations", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.RecommendationsRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		doc, err := cfg.Recommender.Get(ctx, req.UserID)
		switch {
		case errors.Is(err, recommend.ErrStillComputing):
			c.JSON(http.StatusAccepted, gin.H{"message": "recommendations are being computed, try again shortly"})
		case errors.Is(err, recommend.ErrComputeFailed):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "computation_failed"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "recommendations_unavailable", "detail": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{
				"user_id":         doc.UserID,
				"state":           doc.State,
				"updated_at":      doc.UpdatedAt,
				"recommendations": doc.Recommendations,
			})
		}
	})

	r.POST("/watchlist", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.WatchlistRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		items, err := cfg.Watchlist.Details(ctx, req.MediaIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "watchlist_lookup_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	})
}

func pingRoute(name string, ping PingFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ping_not_configured", "target": name})
			return
		}
		if err := ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ping_failed", "target": name, "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "target": name})
	}
}
