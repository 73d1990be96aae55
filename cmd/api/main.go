package main

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/reelworthy/go-recommendation-flow/internal/broker"
	"github.com/reelworthy/go-recommendation-flow/internal/catalog"
	"github.com/reelworthy/go-recommendation-flow/internal/config"
	"github.com/reelworthy/go-recommendation-flow/internal/handlers"
	"github.com/reelworthy/go-recommendation-flow/internal/recommend"
	"github.com/reelworthy/go-recommendation-flow/internal/store"
	"github.com/reelworthy/go-recommendation-flow/internal/watchlist"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	_ = godotenv.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	ctx := context.Background()
	mongo, err := store.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to mongo")
	}
	defer func() { _ = mongo.Disconnect(context.Background()) }()
	db := mongo.Database(cfg.MongoDB)

	rated := store.NewRatedStore(db, cfg.RatedCollection)
	reccs := store.NewReccStore(db, cfg.ReccCollection)
	cat := catalog.NewHTTPClient(cfg.CatalogBaseURL, cfg.CatalogReadToken, cfg.Domain, log)
	brk := broker.NewClient(cfg.AMQPUrl, cfg.Exchange, cfg.MessageTTL, log)
	defer func() { _ = brk.Close() }()

	svc := recommend.NewService(rated, reccs, brk, recommend.Options{
		RequestRoutingKey: cfg.RequestRoutingKey,
		ReplyTimeout:      cfg.ReplyTimeout,
		PollInterval:      cfg.PollInterval,
		PollAttempts:      cfg.PollAttempts,
	}, log)
	wl := watchlist.New(cat, cfg.FanoutLimit, log)

	r := setupRouter(handlers.HandlerConfig{
		Recommender: svc,
		Watchlist:   wl,
		MongoPing: func(ctx context.Context) error {
			return mongo.Ping(ctx, nil)
		},
		CatalogPing: cat.Ping,
		BrokerPing:  brk.Ping,
	})

	log.Info().Str("addr", cfg.HTTPAddr).Str("domain", cfg.Domain).Msg("starting api server")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
