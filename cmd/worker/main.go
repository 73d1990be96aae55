package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/reelworthy/go-recommendation-flow/internal/aggregate"
	"github.com/reelworthy/go-recommendation-flow/internal/broker"
	"github.com/reelworthy/go-recommendation-flow/internal/catalog"
	"github.com/reelworthy/go-recommendation-flow/internal/config"
	"github.com/reelworthy/go-recommendation-flow/internal/recommend"
	"github.com/reelworthy/go-recommendation-flow/internal/store"
)

func main() {
	_ = godotenv.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	tvDomain := cfg.Domain == config.DomainTV
	agg := aggregate.New(rated, cat, tvDomain, cfg.FanoutLimit, log)
	processor := recommend.NewProcessor(agg, reccs, brk, tvDomain, log)
	worker := recommend.NewWorker(brk, cfg.RequestRoutingKey, processor, log)

	log.Info().Str("routing_key", cfg.RequestRoutingKey).Str("domain", cfg.Domain).Msg("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("worker stopped")
	}
	log.Info().Msg("worker shut down")
}
