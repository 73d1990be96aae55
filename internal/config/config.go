// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Domain selects the media flavour a deployment serves. Movie and TV
// deployments share all code but differ in routing key, collection names
// and which discovery axis (directors vs networks) the aggregator uses.
const (
	DomainMovie = "movie"
	DomainTV    = "tv"
)

// Config holds all runtime settings for the API and worker processes.
type Config struct {
	Domain   string
	HTTPAddr string

	MongoURI string
	MongoDB  string

	AMQPUrl  string
	Exchange string

	CatalogBaseURL   string
	CatalogReadToken string

	// Domain-derived settings.
	RequestRoutingKey string
	ReccCollection    string
	RatedCollection   string

	// Timing knobs for the request/reply round trip.
	ReplyTimeout   time.Duration // how long a requester waits for a worker reply
	ConsumeTimeout time.Duration // default bound for ConsumeFirst
	MessageTTL     time.Duration // broker message expiration
	PollInterval   time.Duration // in-progress poll spacing
	PollAttempts   int           // in-progress poll budget
	FanoutLimit    int           // max concurrent catalog requests
}

// Load reads configuration from environment variables, applying defaults
// where unset. It returns an error only for settings that have no sane
// default (the Mongo and AMQP endpoints).
func Load() (*Config, error) {
	cfg := &Config{
		Domain:           getEnv("MEDIA_DOMAIN", DomainMovie),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "media_db"),
		AMQPUrl:          os.Getenv("AMQP_URL"),
		Exchange:         getEnv("BROKER_EXCHANGE", "media-exchange"),
		CatalogBaseURL:   getEnv("CATALOG_BASE_URL", "https://api.themoviedb.org/3"),
		CatalogReadToken: os.Getenv("CATALOG_READ_TOKEN"),
		ReplyTimeout:     getDuration("REPLY_TIMEOUT", 20*time.Second),
		ConsumeTimeout:   getDuration("CONSUME_TIMEOUT", 20*time.Second),
		MessageTTL:       getDuration("MESSAGE_TTL", 60*time.Second),
		PollInterval:     getDuration("POLL_INTERVAL", 5*time.Second),
		PollAttempts:     getInt("POLL_ATTEMPTS", 5),
		FanoutLimit:      getInt("FANOUT_LIMIT", 8),
	}

	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required")
	}
	if cfg.AMQPUrl == "" {
		return nil, fmt.Errorf("AMQP_URL is required")
	}

	switch cfg.Domain {
	case DomainTV:
		cfg.RequestRoutingKey = "television_recommendations"
		cfg.ReccCollection = "recommended_televisions"
		cfg.RatedCollection = "television_rateds"
	case DomainMovie:
		cfg.RequestRoutingKey = "movie_recommendations"
		cfg.ReccCollection = "recommended_movies"
		cfg.RatedCollection = "rated_movies"
	default:
		return nil, fmt.Errorf("unknown MEDIA_DOMAIN %q", cfg.Domain)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
