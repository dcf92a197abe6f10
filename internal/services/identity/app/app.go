// Package app wires the identity subsystem: configuration, tracing, storage
// and the three domain services. Transport lives outside this module.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/addline/identity/internal/platform/config"
	"github.com/addline/identity/internal/platform/otel"
	"github.com/addline/identity/internal/services/identity/credentials"
	"github.com/addline/identity/internal/services/identity/lifecycle"
	"github.com/addline/identity/internal/services/identity/linking"
	"github.com/addline/identity/internal/services/identity/query"
	"github.com/addline/identity/internal/services/identity/storage/sqlite"
)

// Config holds the environment-driven settings for the identity subsystem.
type Config struct {
	// DBPath is the SQLite database file location.
	DBPath string `env:"IDENTITY_DB_PATH" envDefault:"identity.db"`
}

// App is the assembled identity subsystem.
type App struct {
	Lifecycle   *lifecycle.Service
	Linking     *linking.Service
	Query       *query.Service
	Credentials credentials.Hasher

	store        *sqlite.Store
	shutdownOTel func(context.Context) error
}

// New loads configuration from the environment and assembles the subsystem.
func New(ctx context.Context) (*App, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig assembles the subsystem from explicit configuration.
func NewWithConfig(ctx context.Context, cfg Config) (*App, error) {
	shutdownOTel, err := otel.Setup(ctx, "identity")
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		if shutdownErr := shutdownOTel(ctx); shutdownErr != nil {
			log.Printf("shutdown tracing: %v", shutdownErr)
		}
		return nil, fmt.Errorf("open identity store: %w", err)
	}

	return &App{
		Lifecycle:    lifecycle.NewService(store),
		Linking:      linking.NewService(store),
		Query:        query.NewService(store),
		Credentials:  credentials.NewBcryptHasher(),
		store:        store,
		shutdownOTel: shutdownOTel,
	}, nil
}

// Close releases the store and flushes tracing.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("close store: %w", err)
		}
	}
	if a.shutdownOTel != nil {
		if err := a.shutdownOTel(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown tracing: %w", err)
		}
	}
	return firstErr
}
