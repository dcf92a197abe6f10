// Package main initializes the identity database: it opens the configured
// SQLite store, applies any pending migrations, and exits.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/addline/identity/internal/platform/config"
	"github.com/addline/identity/internal/services/identity/app"
)

func main() {
	log.SetPrefix("[IDENTITY] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx)
	if err != nil {
		config.Exitf("Error: %v", err)
	}
	if err := application.Close(ctx); err != nil {
		config.Exitf("Error: %v", err)
	}
	log.Print("identity store ready")
}
