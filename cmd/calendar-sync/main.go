package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"gtdsync/calendar"
	"gtdsync/config"
	"gtdsync/storage"
)

func main() {
	config.SetupLogging()
	log.Info("calendar sync starting")

	cfg := config.Load()
	if cfg.ConnectionString == "" || cfg.ChangesQueue == "" {
		log.Fatal("missing storage config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := storage.OpenChangeQueue(cfg.ConnectionString, cfg.ChangesQueue)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}
	client, err := calendar.HTTPClient(ctx, cfg.CredentialsFile, cfg.TokenFile)
	if err != nil {
		log.Fatalf("google auth: %v", err)
	}
	events, err := calendar.NewGoogleEvents(ctx, client, cfg.CalendarID)
	if err != nil {
		log.Fatalf("calendar: %v", err)
	}

	syncer := calendar.NewSyncer(events)
	syncer.UserID = cfg.CalendarUserID
	syncer.Poll = cfg.PollInterval
	syncer.Run(ctx, queue)
	log.Info("calendar sync stopped")
}
