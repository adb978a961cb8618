package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"gtdsync/config"
)

func main() {
	config.SetupLogging()
	log.Info("storage init starting")

	cfg := config.Load()
	if cfg.ConnectionString == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx := context.Background()
	if err := createTables(ctx, cfg.ConnectionString, []string{cfg.TasksTable, cfg.ProjectsTable, cfg.CategoriesTable, cfg.SettingsTable}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := createQueues(ctx, cfg.ConnectionString, []string{cfg.ChangesQueue}); err != nil {
		log.Fatalf("create queues: %v", err)
	}
	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		var respErr *azcore.ResponseError
		switch {
		case err == nil:
			log.WithField("table", name).Info("table created")
		case errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists):
			log.WithField("table", name).Debug("table already exists")
		default:
			return err
		}
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		var respErr *azcore.ResponseError
		switch {
		case err == nil:
			log.WithField("queue", name).Info("queue created")
		case errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists":
			log.WithField("queue", name).Debug("queue already exists")
		default:
			return err
		}
	}
	return nil
}
