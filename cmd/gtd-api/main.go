package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"gtdsync/api"
	"gtdsync/command"
	"gtdsync/config"
	"gtdsync/session"
	"gtdsync/storage"
	"gtdsync/subscription"
)

func main() {
	config.SetupLogging()
	cfg := config.Load()
	if err := cfg.ValidateStorage(); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := redis.NewClient(config.RedisOptions(cfg.RedisConnection))
	defer rc.Close()

	hub := subscription.NewHub(rc, cfg.ChangesChannel)
	go hub.Run(ctx)

	store, err := storage.New(storage.Config{
		ConnectionString: cfg.ConnectionString,
		TasksTable:       cfg.TasksTable,
		ProjectsTable:    cfg.ProjectsTable,
		CategoriesTable:  cfg.CategoriesTable,
		SettingsTable:    cfg.SettingsTable,
		ChangesQueue:     cfg.ChangesQueue,
	}, hub, storage.NewCache(rc, cfg.SnapshotTTL))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var auth *api.Auth
	if cfg.AuthTestMode {
		if cfg.TestJWTSecret == "" {
			log.Fatal("missing TEST_JWT_SECRET")
		}
		auth = api.NewTestAuth([]byte(cfg.TestJWTSecret))
	} else {
		if cfg.Auth0Audience == "" || cfg.Auth0Domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
	}

	sessions := api.NewSessionManager(store, session.Options{
		Command: command.Options{
			Workers:      cfg.CommandWorkers,
			Buffer:       cfg.CommandBuffer,
			WriteTimeout: cfg.WriteTimeout,
		},
		CreateGrace: cfg.CreateGrace,
	}, cfg.SessionIdle)
	go sessions.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(echoprometheus.NewMiddleware("gtdsync"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, sessions, auth, api.NewRedisDeduper(rc, cfg.IdempotencyTTL), log.StandardLogger())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	listenAddr := ":" + cfg.Port
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}
	if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
