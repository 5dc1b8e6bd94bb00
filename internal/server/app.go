// Package server initializes and runs the transfer service.
// It wires the Redis session store, the Postgres transfer history, the S3
// presigner and the relay hub together, runs embedded migrations, and starts
// the HTTP server with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/droplink/internal/logging"
	"github.com/dmitrijs2005/droplink/internal/server/config"
	"github.com/dmitrijs2005/droplink/internal/server/httpapi"
	"github.com/dmitrijs2005/droplink/internal/server/kv"
	"github.com/dmitrijs2005/droplink/internal/server/live"
	"github.com/dmitrijs2005/droplink/internal/server/migrations"
	"github.com/dmitrijs2005/droplink/internal/server/relay"
	"github.com/dmitrijs2005/droplink/internal/server/repositories/transfers"
	"github.com/dmitrijs2005/droplink/internal/server/sessions"
	"github.com/dmitrijs2005/droplink/internal/server/storage"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	service  *sessions.Service
	hub      *relay.Hub
	notifier *live.Notifier
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}

	return nil
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := runMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})

	store := kv.NewRedisStore(rdb)
	records := transfers.NewPostgresRepository(db)
	presigner := storage.NewS3Presigner(c)

	service := sessions.NewService(store, records, presigner, c, logger)
	hub := relay.NewHub(service, logger)
	notifier := live.NewNotifier(service, c.LiveInterval, c.SessionTTL, logger)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		service:  service,
		hub:      hub,
		notifier: notifier,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	handlers := httpapi.NewHandlers(app.service, app.hub, app.notifier, app.logger)

	srv := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: httpapi.NewRouter(handlers),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "error", err.Error())
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddrHTTP)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
