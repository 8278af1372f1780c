// Package server initializes and runs the message server application.
// It selects a storage backend, wires the request handlers to the
// connection dispatcher, and handles graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/postbox/internal/logging"
	"github.com/dmitrijs2005/postbox/internal/server/config"
	"github.com/dmitrijs2005/postbox/internal/server/delivery"
	"github.com/dmitrijs2005/postbox/internal/server/dispatch"
	"github.com/dmitrijs2005/postbox/internal/server/service"
	"github.com/dmitrijs2005/postbox/internal/server/store"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	store      store.Store
	dispatcher *dispatch.Dispatcher
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slog := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slog)

	var st store.Store
	var err error
	if c.DatabaseDSN != "" {
		st, err = store.NewPostgresStore(ctx, c.DatabaseDSN)
	} else {
		st, err = store.NewFSStore(c.DataDir)
	}
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}

	pusher := delivery.NewClient(logger)
	svc := service.NewService(st, pusher, logger)
	d := dispatch.NewDispatcher(c.BindAddr, c.QueueSize, c.Workers, svc, logger)

	return &App{config: c, logger: logger, store: st, dispatcher: d}, nil
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

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.dispatcher.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
