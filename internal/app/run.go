package app

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/dshills/scripthost/internal/config/watcher"
	"github.com/dshills/scripthost/internal/plugin"
	"github.com/dshills/scripthost/internal/scheduler"
)

// Run starts the primary loop, provisions dependencies, loads every extension
// and serves the console until ctx is cancelled or Stop is called. Extensions
// are unloaded before Run returns.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	// The loop outlives ctx so shutdown can still unload on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		app.loop.Run(loopCtx)
	}()
	defer func() {
		app.loop.Close()
		stopLoop()
		<-loopDone
	}()

	// Wait for the loop to pick up work so Register runs on it.
	if err := app.sched.RunSync(ctx, scheduler.PlacementPrimary, func(context.Context) error { return nil }); err != nil {
		return err
	}

	if _, err := app.Provision(ctx); err != nil {
		return err
	}
	if _, err := app.Register(ctx); err != nil {
		return err
	}
	defer app.shutdown()

	if app.settings.Watch.Enabled {
		w, err := app.startWatcher(ctx)
		if err != nil {
			app.logger.Warn("watching disabled", "err", err)
		} else {
			defer w.Close()
		}
	}

	if app.opts.Stdin != nil {
		go func() {
			err := app.Serve(ctx, app.opts.Stdin)
			if errors.Is(err, ErrQuit) {
				app.Stop()
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-app.quit:
	}
	return nil
}

// shutdown unloads every extension on the primary loop.
func (app *Application) shutdown() {
	err := app.onPrimary(context.Background(), func(ctx context.Context) error {
		return app.coord.Unload(ctx)
	})
	if err != nil {
		app.logger.Error("unloading extensions", "err", err)
	}
}

// startWatcher reloads extensions when their document or sources change.
func (app *Application) startWatcher(ctx context.Context) (*watcher.Watcher, error) {
	w, err := watcher.New(
		watcher.WithDebounce(app.settings.Watch.Debounce.Duration),
		watcher.WithLogger(app.logger.WithPrefix("watch")),
	)
	if err != nil {
		return nil, err
	}
	if err := w.AddFile(app.settings.ExtensionsPath()); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.AddTree(app.settings.ScriptsDir(), plugin.SourceExt); err != nil {
		_ = w.Close()
		return nil, err
	}

	go func() {
		err := w.Run(ctx, func(paths []string) {
			app.logger.Info("changes detected, reloading", "files", len(paths))
			_, _ = app.Reload(ctx)
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, watcher.ErrWatcherClosed) {
			app.logger.Warn("watcher stopped", "err", err)
		}
	}()
	return w, nil
}

// HandleSignal maps a process signal onto the application: SIGHUP reloads,
// anything else stops.
func (app *Application) HandleSignal(ctx context.Context, sig os.Signal) {
	if sig == syscall.SIGHUP {
		app.logger.Info("hangup received, reloading")
		_, _ = app.Reload(ctx)
		return
	}
	app.logger.Info("signal received, stopping", "signal", sig)
	app.Stop()
}
