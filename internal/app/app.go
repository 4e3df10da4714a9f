// Package app wires the host together: settings, logging, the dependency
// provisioner, the extension coordinator and the console, all around one
// primary loop.
package app

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/dshills/scripthost/internal/config"
	"github.com/dshills/scripthost/internal/console"
	"github.com/dshills/scripthost/internal/dependency"
	"github.com/dshills/scripthost/internal/interop"
	"github.com/dshills/scripthost/internal/plugin"
	"github.com/dshills/scripthost/internal/scheduler"
)

// Application is the central coordinator for all host components.
type Application struct {
	opts     Options
	settings config.Settings
	fs       afero.Fs

	logger   *log.Logger
	reporter console.Reporter

	loop  *scheduler.Loop
	sched *scheduler.Scheduler

	fetcher     *dependency.Fetcher
	provisioner *dependency.Provisioner
	deps        *dependency.Set

	hub   *interop.Hub
	coord *plugin.Coordinator

	running  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
}

// Options configures the application.
type Options struct {
	// ConfigPath is the settings file. Defaults to config.DefaultFileName.
	ConfigPath string

	// LogLevel overrides the settings' log level when set.
	LogLevel string

	// Fs is the file system for settings, documents, scripts and artifacts.
	// Defaults to the OS file system.
	Fs afero.Fs

	// LookupEnv reads environment overrides. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// HTTPClient fetches artifacts. Defaults to a client bounded by the
	// provision timeout.
	HTTPClient *http.Client

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// Stdin feeds the console. Nil disables it.
	Stdin io.Reader

	// Stdout receives console replies. Defaults to os.Stdout.
	Stdout io.Writer
}

// New creates an Application. Nothing is provisioned or loaded until Run.
func New(opts Options) (*Application, error) {
	app := &Application{
		opts: opts,
		quit: make(chan struct{}),
	}

	if err := newBootstrapper(app).bootstrap(); err != nil {
		return nil, err
	}

	return app, nil
}

// Settings returns the loaded settings.
func (app *Application) Settings() config.Settings {
	return app.settings
}

// Logger returns the root logger.
func (app *Application) Logger() *log.Logger {
	return app.logger
}

// Hub returns the host subsystems extensions register into.
func (app *Application) Hub() *interop.Hub {
	return app.hub
}

// Coordinator returns the extension coordinator.
func (app *Application) Coordinator() *plugin.Coordinator {
	return app.coord
}

// Dependencies returns the outcome of the latest provisioning run.
func (app *Application) Dependencies() *dependency.Set {
	return app.deps
}

// Stop asks Run to return. It is safe to call more than once.
func (app *Application) Stop() {
	app.quitOnce.Do(func() {
		close(app.quit)
	})
}

// Provision resolves every dependency in the dependencies document.
func (app *Application) Provision(ctx context.Context) ([]dependency.Resolved, error) {
	src := config.NewYAMLSource(app.fs, app.settings.DependenciesPath())
	return app.provisioner.Provision(ctx, src)
}

// Register discovers and loads every extension on the primary loop.
func (app *Application) Register(ctx context.Context) (*plugin.Report, error) {
	var report *plugin.Report
	err := app.onPrimary(ctx, func(ctx context.Context) error {
		var err error
		report, err = app.coord.Register(ctx)
		return err
	})
	return report, err
}

// Reload reloads every extension. The coordinator moves the work onto the
// primary loop itself.
func (app *Application) Reload(ctx context.Context) (*plugin.Report, error) {
	report, err := app.coord.Reload(ctx)
	if err != nil {
		app.logger.Error("reload failed", "err", err)
		return nil, err
	}
	return report, nil
}

// onPrimary runs task on the primary loop, or inline when the loop is not
// running.
func (app *Application) onPrimary(ctx context.Context, task scheduler.Task) error {
	if !app.sched.PrimaryRunning() {
		return task(ctx)
	}
	return app.sched.RunSync(ctx, scheduler.PlacementPrimary, task)
}
