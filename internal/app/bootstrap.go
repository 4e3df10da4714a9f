package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/spf13/afero"

	"github.com/dshills/scripthost/internal/config"
	"github.com/dshills/scripthost/internal/console"
	"github.com/dshills/scripthost/internal/dependency"
	"github.com/dshills/scripthost/internal/interop"
	"github.com/dshills/scripthost/internal/plugin"
	"github.com/dshills/scripthost/internal/plugin/lua"
	"github.com/dshills/scripthost/internal/scheduler"
)

// emptyDocument seeds a missing extension or dependency document.
const emptyDocument = "# Top-level keys are loaded in order.\n"

// bootstrapper initializes components in dependency order.
type bootstrapper struct {
	app  *Application
	opts Options
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{app: app, opts: app.opts}
}

func (b *bootstrapper) bootstrap() error {
	steps := []func() error{
		b.initSettings,
		b.initLogging,
		b.initLayout,
		b.initScheduler,
		b.initDependencies,
		b.initExtensions,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (b *bootstrapper) initSettings() error {
	b.app.fs = b.opts.Fs
	if b.app.fs == nil {
		b.app.fs = afero.NewOsFs()
	}

	settings, err := config.Load(config.LoadOptions{
		Fs:        b.app.fs,
		Path:      b.opts.ConfigPath,
		LookupEnv: b.opts.LookupEnv,
	})
	if err != nil {
		return &InitError{Component: "settings", Err: err}
	}
	if b.opts.LogLevel != "" {
		settings.Log.Level = b.opts.LogLevel
	}
	b.app.settings = settings
	return nil
}

func (b *bootstrapper) initLogging() error {
	logger, err := NewLogger(b.opts.LogOutput, b.app.settings.Log.Level)
	if err != nil {
		return &InitError{Component: "logging", Err: err}
	}
	b.app.logger = logger

	catalog := console.DefaultCatalog()
	if path := b.app.settings.MessagesPath(); path != "" {
		data, err := afero.ReadFile(b.app.fs, path)
		if err != nil {
			return &InitError{Component: "messages", Err: err}
		}
		override, err := console.ParseCatalog(data)
		if err != nil {
			return &InitError{Component: "messages", Err: fmt.Errorf("%s: %w", path, err)}
		}
		catalog = catalog.Merge(override)
	}
	b.app.reporter = console.NewLogReporter(logger.WithPrefix("console"), catalog)
	return nil
}

// initLayout creates the data directories and seeds missing documents.
func (b *bootstrapper) initLayout() error {
	s := b.app.settings
	for _, dir := range []string{s.ScriptsDir(), s.LibrariesDir()} {
		if err := b.app.fs.MkdirAll(dir, 0o755); err != nil {
			return &InitError{Component: "layout", Err: err}
		}
	}
	for _, doc := range []string{s.ExtensionsPath(), s.DependenciesPath()} {
		_, err := b.app.fs.Stat(doc)
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return &InitError{Component: "layout", Err: err}
		}
		if err := afero.WriteFile(b.app.fs, doc, []byte(emptyDocument), 0o644); err != nil {
			return &InitError{Component: "layout", Err: err}
		}
		b.app.logger.Debug("created document", "path", doc)
	}
	return nil
}

func (b *bootstrapper) initScheduler() error {
	b.app.loop = scheduler.NewLoop(0)
	b.app.sched = scheduler.New(b.app.loop)
	return nil
}

func (b *bootstrapper) initDependencies() error {
	s := b.app.settings
	client := b.opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: s.Provision.Timeout.Duration}
	}

	b.app.fetcher = dependency.NewFetcher(b.app.fs, s.LibrariesDir(),
		dependency.WithHTTPClient(client),
		dependency.WithTimeout(s.Provision.Timeout.Duration),
		dependency.WithUserAgent(s.Provision.UserAgent),
		dependency.WithReporter(b.app.reporter),
		dependency.WithLogger(b.app.logger.WithPrefix("deps")),
	)
	b.app.deps = dependency.NewSet()
	b.app.provisioner = dependency.NewProvisioner(b.app.fetcher, b.app.sched, b.app.deps,
		dependency.WithWorkers(s.Provision.Workers),
		dependency.WithProvisionReporter(b.app.reporter),
		dependency.WithProvisionLogger(b.app.logger.WithPrefix("deps")),
	)
	return nil
}

func (b *bootstrapper) initExtensions() error {
	s := b.app.settings
	b.app.hub = interop.NewHub(s.Interop.Placeholders)

	loader := plugin.NewLoader(s.ScriptsDir(),
		config.NewYAMLSource(b.app.fs, s.ExtensionsPath()),
		plugin.WithFs(b.app.fs),
	)
	factory := lua.NewFactory(b.app.fs,
		lua.WithDependencies(b.app.deps),
		lua.WithScheduler(b.app.sched),
		lua.WithFactoryCallTimeout(s.Lua.CallTimeout.Duration),
	)
	b.app.coord = plugin.NewCoordinator(loader, factory, plugin.NewRegistry(), b.app.hub,
		plugin.WithReporter(b.app.reporter),
		plugin.WithLogger(b.app.logger.WithPrefix("scripts")),
		plugin.WithScheduler(b.app.sched),
	)
	return nil
}
