// Package plugin coordinates the lifecycle of script extensions.
//
// A Loader reads the scripts document and lists each unit's source files. The
// Coordinator creates one Executor per source through a Factory, runs its
// onLoad hook and records every host registration the extension makes through
// its Binder. Failures are isolated: a source that fails to compile or whose
// onLoad fails is rolled back and the next source is loaded.
//
// # Lifecycle
//
//	unloaded -> discovering -> loaded -> unloading -> unloaded
//	loaded   -> reloading   -> unloading -> discovering -> loaded
//
// Unload tears registrations down one subsystem at a time in a fixed order:
// commands, placeholders (when available), easy listeners, then plain
// listeners. Easy listeners wrap a plain listener, so they must go first.
// After each subsystem, anything an extension still holds there is swept.
//
// # Usage
//
//	loader := plugin.NewLoader(settings.ScriptsDir(), config.NewYAMLSource(fs, settings.ExtensionsPath()))
//	coord := plugin.NewCoordinator(loader, lua.NewFactory(fs), nil, interop.NewHub(true),
//	    plugin.WithReporter(reporter),
//	    plugin.WithScheduler(sched),
//	)
//	report, err := coord.Register(ctx)
//
// Reload always runs on the scheduler's primary loop.
package plugin
