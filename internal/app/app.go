// Package app assembles the tracker: the UDP engine, the gamelog watcher,
// the web surfaces, the archive sink and the cron jobs, all hung off a
// PocketBase application shell.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/spf13/cobra"

	"dxx-tracker/internal/aggregate"
	"dxx-tracker/internal/archive"
	"dxx-tracker/internal/config"
	"dxx-tracker/internal/gamelog"
	"dxx-tracker/internal/registry"
	"dxx-tracker/internal/tracker"
	"dxx-tracker/internal/watcher"
	"dxx-tracker/internal/web"
)

// App wraps PocketBase with the tracker components.
type App struct {
	*pocketbase.PocketBase

	Config   *config.Config
	Registry *registry.Registry
	Merger   *aggregate.Merger

	engine  *tracker.Engine
	hub     *web.Hub
	server  *web.Server
	snap    *web.Snapshotter
	watcher *watcher.Watcher
	sink    archive.Sink

	cancel context.CancelFunc

	// Version information (injected at build time via ldflags)
	Version string
	Commit  string
	Date    string
}

// New creates and initializes the tracker application.
func New() (*App, error) {
	return NewWithVersion("dev", "unknown", "unknown")
}

// NewWithVersion creates a new app with version information.
func NewWithVersion(version, commit, date string) (*App, error) {
	app := &App{
		PocketBase: pocketbase.New(),
		Version:    version,
		Commit:     commit,
		Date:       date,
	}

	if err := app.setupServices(); err != nil {
		return nil, fmt.Errorf("failed to setup services: %w", err)
	}
	app.setupPlugins()
	return app, nil
}

func (app *App) setupServices() error {
	cfgVal := app.Store().GetOrSet("config", func() any {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return cfg
	})
	if err, ok := cfgVal.(error); ok {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfgVal.(*config.Config)

	app.Registry = app.Store().GetOrSet("registry", func() any {
		return registry.New(nil)
	}).(*registry.Registry)

	app.Merger = app.Store().GetOrSet("merger", func() any {
		return aggregate.NewMerger()
	}).(*aggregate.Merger)

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		app.Registry = nil
		app.Merger = nil
		return e.Next()
	})
	return nil
}

func (app *App) setupPlugins() {
	migratecmd.MustRegister(app.PocketBase, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	app.RootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dxx-tracker version %s\n", app.Version)
			fmt.Printf("Commit: %s\n", app.Commit)
			fmt.Printf("Date: %s\n", app.Date)
		},
	})
}

// Bootstrap registers the lifecycle hooks.
func (app *App) Bootstrap() error {
	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		return app.onServe(e)
	})
	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		return app.onTerminate(e)
	})
	return nil
}

func (app *App) onServe(e *core.ServeEvent) error {
	logger := app.Logger().With("component", "APP")
	logger.Info("starting dxx-tracker", "version", app.Version)

	if err := app.Config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	// Web surfaces first, so the engine has somewhere to notify.
	app.hub = web.NewHub(app.Logger().With("component", "WS"), nil)
	bc := web.NewBroadcaster(app.hub, app.Registry)
	app.hub.SetOnConnect(bc.ConnectFrames)

	// The snapshotter rides the same notification stream as the websocket
	// feed, so every mutation lands on disk; the ticker covers poll ticks
	// that change nothing.
	notify := tracker.Notifier(bc)
	if app.Config.SnapshotPath != "" {
		app.snap = web.NewSnapshotter(app.Logger().With("component", "SNAPSHOT"), app.Registry, app.Config.SnapshotPath)
		go app.snap.Run(ctx, tracker.PollInterval)
		notify = tracker.MultiNotifier{bc, app.snap}
	}

	engine, err := tracker.Listen(app.Config.UDPPort, app.Registry, app.Merger, notify, app.Logger().With("component", "UDP"))
	if err != nil {
		cancel()
		return fmt.Errorf("failed to bind tracker socket on :%d: %w", app.Config.UDPPort, err)
	}
	app.engine = engine
	logger.Info("tracker socket bound", "port", app.Config.UDPPort)

	api := web.NewAPI(app.Logger().With("component", "HTTP"), app.Registry, app.Merger, app.hub, app.Version)
	app.server = web.NewServer(app.Logger().With("component", "HTTP"), api, app.hub, app.Config.HTTPPort, app.Config.WSPort)
	app.server.Start()

	app.sink = archive.NewPBSink(app.PocketBase, app.Logger().With("component", "ARCHIVE"))

	if err := app.startWatcher(ctx, bc); err != nil {
		logger.Warn("local gamelog watcher disabled", "error", err)
	}

	go func() {
		if err := app.engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("udp engine stopped", "error", err)
		}
	}()

	// Reap idle matches once a minute and archive what expired.
	app.Cron().MustAdd("reapExpiredMatches", "* * * * *", func() {
		for _, r := range app.engine.ReapOnce() {
			if err := app.sink.Save(context.Background(), &r.Match, r.Events); err != nil {
				app.Logger().Error("archive failed", "component", "ARCHIVE", "match", string(r.Match.Key), "error", err)
			}
		}
	})

	return e.Next()
}

// startWatcher wires the local gamelog tail into the merge path. Appended
// lines are parsed and merged into the single live match; with several
// matches live the lines have no unambiguous home and are skipped.
func (app *App) startWatcher(ctx context.Context, bc *web.Broadcaster) error {
	dirs := app.Config.WatchDirs()
	if len(dirs) == 0 {
		return fmt.Errorf("no gamelog directories to watch")
	}

	log := app.Logger().With("component", "WATCHER")
	w, err := watcher.New(log, dirs,
		func(path string, lines []byte) {
			app.mergeLocalLines(log, lines)
		},
		func(path string) {
			bc.GamelogReset()
		},
	)
	if err != nil {
		return err
	}
	app.watcher = w
	return w.Start(ctx)
}

func (app *App) mergeLocalLines(log *slog.Logger, lines []byte) {
	all := app.Registry.All()
	if len(all) != 1 {
		log.Debug("gamelog lines skipped", "liveMatches", len(all))
		return
	}
	m := all[0]
	res := gamelog.Parse(lines, app.Config.LocalPlayer)
	added, err := app.Merger.IngestTextual(app.Registry, m.Key, res, m.DisplayNames())
	if err != nil {
		log.Warn("gamelog merge failed", "match", string(m.Key), "error", err)
		return
	}
	if added > 0 {
		log.Debug("gamelog lines merged", "match", string(m.Key), "added", added)
	}
}

func (app *App) onTerminate(e *core.TerminateEvent) error {
	// Stop the inbound side first, then the feeds reading from it.
	if app.cancel != nil {
		app.cancel()
	}
	if app.watcher != nil {
		app.watcher.Stop()
	}
	if app.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		app.server.Shutdown(shutdownCtx)
	}
	return e.Next()
}
