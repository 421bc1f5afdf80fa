package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/afumu/barlens/dma"
	"github.com/afumu/barlens/internal/config"
	"github.com/afumu/barlens/internal/game/gamesim"
	"github.com/afumu/barlens/internal/logger"
	"github.com/afumu/barlens/internal/model"
	"github.com/afumu/barlens/internal/monitor"
	"github.com/afumu/barlens/internal/offsets"
	"github.com/afumu/barlens/internal/snapshot"
	"github.com/afumu/barlens/internal/worker"
	"github.com/afumu/barlens/store"
	"github.com/afumu/barlens/web"
	"github.com/afumu/barlens/web/api"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
)

const historyRetention = 7 * 24 * time.Hour

var startedAt = time.Now()

var runCommand = cli.Command{
	Name:   "run",
	Usage:  "attach to the game and serve the readout (default)",
	Action: runAction,
}

// setup loads the config and the logger shared by every command.
func setup(c *cli.Context) (*config.Config, func(), error) {
	conf, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, nil, err
	}
	closer, err := logger.Setup(conf.LogLevel, conf.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return conf, func() { closer.Close() }, nil
}

func loadTable(path string) (*offsets.Table, error) {
	if path == "" {
		return offsets.Default(), nil
	}
	return offsets.Load(path)
}

// openChannel opens the configured dma driver. The "sim" channel serves
// an animated demo table built on the active layout.
func openChannel(ctx context.Context, conf *config.Config, t *offsets.Table) (dma.Channel, error) {
	if conf.Channel == "sim" {
		dma.Register("sim", gamesim.Driver(ctx, t, 2*time.Second))
	}
	return dma.Open(dma.Config{
		Driver:     conf.Channel,
		Device:     conf.Device,
		MemMapPath: conf.MemMapPath,
		PID:        conf.PID,
	})
}

func runAction(c *cli.Context) error {
	conf, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table, err := loadTable(conf.OffsetsPath)
	if err != nil {
		return fmt.Errorf("load offsets: %w", err)
	}
	holder := offsets.NewHolder(table)
	log.Info().Str("version", table.Version).Msg("offsets loaded")

	if conf.OffsetsPath != "" {
		watcher, err := offsets.NewWatcher(conf.OffsetsPath, holder)
		if err != nil {
			log.Warn().Err(err).Msg("offsets hot reload disabled")
		} else {
			watcher.OnReload(func(t *offsets.Table) {
				log.Info().Str("version", t.Version).Msg("offsets reloaded, applied from the next session")
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	ch, err := openChannel(ctx, conf, table)
	if err != nil {
		return fmt.Errorf("open %s channel: %w", conf.Channel, err)
	}

	board := snapshot.NewBoard()
	sinks := snapshot.Fanout{board}

	notifier := monitor.NewNotifier(conf.WebhookURL)
	defer notifier.Close(5 * time.Second)

	var (
		history  store.Store
		recorder *store.Recorder
	)
	if conf.HistoryEnabled {
		ds, err := store.NewStore(conf.WorkDir)
		if err != nil {
			ch.Close()
			return err
		}
		defer ds.Close()
		history = ds
		recorder = store.NewRecorder(ds, store.WithRetention(historyRetention))
		go recorder.Run(context.Background())
		defer recorder.Close()
		sinks = append(sinks, recorder)
		log.Info().Str("dir", conf.WorkDir).Msg("history enabled")
	}

	hooks := worker.Hooks{
		OnTransition: func(t worker.Transition) {
			notifier.Transition(t.From.String(), t.To.String(), t.SessionID)
			if recorder != nil {
				recorder.Transition(model.Transition{At: t.At, From: t.From.String(), To: t.To.String(), SessionID: t.SessionID})
			}
		},
		OnSessionStart: func(id string) {
			notifier.SessionStarted(id)
			if recorder != nil {
				recorder.SessionStarted(id)
			}
		},
		OnSessionEnd: func(id, reason string) {
			notifier.SessionEnded(id, reason)
			if recorder != nil {
				recorder.SessionEnded(id, reason)
			}
		},
	}

	wcfg := worker.DefaultConfig()
	wcfg.ProcessName = conf.ProcessName
	wcfg.ModuleName = conf.ModuleName
	wcfg.TickInterval = conf.TickInterval
	wcfg.AttachRetry = conf.AttachRetry

	w := worker.New(wcfg, ch, holder, sinks, worker.WithHooks(hooks))
	w.Start(ctx)

	svc := web.NewService(api.NewAPI(w, board, history, holder, notifier, &api.Config{
		OffsetsPath:  conf.OffsetsPath,
		WebhookURL:   conf.WebhookURL,
		PasswordHash: conf.PasswordHash,
	}), &web.Config{ListenAddr: conf.ListenAddr})
	if err := svc.Start(); err != nil {
		<-w.Shutdown()
		return fmt.Errorf("start web service: %w", err)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	case <-w.Done():
		log.Info().Msg("worker stopped, shutting down")
	}

	if err := svc.Stop(); err != nil {
		log.Error().Err(err).Msg("web service did not stop cleanly")
	}
	<-w.Shutdown()
	log.Info().Str("uptime", api.FormatUptime(time.Since(startedAt))).Msg("bye")
	return nil
}
