package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/shawkym/roomsync/pkg/archive"
	"github.com/shawkym/roomsync/pkg/autojoin"
	"github.com/shawkym/roomsync/pkg/config"
	"github.com/shawkym/roomsync/pkg/dispatch"
	"github.com/shawkym/roomsync/pkg/engine"
	"github.com/shawkym/roomsync/pkg/log"
	"github.com/shawkym/roomsync/pkg/logger"
	"github.com/shawkym/roomsync/pkg/metrics"
)

type pipelineOptions struct {
	// console receives rendered messages; nil keeps them off the terminal.
	console io.Writer
	// watchPath enables hot reload of the given config file.
	watchPath string
	// observers are registered after the built-in ones.
	observers []dispatch.Observer
}

// pipeline is an engine plus the consumers and side services configured for
// it: chat log, archive, auto-join, metrics endpoint and config watcher.
type pipeline struct {
	cfg           *config.Config
	engine        *engine.Engine
	chat          *logger.ChatLogger
	archive       *archive.Store
	autoJoin      *autojoin.Observer
	metricsServer *metrics.Server
	watcher       *config.ConfigWatcher
}

func newPipeline(cfg *config.Config, opts pipelineOptions) (*pipeline, error) {
	p := &pipeline{cfg: cfg}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		p.metricsServer = metrics.NewServer(metrics.ServerConfig{Addr: cfg.Metrics.Addr})
		m = p.metricsServer.GetMetrics()
	}

	eng, err := newEngine(cfg, m, nil)
	if err != nil {
		return nil, err
	}
	p.engine = eng
	d := eng.Dispatcher()

	if cfg.Logging.Enabled || (cfg.Logging.Console && opts.console != nil) {
		logDir := ""
		if cfg.Logging.Enabled {
			logDir = cfg.Logging.ChatLogDir
		}
		console := opts.console
		if !cfg.Logging.Console {
			console = nil
		}
		chat, err := logger.NewChatLogger(logDir, cfg.Logging.LogFormat, console, eng.Directory())
		if err != nil {
			return nil, err
		}
		p.chat = chat
		d.Register(chat)
	}

	if cfg.Archive.Enabled {
		store, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.archive = store
		d.Register(store)
	}

	p.autoJoin = autojoin.New(eng, cfg.AutoJoin.Enabled)
	d.Register(p.autoJoin)

	for _, obs := range opts.observers {
		d.Register(obs)
	}

	if opts.watchPath != "" {
		watcher, err := config.NewConfigWatcher(opts.watchPath)
		if err != nil {
			log.WithError(err).Warn("config watching disabled")
		} else {
			watcher.OnConfigChange(p.applyReload)
			p.watcher = watcher
		}
	}

	log.WithFields(map[string]interface{}{
		"observers": len(d.Observers()),
		"archive":   p.archive != nil,
		"chat_log":  p.chat != nil && p.chat.Path() != "",
		"auto_join": cfg.AutoJoin.Enabled,
		"metrics":   p.metricsServer != nil,
	}).Debug("pipeline assembled")
	return p, nil
}

// applyReload carries the hot-reloadable settings over from a changed file.
func (p *pipeline) applyReload(oldCfg, newCfg *config.Config) {
	p.autoJoin.SetEnabled(newCfg.AutoJoin.Enabled)
	if !viper.GetBool("verbose") && oldCfg.Logging.Level != newCfg.Logging.Level {
		log.SetLevel(log.ParseLevel(newCfg.Logging.Level))
		log.WithField("level", newCfg.Logging.Level).Info("log level changed")
	}
}

// run drives the engine and the side services until the engine stops or ctx
// is cancelled. foreground, when set, runs alongside; its return stops
// everything.
func (p *pipeline) run(ctx context.Context, foreground func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		err := p.engine.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if p.metricsServer != nil {
		g.Go(p.metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return p.metricsServer.Stop(shutdownCtx)
		})
	}

	if p.watcher != nil {
		g.Go(func() error {
			p.watcher.StartWatching()
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			p.watcher.StopWatching()
			return nil
		})
	}

	if foreground != nil {
		g.Go(func() error {
			defer cancel()
			return foreground(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("sync stopped: %w", err)
	}
	return nil
}

// Close releases the chat log and archive.
func (p *pipeline) Close() {
	if p.chat != nil {
		if err := p.chat.Close(); err != nil {
			log.WithError(err).Warn("failed to close chat log")
		}
	}
	if p.archive != nil {
		if err := p.archive.Close(); err != nil {
			log.WithError(err).Warn("failed to close archive")
		}
	}
}
