package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Erikvl87/todosync/internal/config"
	"github.com/Erikvl87/todosync/internal/controller"
	"github.com/Erikvl87/todosync/internal/dashboard"
	"github.com/Erikvl87/todosync/internal/event"
	"github.com/Erikvl87/todosync/internal/metrics"
	"github.com/Erikvl87/todosync/internal/queue"
	"github.com/Erikvl87/todosync/internal/render"
	"github.com/Erikvl87/todosync/internal/transport"
)

var runPrint bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon:

  1. Fetch the project's bulk payload and paint it immediately
  2. Subscribe to the realtime event stream
  3. Serve the synced tree to WebSocket dashboard clients

Events that fail (e.g. a child arriving before its parent) are buffered per
entity and replayed in timestamp order after the reorder window. Events that
cannot be recovered trigger a fresh bulk load.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runDaemon(cfg)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runPrint, "print", false, "also render the tree to stdout on every pass")
}

func runDaemon(cfg *config.Config) error {
	logger := newLogger(cfg)
	mset := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The dashboard needs controller stats and the controller needs the
	// dashboard as its renderer; the closure resolves the cycle.
	var ctrl *controller.Controller

	dash := dashboard.NewServer(dashboard.Config{
		Addr: cfg.DashboardAddr,
		Stats: func() (int, int) {
			if ctrl == nil {
				return 0, 0
			}
			return ctrl.Stats()
		},
		Metrics: mset,
		Logger:  logger.With("component", "dashboard"),
	})

	var renderer controller.Renderer = dash
	if runPrint {
		renderer = render.NewMulti(dash, render.NewTerminal(os.Stdout))
	}

	ctrl = controller.New(renderer, controller.Config{
		DebounceWindow: cfg.DebounceWindow,
		AnimationPoll:  cfg.AnimationPoll,
		Logger:         logger.With("component", "controller"),
		Metrics:        mset,
	})
	defer ctrl.Close()

	client, err := transport.NewClient(transport.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Logger:  logger.With("component", "transport"),
	})
	if err != nil {
		return err
	}

	// resync re-fetches the bulk payload after an unrecoverable event; at
	// most one resync runs at a time.
	var resyncing atomic.Bool
	resync := func() {
		if !resyncing.CompareAndSwap(false, true) {
			return
		}
		go func() {
			defer resyncing.Store(false)
			fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			payload, err := client.FetchBulk(fetchCtx, cfg.ProjectID)
			if err != nil {
				logger.Error("resync failed", "err", err)
				return
			}
			ctrl.BulkLoad(*payload, false)
			logger.Info("resynced from bulk payload")
		}()
	}

	q := queue.New(ctrl.Apply, func(ev event.Event, kind queue.FailureKind, err error) {
		logger.Warn("event unrecoverable, scheduling resync",
			"event", ev.Name, "kind", kind.String(), "err", err)
		if kind == queue.FailureRetryExhausted {
			mset.ReplayFailures.Inc()
		}
		resync()
	}, queue.Config{
		ReorderWindow: cfg.ReorderWindow,
		Logger:        logger.With("component", "queue"),
	})
	defer q.Clear()

	// First paint: bulk load bypasses the debounce window.
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	payload, err := client.FetchBulk(fetchCtx, cfg.ProjectID)
	cancel()
	if err != nil {
		return fmt.Errorf("initial bulk load failed: %w", err)
	}
	ctrl.BulkLoad(*payload, true)
	logger.Info("initial bulk load complete",
		"sections", len(payload.Sections), "tasks", len(payload.Tasks))

	if err := dash.Start(); err != nil {
		return err
	}
	defer func() {
		if err := dash.Stop(); err != nil {
			logger.Error("dashboard stop failed", "err", err)
		}
	}()

	// Log level follows the config file without a restart.
	config.Watch(vp, func(next config.Config) {
		if lvl, err := log.ParseLevel(next.LogLevel); err == nil {
			logger.SetLevel(lvl)
			logger.Info("log level updated", "level", next.LogLevel)
		}
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	})

	deliver := func(raw []byte) {
		ev, err := event.Decode(raw)
		if err != nil {
			// No envelope means no entity id to track; same recovery path
			// as an unrecoverable event.
			logger.Warn("undecodable event, scheduling resync", "err", err)
			mset.EventsTotal.WithLabelValues("failed").Inc()
			resync()
			return
		}
		if ev.Kind == event.KindUnknown {
			mset.EventsTotal.WithLabelValues("ignored").Inc()
			return
		}
		q.Process(ev)
		mset.EventsTotal.WithLabelValues("applied").Inc()
		mset.BufferedEvents.Set(float64(q.PendingCount()))
	}

	logger.Info("subscribing to realtime events", "channel", cfg.Channel)
	err = client.Subscribe(ctx, cfg.Channel, deliver)
	if err == context.Canceled {
		logger.Info("shutting down")
		return nil
	}
	return err
}
