package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcliao/profile-sync/internal/logger"
	"github.com/rcliao/profile-sync/internal/queue"
	"github.com/rcliao/profile-sync/internal/server"
	"github.com/rcliao/profile-sync/internal/syncer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: "Watch backend health, drain the queue whenever quorum is reachable, and serve\n" +
			"/metrics and /health on metrics.addr until interrupted.",
		Run: runDaemon,
	}

	RootCmd.AddCommand(cmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	a := openApp(true)
	defer a.Close()
	if a.manager == nil {
		exitErr("run", errNoBackends)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := logger.Component(a.log, "events")
	q := a.openQueue(ctx, func(e queue.Event) { logEvent(events, e) })

	interval := a.cfg.Sync.PollInterval
	if interval <= 0 {
		interval = a.manager.Quorum().HealthCheckInterval
	}
	mon := syncer.NewMonitor(a.manager, q, a.manager.Quorum().RequiredSuccessCount, interval, logger.Component(a.log, "monitor"))
	go mon.Run(ctx)

	var srv *server.ObservabilityServer
	if a.cfg.Metrics.Addr != "" {
		srv = server.NewObservabilityServer(a.cfg.Metrics.Addr, a.registry, func(ctx context.Context) (any, bool) {
			st := q.Status()
			return map[string]any{"queue": st, "backends": a.manager.Health(ctx)}, st.Online
		}, logger.Component(a.log, "http"))
		srv.Start()
	}

	a.log.Info().Strs("backends", a.manager.Backends()).Dur("poll", interval).Msg("daemon started")
	<-ctx.Done()
	a.log.Info().Msg("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("observability server shutdown")
		}
	}
}

func logEvent(log zerolog.Logger, e queue.Event) {
	ev := log.Info()
	switch e.Type {
	case queue.EventRetryLater:
		ev = log.Warn().Time("retry_at", e.RetryAt)
	case queue.EventDeadLettered, queue.EventExpiring:
		ev = log.Warn()
	case queue.EventEnqueued, queue.EventSynced:
		ev = log.Debug()
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Str("event", string(e.Type)).Int("operations", len(e.Operations)).
		Int("dead_letters", len(e.DeadLetters)).Msg("queue event")
}
