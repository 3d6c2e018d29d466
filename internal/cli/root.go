// Package cli implements the profile-sync CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcliao/profile-sync/internal/config"
	"github.com/rcliao/profile-sync/internal/logger"
	"github.com/rcliao/profile-sync/internal/metrics"
	"github.com/rcliao/profile-sync/internal/pinning"
	"github.com/rcliao/profile-sync/internal/queue"
	"github.com/rcliao/profile-sync/internal/snapshot"
	"github.com/rcliao/profile-sync/internal/store"
	"github.com/rcliao/profile-sync/internal/syncer"
)

var (
	configPath string
	dbPath     string
	formatFlag string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "profile-sync",
	Short: "Offline-first sync for a portable AI profile",
	Long: "Keeps a portable profile (identity, memories, conversations, preferences) in sync across devices.\n" +
		"Edits are queued locally, merged against the last replicated snapshot, and pinned to several storage backends.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $PROFILE_SYNC_CONFIG or ~/.profile-sync/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (overrides config and $PROFILE_SYNC_DB)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// app wires the components for one command invocation.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *store.SQLiteStore
	codec    *snapshot.Codec
	manager  *pinning.Manager
	syncer   *syncer.Syncer
	closers  []io.Closer
	queue    *queue.Queue
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg
}

// openApp opens the store and builds the syncer. Backends are only built
// when withPins is set.
func openApp(withPins bool) *app {
	cfg := loadConfig()
	a := &app{
		cfg:      cfg,
		log:      logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}),
		registry: prometheus.NewRegistry(),
	}
	a.metrics = metrics.New(a.registry)

	var err error
	a.store, err = store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		exitErr("open store", err)
	}
	a.codec, err = snapshot.NewCodec(cfg.SealKey())
	if err != nil {
		exitErr("seal key", err)
	}

	var pins syncer.Replicator
	if withPins {
		services, closers, err := pinning.Build(cfg.Pinning.Backends, cfg.Pinning.Quorum.Timeout, logger.Component(a.log, "pinning"))
		a.closers = closers
		if err != nil {
			a.Close()
			exitErr("configure backends", err)
		}
		if len(services) > 0 {
			a.manager = pinning.NewManager(services, pinning.ManagerOptions{
				Quorum:  cfg.Pinning.Quorum,
				Logger:  logger.Component(a.log, "pinning"),
				Metrics: a.metrics,
			})
			pins = a.manager
		}
	}
	a.syncer = syncer.New(a.store, a.codec, pins, syncer.Options{
		Logger:         logger.Component(a.log, "sync"),
		Metrics:        a.metrics,
		ShortTermLimit: cfg.Sync.ShortTermLimit,
	})
	return a
}

// openQueue loads the persisted queue. It starts offline so that commands
// only drain when asked to.
func (a *app) openQueue(ctx context.Context, onEvent func(queue.Event)) *queue.Queue {
	q, err := queue.New(ctx, a.store, a.syncer.Execute, queue.Options{
		Config:  a.cfg.Queue,
		Logger:  logger.Component(a.log, "queue"),
		Metrics: a.metrics,
		OnEvent: onEvent,
	})
	if err != nil {
		a.Close()
		exitErr("open queue", err)
	}
	a.queue = q
	return q
}

func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	for _, c := range a.closers {
		c.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func textOutput() bool { return formatFlag == "text" }

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
