// Package commands wires the syncbridge CLI. Destructive subcommands
// confirm interactively unless --yes is supplied; every command exits 0
// on success and non-zero on failure.
package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/syncbridge/syncbridge/adapter"
	"github.com/syncbridge/syncbridge/breaker"
	"github.com/syncbridge/syncbridge/config"
	"github.com/syncbridge/syncbridge/data"
	"github.com/syncbridge/syncbridge/engine"
	"github.com/syncbridge/syncbridge/identity"
	"github.com/syncbridge/syncbridge/logging/logger"
	"github.com/syncbridge/syncbridge/notify"
	"github.com/syncbridge/syncbridge/queue"
	"github.com/syncbridge/syncbridge/version"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the CLI tree. The resolver is injected so the
// engine never reaches for a global adapter registry.
func NewRootCommand(resolver adapter.Resolver) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "syncbridge",
		Short:         "Reliable asynchronous record synchronization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")

	root.AddCommand(
		newServeCommand(resolver, &configFile),
		newSyncCommand(resolver, &configFile),
		newQueueCommand(resolver, &configFile),
		newReconcileCommand(resolver, &configFile),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetVersionInfo().String())
		},
	}
}

// app bundles the wired components every subcommand needs.
type app struct {
	cfg     *config.Config
	data    *data.Data
	store   *queue.Store
	ids     *identity.Store
	brk     *breaker.Breaker
	tracker *notify.Tracker
	engine  *engine.Engine
	log     *logger.Logger
	cleanup func()
}

// buildApp loads configuration and wires the full component graph.
func buildApp(ctx context.Context, configFile string, resolver adapter.Resolver) (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.StandardLogger()
	logCleanup, err := log.Init(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	d, dataCleanup, err := data.New(ctx, cfg.Data)
	if err != nil {
		logCleanup()
		return nil, fmt.Errorf("failed to init data layer: %w", err)
	}

	store := queue.NewStore(d, &queue.Options{
		MaxPayloadSize:     cfg.Engine.MaxPayloadSize,
		DefaultMaxAttempts: cfg.Engine.MaxAttempts,
		BaseDelay:          cfg.Engine.BaseDelay,
		DefaultPriority:    10,
	})
	ids := identity.NewStore(d, 0)
	brk := breaker.New(d, breaker.DefaultScope, &breaker.Options{
		FailureRatio:     cfg.Breaker.FailureRatio,
		TripAfter:        cfg.Breaker.TripAfter,
		RecoveryDelay:    cfg.Breaker.RecoveryDelay,
		ProbeTTL:         cfg.Breaker.ProbeTTL,
		StaleOpenCeiling: cfg.Breaker.StaleOpenCeiling,
	})

	var notifier notify.Notifier
	if cfg.Notify.Sentry != nil && cfg.Notify.Sentry.Dsn != "" {
		sn, err := notify.NewSentryNotifier(cfg.Notify.Sentry, version.Version)
		if err != nil {
			log.WithError(err).Warn("sentry unavailable, falling back to log alerts")
			notifier = &notify.LogNotifier{Log: log.Logger}
		} else {
			notifier = sn
		}
	} else {
		notifier = &notify.LogNotifier{Log: log.Logger}
	}

	tracker := notify.NewTracker(d, notifier, &notify.Options{
		Threshold: cfg.Notify.Threshold,
		Cooldown:  cfg.Notify.Cooldown,
		PerModule: cfg.Notify.PerModule,
	})

	eng := engine.New(store, ids, brk, tracker, resolver, engine.NewLocker(d), log, cfg.Engine)

	return &app{
		cfg:     cfg,
		data:    d,
		store:   store,
		ids:     ids,
		brk:     brk,
		tracker: tracker,
		engine:  eng,
		log:     log,
		cleanup: func() {
			dataCleanup()
			logCleanup()
		},
	}, nil
}

// confirm prompts for a yes/no answer unless the command runs with
// --yes.
func confirm(cmd *cobra.Command, yes bool, prompt string) bool {
	if yes {
		return true
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
