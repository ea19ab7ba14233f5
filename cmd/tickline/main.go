package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tickline-io/tickline/internal/cache"
	"github.com/tickline-io/tickline/internal/config"
	"github.com/tickline-io/tickline/internal/models"
	"github.com/tickline-io/tickline/internal/repository"
	"github.com/tickline-io/tickline/internal/services/automation"
	"github.com/tickline-io/tickline/internal/services/calendar"
	"github.com/tickline-io/tickline/internal/services/dispatch"
	"github.com/tickline-io/tickline/internal/services/slaclock"
	"github.com/tickline-io/tickline/internal/services/sweep"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "tickline",
	Short: "Tickline SLA engine - business-hours SLA tracking and automation for ticketing",
	Long: `Tickline SLA Engine

Tracks response and resolution SLA clocks against tenant business calendars,
sweeps for warnings and breaches, and runs tenant automation rules.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the SLA engine: periodic breach sweep plus automation dispatch",
	RunE:  runEngine,
}

var checkAllCmd = &cobra.Command{
	Use:   "check-all",
	Short: "Re-evaluate every live SLA clock once and exit",
	Long: `Runs one blocking pass over all running and warned clocks. Use after bulk
policy or calendar changes to rebuild clock state.`,
	RunE: runCheckAll,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", ".", "Directory containing config.yaml")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkAllCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector, cleanup, err := buildDetector(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := config.Get()
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}

	log.Printf("tickline: engine starting (sweep every %s, %d workers)",
		cfg.Engine.SweepInterval, cfg.Engine.Workers)
	return detector.Run(ctx)
}

func runCheckAll(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector, cleanup, err := buildDetector(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	return detector.CheckAllTickets(ctx)
}

// buildDetector wires the full engine from configuration: store, calendar
// provider, clock manager, rule engine, dispatcher, breach detector.
func buildDetector(ctx context.Context) (*sweep.Detector, func(), error) {
	if err := config.Load(configPathFlag); err != nil {
		return nil, nil, err
	}
	cfg := config.Get()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := repository.Open(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	closers = append(closers, func() { store.Close() })

	providerOpts := []calendar.ProviderOption{}
	if cfg.Redis.Enabled {
		shared, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:      cfg.Redis.GetRedisAddr(),
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.App.Name,
			TTL:       cfg.Calendar.CacheTTL,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { shared.Close() })
		providerOpts = append(providerOpts, calendar.WithSharedCache(shared))
	}
	calendars := calendar.NewCachedProvider(
		calendar.NewDirSource(cfg.Calendar.Dir),
		cfg.Calendar.CacheTTL,
		providerOpts...,
	)

	clockMgr := slaclock.NewManager(store)
	engine := automation.NewEngine(store, automation.WithDepthCap(cfg.Engine.DepthCap))
	dispatcher := dispatch.NewDispatcher(store, &logNotifier{},
		dispatch.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		dispatch.WithBackoff(cfg.Dispatch.Backoff),
	)

	detector := sweep.NewDetector(store, calendars, clockMgr,
		sweep.WithInterval(cfg.Engine.SweepInterval),
		sweep.WithWorkers(cfg.Engine.Workers),
		sweep.WithEvaluator(engine),
		sweep.WithDispatcher(dispatcher),
	)
	return detector, cleanup, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("tickline: metrics server: %v", err)
	}
}

// logNotifier writes notifications to the process log. Deployments embed the
// engine and provide a real notifier (mail, chat, webhook) instead.
type logNotifier struct{}

func (n *logNotifier) Send(ctx context.Context, notification models.Notification) error {
	log.Printf("notify [%s] tenant=%s ticket=%d target=%s: %s",
		notification.Kind, notification.TenantID, notification.TicketID,
		notification.Target, notification.Message)
	return nil
}
