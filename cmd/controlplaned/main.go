package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cuemby/controlplane/pkg/adminapi"
	"github.com/cuemby/controlplane/pkg/clock"
	"github.com/cuemby/controlplane/pkg/config"
	"github.com/cuemby/controlplane/pkg/eventbus"
	"github.com/cuemby/controlplane/pkg/execstore"
	"github.com/cuemby/controlplane/pkg/health"
	"github.com/cuemby/controlplane/pkg/loadbalancer"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/metrics"
	"github.com/cuemby/controlplane/pkg/orchestrator"
	"github.com/cuemby/controlplane/pkg/registry"
	"github.com/cuemby/controlplane/pkg/slo"
	"github.com/cuemby/controlplane/pkg/stream"
	"github.com/cuemby/controlplane/pkg/tracing"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "controlplaned",
	Short: "controlplaned - distributed workflow platform control plane",
	Long: `controlplaned runs the Service Registry & Health Prober, Load
Balancer, Workflow Orchestrator, Event Stream Processor, and SLO Validator
as one process, exposing a thin read-only admin HTTP surface.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("controlplaned version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	config.BindPersistentFlags(rootCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.ConfigPath(cmd))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.ApplyFlags(cmd, &cfg)

	log.Init(cfg.LogConfigFor())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tracerProvider *tracing.Provider
	if cfg.Tracing.Enabled {
		tracerProvider, err = tracing.Init(ctx, cfg.TracingConfigFor("controlplaned", Version))
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer tracerProvider.Shutdown(context.Background())
	}

	meterProvider, err := tracing.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer meterProvider.Shutdown(context.Background())

	orchMetrics, err := tracing.NewComponentMetrics("orchestrator")
	if err != nil {
		return fmt.Errorf("init orchestrator metrics: %w", err)
	}
	streamMetrics, err := tracing.NewComponentMetrics("stream")
	if err != nil {
		return fmt.Errorf("init stream metrics: %w", err)
	}

	realClock := clock.New()

	metrics.SetVersion(Version)

	reg := registry.New(realClock)
	healthSvc := health.NewService(reg, realClock, 32)
	healthSvc.Start(time.Second)
	defer healthSvc.Stop()
	metrics.RegisterComponent("registry", true, "")
	defer metrics.UpdateComponent("registry", false, "stopped")

	balancer := loadbalancer.New(150)

	execRepo, err := execstore.NewBoltRepository(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open execution store: %w", err)
	}
	defer execRepo.Close()

	orch := orchestrator.New(execRepo, instrumentedWorkflowHandler(orchMetrics), realClock, orchestrator.Config{
		Workers:  cfg.Orchestrator.WorkerThreads,
		LeaseTTL: cfg.Orchestrator.LeaseTTL,
	})
	orch.Start(0)
	defer orch.Stop()
	metrics.RegisterComponent("orchestrator", true, "")
	defer metrics.UpdateComponent("orchestrator", false, "stopped")

	sloRepo, err := slo.NewBoltRepository(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open slo store: %w", err)
	}
	defer sloRepo.Close()

	var metricSource slo.MetricSeriesSource = noopMetricSource{}
	if cfg.Slo.PrometheusURL != "" {
		promSource, err := slo.NewPrometheusSource(cfg.Slo.PrometheusURL)
		if err != nil {
			return fmt.Errorf("build prometheus source: %w", err)
		}
		metricSource = promSource
	}
	validator := slo.New(sloRepo, metricSource, realClock, slo.Config{
		TickInterval:  cfg.Slo.TickInterval,
		RetentionDays: cfg.Slo.RetentionDays,
	}, func(v slo.Violation) {
		log.Warn(fmt.Sprintf("slo violation: %s severity=%s value=%.2f threshold=%.2f", v.SloName, v.Severity, v.CurrentValue, v.ThresholdValue))
	})
	validator.Start()
	defer validator.Stop()
	metrics.RegisterComponent("slo", true, "")
	defer metrics.UpdateComponent("slo", false, "stopped")

	var streamProc *stream.StreamProcessor
	if len(cfg.Stream.Topics) > 0 {
		bus, err := newEventBus(cfg)
		if err != nil {
			return fmt.Errorf("build event bus: %w", err)
		}
		defer bus.Close()

		streamProc, err = stream.New(bus, realClock, stream.Config{
			Topics:             cfg.Stream.Topics,
			ConsumerGroup:      cfg.Stream.ConsumerGroup,
			ConsumerName:       "controlplaned-" + Version,
			Workers:            cfg.Stream.Workers,
			CheckpointInterval: cfg.Stream.CheckpointInterval,
			DataDir:            cfg.DataDir,
			Deserialize:        jsonDeserialize,
			Sink: func(snap stream.WindowSnapshot) {
				streamMetrics.RecordOperation(ctx, "window_emit", snap.End.Sub(snap.Start), nil)
				log.Debug(fmt.Sprintf("window emitted: %s", snap.WindowID))
			},
		})
		if err != nil {
			return fmt.Errorf("build stream processor: %w", err)
		}
		if err := streamProc.Start(ctx); err != nil {
			return fmt.Errorf("start stream processor: %w", err)
		}
		defer streamProc.Stop()
		metrics.RegisterComponent("stream", true, "")
		defer metrics.UpdateComponent("stream", false, "stopped")
	}

	admin := adminapi.New(cfg.Admin.ListenAddr, reg, orch, sloRepo, balancer)
	go func() {
		log.Info(fmt.Sprintf("admin surface listening on %s", cfg.Admin.ListenAddr))
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin server stopped", err)
		}
	}()
	defer admin.Close()

	log.Info("controlplaned started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	return nil
}

// newEventBus builds the Stream Processor's EventBus: a Redis Streams-backed
// bus when cfg.Stream.RedisAddr is set, an in-memory bus (single-process,
// dev/test only) otherwise.
func newEventBus(cfg config.Config) (eventbus.EventBus, error) {
	if cfg.Stream.RedisAddr == "" {
		return eventbus.NewMemoryBus(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Stream.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Stream.RedisAddr, err)
	}
	return eventbus.NewRedisBus(client), nil
}

// instrumentedWorkflowHandler wraps the default no-op Handler (until a real
// workflow runtime - container execution, script execution - is wired via
// configuration) with per-execution duration/error recording.
func instrumentedWorkflowHandler(m *tracing.ComponentMetrics) orchestrator.Handler {
	return func(ctx context.Context, exec *execstore.Execution) (result map[string]any, err error) {
		start := time.Now()
		defer func() {
			m.RecordOperation(ctx, exec.WorkflowID, time.Since(start), err)
		}()
		return map[string]any{}, nil
	}
}

// jsonDeserialize parses a message payload as a flat JSON object of
// key/field/tag data into a stream.Event.
func jsonDeserialize(msg eventbus.Message) (stream.Event, error) {
	var wire struct {
		Key       string             `json:"key"`
		Timestamp time.Time          `json:"timestamp"`
		Fields    map[string]float64 `json:"fields"`
		Tags      map[string]string  `json:"tags"`
	}
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		return stream.Event{}, err
	}
	return stream.Event{
		Key:       wire.Key,
		Timestamp: wire.Timestamp,
		Fields:    wire.Fields,
		Tags:      wire.Tags,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}, nil
}

// noopMetricSource is used until a Prometheus endpoint is configured; it
// reports no samples so SLOs evaluate as non-compliant rather than silently
// skipping.
type noopMetricSource struct{}

func (noopMetricSource) Query(ctx context.Context, service, metric string, start, end time.Time) ([]slo.Sample, error) {
	return nil, nil
}
