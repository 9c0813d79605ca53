// Command azwatch runs the zonal isolated-impact detector.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/auth"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/config"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/event"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/history"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/isolation"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/metric"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier/remote"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier/stats"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/server"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/store"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/telemetry"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/version"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/webhook"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/ws"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "validate":
			os.Exit(runValidate(os.Args[2:]))
		case "token":
			os.Exit(runToken(os.Args[2:]))
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(v, logger); err != nil {
		logger.Error("azwatch stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// runValidate loads the configuration and topology and builds a detector
// without starting anything.
func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	cfg := server.DetectorConfig(v)
	layout, err := loadLayout(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "topology: %v\n", err)
		return 1
	}
	opts := isolation.Options{Source: metric.NewMemorySource(), Provider: stats.New()}
	if _, err := isolation.New(cfg, layout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "detector: %v\n", err)
		return 1
	}
	fmt.Printf("ok: %d zones, %d resources\n", len(layout.Zones), len(layout.Resources))
	return 0
}

// runToken prints a bearer token that lets a metric producer push samples.
func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	subject := fs.String("subject", "collector", "producer name recorded in the token")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = fs.Parse(args)

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	tokens, err := tokenService(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auth: %v\n", err)
		return 1
	}
	if tokens == nil {
		fmt.Fprintln(os.Stderr, "auth: auth.jwt_secret is not set")
		return 1
	}
	token, err := tokens.Issue(*subject, *ttl, auth.ScopeIngest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auth: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

// tokenService returns nil when no signing secret is configured.
func tokenService(v *viper.Viper) (*auth.TokenService, error) {
	secret := v.GetString("auth.jwt_secret")
	if secret == "" {
		return nil, nil
	}
	if len(secret) < 32 {
		return nil, azerr.Configf("auth.jwt_secret", "must be at least 32 bytes, got %d", len(secret))
	}
	return auth.NewTokenService([]byte(secret), v.GetString("auth.issuer"), v.GetDuration("auth.token_ttl")), nil
}

func loadLayout(cfg isolation.Config) (isolation.Layout, error) {
	topo, err := isolation.LoadTopology(cfg.TopologyFile)
	if err != nil {
		return isolation.Layout{}, err
	}
	return topo.Resolve()
}

// sampleSource is a metric source that also accepts pushed samples and
// can drop old ones.
type sampleSource interface {
	metric.Source
	metric.Pruner
	isolation.Recorder
}

func run(v *viper.Viper, logger *zap.Logger) error {
	logger.Info("azwatch starting", zap.String("version", version.Short()))

	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open database
	dbPath := v.GetString("database.path")
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		return err
	}
	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	source, closeSource, err := openSource(ctx, v, db)
	if err != nil {
		return err
	}
	defer closeSource()
	logger.Info("metric source opened",
		zap.String("component", "metric"),
		zap.String("driver", v.GetString("metrics_source.driver")),
	)

	cfg := server.DetectorConfig(v)
	layout, err := loadLayout(cfg)
	if err != nil {
		return err
	}

	provider, closeProvider, err := openProvider(v, cfg, logger)
	if err != nil {
		return err
	}
	defer closeProvider()

	metrics := telemetry.New(prometheus.DefaultRegisterer)
	bus := event.NewBus(logger.Named("event"))
	sinks := alarm.Sinks{metrics}

	var routes []server.RouteRegistrar
	var retention *history.Retention
	if v.GetBool("history.enabled") {
		hist, err := history.Open(ctx, db, logger.Named("history"))
		if err != nil {
			return err
		}
		sinks = append(sinks, hist)
		routes = append(routes, hist)
		retention = history.NewRetention(hist,
			v.GetDuration("history.retention_period"),
			v.GetDuration("history.maintenance_interval"),
			logger.Named("history"))
	}

	detector, err := isolation.New(cfg, layout, isolation.Options{
		Source:   source,
		Provider: provider,
		Sink:     sinks,
		Bus:      bus,
		Observer: metrics,
		Logger:   logger.Named("detector"),
	})
	if err != nil {
		return err
	}
	logger.Info("detector configured",
		zap.String("component", "detector"),
		zap.Int("zones", len(layout.Zones)),
		zap.Int("resources", len(layout.Resources)),
		zap.String("algorithm", cfg.Algorithm),
		zap.Duration("period", cfg.Period),
	)

	// Samples older than the evaluation window plus two periods of slack
	// can no longer affect an alarm.
	var pruning *metric.Retention
	if keep := v.GetDuration("metrics_source.retention"); keep > 0 {
		keep = max(keep, detector.Window()+2*detector.Period())
		pruning = metric.NewRetention(source, keep,
			v.GetDuration("metrics_source.prune_interval"),
			logger.Named("metric"))
		logger.Info("metric sample retention enabled",
			zap.String("component", "metric"),
			zap.Duration("keep", keep),
		)
	}

	notifier := webhook.New(webhook.Config{
		URL:     v.GetString("webhook.url"),
		Timeout: v.GetDuration("webhook.timeout"),
		Topics:  v.GetStringSlice("webhook.topics"),
	}, logger.Named("webhook"))
	if v.GetString("webhook.url") != "" {
		notifier.Subscribe(bus)
		defer notifier.Close()
	}

	// Pushed samples move alarms, so ingestion is only mounted behind
	// producer tokens.
	tokens, err := tokenService(v)
	if err != nil {
		return err
	}
	var (
		recorder isolation.Recorder
		ingest   []func(http.Handler) http.Handler
	)
	if tokens != nil {
		recorder = source
		ingest = append(ingest,
			server.PerClientLimit(v.GetFloat64("ingest.rate_limit"), v.GetInt("ingest.burst")),
			auth.RequireScope(tokens, auth.ScopeIngest, logger.Named("auth")),
		)
	} else {
		logger.Warn("auth.jwt_secret not set, sample ingestion disabled",
			zap.String("component", "auth"),
		)
	}

	srvCfg := server.ServerConfig(v)
	wsHandler := ws.NewHandler(bus, srvCfg.WSOrigins, logger.Named("ws"))
	defer wsHandler.Close()
	routes = append(routes,
		isolation.NewHandler(detector, recorder, logger.Named("api"), ingest...),
		wsHandler,
	)

	addr := srvCfg.Addr()
	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return db.Ping(ctx)
	})
	srv := server.New(addr, logger, readyCheck, nil, routes...)

	scheduler := isolation.NewScheduler(detector, detector.Period(), logger.Named("scheduler"))
	scheduler.Start(ctx)
	if retention != nil {
		retention.Start(ctx)
	}
	if pruning != nil {
		pruning.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("azwatch ready", zap.String("addr", addr))

	// Wait for shutdown signal or a server failure.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case runErr = <-errCh:
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	scheduler.Stop()
	if retention != nil {
		retention.Stop()
	}
	if pruning != nil {
		pruning.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("azwatch stopped")
	return runErr
}

// openSource picks the metric source named by metrics_source.driver. The
// sqlite driver without a DSN stores samples in the main database.
func openSource(ctx context.Context, v *viper.Viper, db *store.SQLiteStore) (sampleSource, func(), error) {
	driver := v.GetString("metrics_source.driver")
	dsn := v.GetString("metrics_source.dsn")
	noop := func() {}

	switch {
	case driver == "memory":
		return metric.NewMemorySource(), noop, nil
	case driver == metric.DriverSQLite && dsn == "":
		if err := db.Migrate(ctx, "metric", metric.Migrations()); err != nil {
			return nil, noop, fmt.Errorf("migrate metric samples: %w", err)
		}
		src, err := metric.NewSQLSource(db.DB(), metric.DriverSQLite)
		if err != nil {
			return nil, noop, err
		}
		return src, noop, nil
	default:
		src, err := metric.OpenSQLSource(ctx, driver, dsn)
		if err != nil {
			return nil, noop, err
		}
		return src, func() { _ = src.Close() }, nil
	}
}

// openProvider returns the outlier score provider: nil for STATIC, a NATS
// client when scorer.url is set, and the in-process scorer otherwise.
func openProvider(v *viper.Viper, cfg isolation.Config, logger *zap.Logger) (outlier.ScoreProvider, func(), error) {
	noop := func() {}
	alg, err := outlier.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, noop, err
	}
	if alg.Local() {
		return nil, noop, nil
	}

	url := v.GetString("scorer.url")
	if url == "" {
		logger.Info("scoring outliers in process", zap.String("algorithm", string(alg)))
		return stats.New(), noop, nil
	}
	client, err := remote.Connect(url, v.GetString("scorer.subject"))
	if err != nil {
		return nil, noop, err
	}
	logger.Info("scoring outliers over NATS",
		zap.String("algorithm", string(alg)),
		zap.String("url", url),
	)
	return client, client.Close, nil
}
