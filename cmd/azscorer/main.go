// Command azscorer answers outlier scoring requests over NATS so the
// statistical algorithms can run outside the detector process.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/config"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier/remote"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier/stats"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/server"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

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

	url := v.GetString("scorer.url")
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("azscorer"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		logger.Fatal("connect nats", zap.String("url", url), zap.Error(err))
	}
	defer conn.Close()

	sub, err := remote.Serve(conn, v.GetString("scorer.subject"), v.GetString("scorer.queue"),
		stats.New(), logger.Named("scorer"))
	if err != nil {
		logger.Fatal("serve scores", zap.Error(err))
	}

	logger.Info("azscorer ready", zap.String("version", version.Short()), zap.String("url", url))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	if err := sub.Drain(); err != nil {
		logger.Warn("drain subscription", zap.Error(err))
	}
	if err := conn.Drain(); err != nil {
		logger.Warn("drain connection", zap.Error(err))
	}
	logger.Info("azscorer stopped")
}
