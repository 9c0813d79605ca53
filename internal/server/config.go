package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/isolation"
)

// Config holds the server configuration.
type Config struct {
	Host      string
	Port      int
	WSOrigins []string
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ws_origins", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)
	v.SetDefault("database.path", "./data/azwatch.db")

	// Metric source: sqlite reads the embedded database; postgres and mysql
	// read an external metric_samples table.
	v.SetDefault("metrics_source.driver", "sqlite")
	v.SetDefault("metrics_source.dsn", "")
	// Pushed samples are pruned once they leave the evaluation window. Zero
	// disables pruning, e.g. for a database owned by another system.
	v.SetDefault("metrics_source.retention", "1h")
	v.SetDefault("metrics_source.prune_interval", "5m")

	// Outlier scoring for algorithms other than STATIC. With no url the
	// scores are computed in-process.
	v.SetDefault("scorer.url", "")
	v.SetDefault("scorer.subject", "azwatch.outlier.score")
	v.SetDefault("scorer.queue", "azwatch-scorers")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention_period", "720h")
	v.SetDefault("history.maintenance_interval", "1h")

	// Sample ingestion needs a signing secret of at least 32 bytes; without
	// one POST /api/v1/samples is not mounted.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "azwatch")
	v.SetDefault("auth.token_ttl", "720h")
	v.SetDefault("ingest.rate_limit", 20)
	v.SetDefault("ingest.burst", 100)

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.topics", []string{})

	d := isolation.DefaultConfig()
	v.SetDefault("detector.period", d.Period)
	v.SetDefault("detector.algorithm", d.Algorithm)
	v.SetDefault("detector.outlier_threshold", d.OutlierThreshold)
	v.SetDefault("detector.fault_rate_threshold", d.FaultRateThreshold)
	v.SetDefault("detector.packet_loss_threshold", d.PacketLossThreshold)
	v.SetDefault("detector.evaluation_periods", d.EvaluationPeriods)
	v.SetDefault("detector.datapoints_to_alarm", d.DatapointsToAlarm)
	v.SetDefault("detector.outlier_missing_data", d.OutlierMissingData)
	v.SetDefault("detector.gate_missing_data", d.GateMissingData)
	v.SetDefault("detector.fetch_timeout", d.FetchTimeout)
	v.SetDefault("detector.score_timeout", d.ScoreTimeout)
	v.SetDefault("detector.max_workers", d.MaxWorkers)
	v.SetDefault("detector.topology_file", d.TopologyFile)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("azwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/azwatch")
	}

	// Environment variable support: AZWATCH_SERVER_PORT=9090
	v.SetEnvPrefix("AZWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

// ServerConfig reads the "server" section.
func ServerConfig(v *viper.Viper) Config {
	return Config{
		Host:      v.GetString("server.host"),
		Port:      v.GetInt("server.port"),
		WSOrigins: v.GetStringSlice("server.ws_origins"),
	}
}

// DetectorConfig reads the "detector" section. Keys are read one by one so
// environment overrides of individual settings apply.
func DetectorConfig(v *viper.Viper) isolation.Config {
	return isolation.Config{
		Period:              v.GetDuration("detector.period"),
		Algorithm:           v.GetString("detector.algorithm"),
		OutlierThreshold:    v.GetFloat64("detector.outlier_threshold"),
		FaultRateThreshold:  v.GetFloat64("detector.fault_rate_threshold"),
		PacketLossThreshold: v.GetFloat64("detector.packet_loss_threshold"),
		EvaluationPeriods:   v.GetInt("detector.evaluation_periods"),
		DatapointsToAlarm:   v.GetInt("detector.datapoints_to_alarm"),
		OutlierMissingData:  v.GetString("detector.outlier_missing_data"),
		GateMissingData:     v.GetString("detector.gate_missing_data"),
		FetchTimeout:        v.GetDuration("detector.fetch_timeout"),
		ScoreTimeout:        v.GetDuration("detector.score_timeout"),
		MaxWorkers:          v.GetInt("detector.max_workers"),
		TopologyFile:        v.GetString("detector.topology_file"),
	}
}
