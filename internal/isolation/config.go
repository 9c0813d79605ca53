package isolation

import (
	"time"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/azerr"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/outlier"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Config holds the detector settings under the "detector" key.
type Config struct {
	Period              time.Duration `mapstructure:"period"`
	Algorithm           string        `mapstructure:"algorithm"`
	OutlierThreshold    float64       `mapstructure:"outlier_threshold"`
	FaultRateThreshold  float64       `mapstructure:"fault_rate_threshold"`
	PacketLossThreshold float64       `mapstructure:"packet_loss_threshold"`
	EvaluationPeriods   int           `mapstructure:"evaluation_periods"`
	DatapointsToAlarm   int           `mapstructure:"datapoints_to_alarm"`
	OutlierMissingData  string        `mapstructure:"outlier_missing_data"`
	GateMissingData     string        `mapstructure:"gate_missing_data"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	ScoreTimeout        time.Duration `mapstructure:"score_timeout"`
	MaxWorkers          int           `mapstructure:"max_workers"`
	TopologyFile        string        `mapstructure:"topology_file"`
}

// DefaultConfig returns the detector defaults. OutlierThreshold zero means
// the algorithm's own default.
func DefaultConfig() Config {
	return Config{
		Period:              time.Minute,
		Algorithm:           string(outlier.Static),
		FaultRateThreshold:  5,
		PacketLossThreshold: 0.01,
		EvaluationPeriods:   5,
		DatapointsToAlarm:   3,
		OutlierMissingData:  string(alarm.TreatIgnore),
		GateMissingData:     string(alarm.TreatMissing),
		FetchTimeout:        10 * time.Second,
		ScoreTimeout:        5 * time.Second,
		MaxWorkers:          8,
		TopologyFile:        "topology.yaml",
	}
}

// settings is Config after parsing and validation.
type settings struct {
	period             time.Duration
	algorithm          outlier.Algorithm
	threshold          float64
	gateThresholds     map[models.ResourceClass]float64
	n, m               int
	outlierMissingData alarm.MissingDataPolicy
	gateMissingData    alarm.MissingDataPolicy
	fetchTimeout       time.Duration
	scoreTimeout       time.Duration
	workers            int
}

func (c Config) resolve() (settings, error) {
	var s settings
	if c.Period < time.Second {
		return s, azerr.Configf("detector.period", "must be at least 1s, got %s", c.Period)
	}
	alg, err := outlier.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return s, err
	}
	th := c.OutlierThreshold
	if th == 0 {
		th = alg.DefaultThreshold()
	}
	if err := alg.ValidateThreshold(th); err != nil {
		return s, err
	}
	if c.FaultRateThreshold < 0 || c.FaultRateThreshold > 100 {
		return s, azerr.Configf("detector.fault_rate_threshold", "must be a percentage, got %v", c.FaultRateThreshold)
	}
	if c.PacketLossThreshold < 0 || c.PacketLossThreshold > 100 {
		return s, azerr.Configf("detector.packet_loss_threshold", "must be a percentage, got %v", c.PacketLossThreshold)
	}
	if c.EvaluationPeriods < 1 {
		return s, azerr.Configf("detector.evaluation_periods", "must be >= 1, got %d", c.EvaluationPeriods)
	}
	if c.DatapointsToAlarm < 1 || c.DatapointsToAlarm > c.EvaluationPeriods {
		return s, azerr.Configf("detector.datapoints_to_alarm", "must be in [1, %d], got %d",
			c.EvaluationPeriods, c.DatapointsToAlarm)
	}
	outlierPolicy, err := alarm.ParseMissingDataPolicy(c.OutlierMissingData)
	if err != nil {
		return s, err
	}
	gatePolicy, err := alarm.ParseMissingDataPolicy(c.GateMissingData)
	if err != nil {
		return s, err
	}
	if c.FetchTimeout <= 0 || c.ScoreTimeout <= 0 {
		return s, azerr.Configf("detector", "fetch_timeout and score_timeout must be positive")
	}
	workers := c.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	return settings{
		period:    c.Period,
		algorithm: alg,
		threshold: th,
		gateThresholds: map[models.ResourceClass]float64{
			models.ResourceClassLoadBalancer: c.FaultRateThreshold,
			models.ResourceClassNATGateway:   c.PacketLossThreshold,
		},
		n:                  c.EvaluationPeriods,
		m:                  c.DatapointsToAlarm,
		outlierMissingData: outlierPolicy,
		gateMissingData:    gatePolicy,
		fetchTimeout:       c.FetchTimeout,
		scoreTimeout:       c.ScoreTimeout,
		workers:            workers,
	}, nil
}

// Validate reports the first invalid setting as a ConfigurationError.
func (c Config) Validate() error {
	_, err := c.resolve()
	return err
}
