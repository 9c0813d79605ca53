package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	v, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := v.GetInt("server.port"); got != 8080 {
		t.Errorf("server.port = %d, want 8080", got)
	}
	if got := v.GetDuration("metrics_source.retention"); got != time.Hour {
		t.Errorf("metrics_source.retention = %s, want 1h", got)
	}
	if got := v.GetDuration("metrics_source.prune_interval"); got != 5*time.Minute {
		t.Errorf("metrics_source.prune_interval = %s, want 5m", got)
	}
	if v.GetString("auth.jwt_secret") != "" || v.GetString("auth.issuer") != "azwatch" {
		t.Errorf("auth defaults = %q/%q", v.GetString("auth.jwt_secret"), v.GetString("auth.issuer"))
	}
	if got := v.GetDuration("auth.token_ttl"); got != 720*time.Hour {
		t.Errorf("auth.token_ttl = %s, want 720h", got)
	}
	if v.GetFloat64("ingest.rate_limit") != 20 || v.GetInt("ingest.burst") != 100 {
		t.Errorf("ingest limit = %v/%v, want 20/100", v.GetFloat64("ingest.rate_limit"), v.GetInt("ingest.burst"))
	}
	cfg := DetectorConfig(v)
	if cfg.Period != time.Minute || cfg.EvaluationPeriods != 5 || cfg.DatapointsToAlarm != 3 {
		t.Errorf("detector defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default detector config invalid: %v", err)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "azwatch.yaml")
	doc := `
server:
  port: 9000
detector:
  period: 5m
  algorithm: Z_SCORE
  outlier_threshold: 3
  datapoints_to_alarm: 2
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AZWATCH_DETECTOR_EVALUATION_PERIODS", "4")

	v, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	t.Setenv("AZWATCH_SERVER_HOST", "127.0.0.1")
	srvCfg := ServerConfig(v)
	if got := srvCfg.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9000", got)
	}
	cfg := DetectorConfig(v)
	if cfg.Period != 5*time.Minute {
		t.Errorf("Period = %s, want 5m", cfg.Period)
	}
	if cfg.Algorithm != "Z_SCORE" || cfg.OutlierThreshold != 3 {
		t.Errorf("algorithm = %s/%v", cfg.Algorithm, cfg.OutlierThreshold)
	}
	if cfg.EvaluationPeriods != 4 || cfg.DatapointsToAlarm != 2 {
		t.Errorf("N/M = %d/%d, want 4/2", cfg.EvaluationPeriods, cfg.DatapointsToAlarm)
	}
}

func TestConfig_Addr(t *testing.T) {
	c := Config{Host: "127.0.0.1", Port: 8080}
	if got := c.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", got)
	}
}
