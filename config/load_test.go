package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "env: test\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Risk.DailyLimit != 1_000_000 {
		t.Fatalf("dailyLimit = %v", cfg.Risk.DailyLimit)
	}
	if cfg.Risk.GrowthFactorK != 0.15 {
		t.Fatalf("growthFactorK = %v", cfg.Risk.GrowthFactorK)
	}
	if cfg.Risk.MaxSignalAgeMs != 2 {
		t.Fatalf("maxSignalAgeMs = %v", cfg.Risk.MaxSignalAgeMs)
	}
	if cfg.Metrics.WindowSec != 5 {
		t.Fatalf("metrics window = %v", cfg.Metrics.WindowSec)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.HTTP.MetricsAddr != ":9100" {
		t.Fatalf("http defaults = %+v", cfg.HTTP)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
env: prod
redis:
  addr: "127.0.0.1:6379"
risk:
  dailyLimit: 250000
  participation: 0.2
  maxPositionLimits:
    R_100: 50000
splitter:
  participation: 0.05
market:
  sessionOpen: "09:30"
  sessionClose: "16:00"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Risk.DailyLimit != 250000 {
		t.Fatalf("dailyLimit = %v", cfg.Risk.DailyLimit)
	}
	if cfg.Splitter.Participation != 0.05 {
		t.Fatalf("splitter participation = %v", cfg.Splitter.Participation)
	}

	p := cfg.RiskParams()
	if p.Participation != 0.2 {
		t.Fatalf("params participation = %v", p.Participation)
	}
	if p.MaxSignalAge != 2*time.Millisecond {
		t.Fatalf("maxSignalAge = %v", p.MaxSignalAge)
	}
	limit, ok := p.MaxPositionLimits["R_100"]
	if !ok || !limit.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("position limit = %v", limit)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing env":           "risk:\n  dailyLimit: 100\n",
		"negative daily limit":  "env: test\nrisk:\n  dailyLimit: -5\n",
		"participation too big": "env: test\nrisk:\n  participation: 1.5\n",
		"dangling session":      "env: test\nmarket:\n  sessionOpen: \"09:30\"\n",
		"bad position limit":    "env: test\nrisk:\n  maxPositionLimits:\n    R_100: -1\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: config accepted", name)
		}
	}
}

func TestEnvOverridesRedisCredentials(t *testing.T) {
	t.Setenv("TG_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("TG_REDIS_PASSWORD", "hunter2")
	cfg, err := LoadWithEnvOverrides(writeConfig(t, "env: test\nredis:\n  addr: \"localhost:6379\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Redis.Addr != "10.0.0.5:6379" || cfg.Redis.Password != "hunter2" {
		t.Fatalf("redis overrides not applied: %+v", cfg.Redis)
	}
}
