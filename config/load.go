package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trade-gate-go/infrastructure/logger"
	"trade-gate-go/risk"

	"github.com/shopspring/decimal"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      logger.Config  `yaml:"log"`
	Risk     RiskConfig     `yaml:"risk"`
	Splitter SplitterConfig `yaml:"splitter"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Market   MarketConfig   `yaml:"market"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // 留空时用内存存储（单实例）
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RiskConfig struct {
	DailyLimit          float64            `yaml:"dailyLimit"`
	InitialCapital      float64            `yaml:"initialCapital"`
	MaxDrawdown         float64            `yaml:"maxDrawdown"`
	GrowthFactorK       float64            `yaml:"growthFactorK"`
	VolatilityThreshold float64            `yaml:"volatilityThreshold"`
	MaxSignalAgeMs      int                `yaml:"maxSignalAgeMs"`      // 信号新鲜度上限（毫秒）
	NearLimitRatio      float64            `yaml:"nearLimitRatio"`      // 接近日内上限的预警比例
	Participation       float64            `yaml:"participation"`       // 单笔限额参与率
	WashSaleLookbackSec int                `yaml:"washSaleLookbackSec"` // 洗售回看窗口（秒）
	CoolOffSec          int                `yaml:"coolOffSec"`          // 熔断冷却（秒）
	OpTimeoutMs         int                `yaml:"opTimeoutMs"`         // 外部依赖超时（毫秒）
	MaxPositionLimits   map[string]float64 `yaml:"maxPositionLimits"`
}

type SplitterConfig struct {
	Participation float64 `yaml:"participation"` // VWAP 参与率上限
}

type MetricsConfig struct {
	WindowSec  int    `yaml:"windowSec"`  // 聚合窗口（秒）
	CoolOffSec int    `yaml:"coolOffSec"` // 发布故障熔断冷却（秒）
	Namespace  string `yaml:"namespace"`  // Prometheus 命名空间
}

type MarketConfig struct {
	SessionOpen  string `yaml:"sessionOpen"`  // "HH:MM"，留空为连续交易
	SessionClose string `yaml:"sessionClose"` // "HH:MM"
}

type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("TG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	def := risk.DefaultParams()
	if cfg.Risk.DailyLimit == 0 {
		cfg.Risk.DailyLimit = def.DailyLimit.InexactFloat64()
	}
	if cfg.Risk.InitialCapital == 0 {
		cfg.Risk.InitialCapital = def.InitialCapital.InexactFloat64()
	}
	if cfg.Risk.MaxDrawdown == 0 {
		cfg.Risk.MaxDrawdown = def.MaxDrawdown
	}
	if cfg.Risk.GrowthFactorK == 0 {
		cfg.Risk.GrowthFactorK = def.GrowthFactorK
	}
	if cfg.Risk.VolatilityThreshold == 0 {
		cfg.Risk.VolatilityThreshold = def.VolatilityThreshold
	}
	if cfg.Risk.MaxSignalAgeMs == 0 {
		cfg.Risk.MaxSignalAgeMs = int(def.MaxSignalAge / time.Millisecond)
	}
	if cfg.Risk.NearLimitRatio == 0 {
		cfg.Risk.NearLimitRatio = def.NearLimitRatio
	}
	if cfg.Risk.Participation == 0 {
		cfg.Risk.Participation = def.Participation
	}
	if cfg.Risk.WashSaleLookbackSec == 0 {
		cfg.Risk.WashSaleLookbackSec = int(def.WashSaleLookback / time.Second)
	}
	if cfg.Risk.CoolOffSec == 0 {
		cfg.Risk.CoolOffSec = 30
	}
	if cfg.Risk.OpTimeoutMs == 0 {
		cfg.Risk.OpTimeoutMs = int(def.OpTimeout / time.Millisecond)
	}
	if cfg.Splitter.Participation == 0 {
		cfg.Splitter.Participation = def.Participation
	}
	if cfg.Metrics.WindowSec == 0 {
		cfg.Metrics.WindowSec = 5
	}
	if cfg.Metrics.CoolOffSec == 0 {
		cfg.Metrics.CoolOffSec = 30
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "trade_gate"
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MetricsAddr == "" {
		cfg.HTTP.MetricsAddr = ":9100"
	}
}

// Validate ensures required fields are present and sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Risk.DailyLimit <= 0 {
		return errors.New("risk.dailyLimit must be > 0")
	}
	if cfg.Risk.MaxDrawdown <= 0 || cfg.Risk.MaxDrawdown > 1 {
		return errors.New("risk.maxDrawdown must be in (0,1]")
	}
	if cfg.Risk.GrowthFactorK <= 0 {
		return errors.New("risk.growthFactorK must be > 0")
	}
	if cfg.Risk.MaxSignalAgeMs <= 0 {
		return errors.New("risk.maxSignalAgeMs must be > 0")
	}
	if cfg.Risk.Participation <= 0 || cfg.Risk.Participation > 1 {
		return errors.New("risk.participation must be in (0,1]")
	}
	if cfg.Splitter.Participation <= 0 || cfg.Splitter.Participation > 1 {
		return errors.New("splitter.participation must be in (0,1]")
	}
	if cfg.Metrics.WindowSec <= 0 {
		return errors.New("metrics.windowSec must be > 0")
	}
	for sym, limit := range cfg.Risk.MaxPositionLimits {
		if limit <= 0 {
			return fmt.Errorf("risk.maxPositionLimits[%s] must be > 0", sym)
		}
	}
	if (cfg.Market.SessionOpen == "") != (cfg.Market.SessionClose == "") {
		return errors.New("market.sessionOpen/sessionClose must be set together")
	}
	return nil
}

// RiskParams 把配置翻译为引擎参数。
func (cfg AppConfig) RiskParams() risk.Params {
	p := risk.DefaultParams()
	p.DailyLimit = decimal.NewFromFloat(cfg.Risk.DailyLimit)
	p.InitialCapital = decimal.NewFromFloat(cfg.Risk.InitialCapital)
	p.MaxDrawdown = cfg.Risk.MaxDrawdown
	p.GrowthFactorK = cfg.Risk.GrowthFactorK
	p.VolatilityThreshold = cfg.Risk.VolatilityThreshold
	p.MaxSignalAge = time.Duration(cfg.Risk.MaxSignalAgeMs) * time.Millisecond
	p.NearLimitRatio = cfg.Risk.NearLimitRatio
	p.Participation = cfg.Risk.Participation
	p.WashSaleLookback = time.Duration(cfg.Risk.WashSaleLookbackSec) * time.Second
	p.OpTimeout = time.Duration(cfg.Risk.OpTimeoutMs) * time.Millisecond
	p.MaxPositionLimits = make(map[string]decimal.Decimal, len(cfg.Risk.MaxPositionLimits))
	for sym, limit := range cfg.Risk.MaxPositionLimits {
		p.MaxPositionLimits[sym] = decimal.NewFromFloat(limit)
	}
	return p
}
