package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"trade-gate-go/config"
	"trade-gate-go/infrastructure/alert"
	"trade-gate-go/infrastructure/logger"
	"trade-gate-go/market"
	"trade-gate-go/metrics"
	"trade-gate-go/perf"
	"trade-gate-go/risk"
	"trade-gate-go/sim"
	"trade-gate-go/splitter"
	"trade-gate-go/store"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	simN := flag.Int("sim", 0, "干跑模式：跑 n 笔合成信号后退出")
	flag.Parse()

	if *simN > 0 {
		runSim(*simN)
		return
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = zlog.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 存储与行情源：配置了 redis 则走共享存储，否则单实例内存态
	var (
		riskStore store.RiskStore
		source    market.Source
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis 连接失败: %v", err)
		}
		riskStore = store.NewRedis(rdb)
		source = market.NewRedisSource(rdb)
	} else {
		riskStore = store.NewMemory(time.Now().UTC())
		source = market.NewStatic()
		zlog.Warn("redis 未配置，使用内存存储（仅单实例）")
	}

	alerts := alert.NewManager([]alert.Channel{
		alert.NewZapChannel("zap", zlog),
		alert.NewPubSubChannel(riskStore, "alerts", 100*time.Millisecond),
	}, 10*time.Second)

	riskBreaker := risk.NewBreaker(risk.BreakerConfig{
		CoolOff: time.Duration(cfg.Risk.CoolOffSec) * time.Second,
		OnOpen: func(ev risk.CircuitEvent) {
			zlog.LogCircuit("opened", ev.Reason, ev.Fields)
			alerts.CircuitOpened("risk", ev.Reason, ev.Fields)
		},
		OnReset: func(at time.Time) {
			zlog.LogCircuit("reset", "cool_off_elapsed", nil)
		},
	})
	metricsBreaker := risk.NewBreaker(risk.BreakerConfig{
		CoolOff: time.Duration(cfg.Metrics.CoolOffSec) * time.Second,
		OnOpen: func(ev risk.CircuitEvent) {
			zlog.LogCircuit("opened", ev.Reason, ev.Fields)
			alerts.CircuitOpened("metrics", ev.Reason, ev.Fields)
		},
	})

	var calendar market.Calendar = market.AlwaysOpen{}
	if cfg.Market.SessionOpen != "" {
		open, errOpen := parseClock(cfg.Market.SessionOpen)
		close_, errClose := parseClock(cfg.Market.SessionClose)
		if errOpen != nil || errClose != nil {
			log.Fatalf("解析交易时段失败: open=%v close=%v", errOpen, errClose)
		}
		calendar = market.SessionCalendar{Open: open, Close: close_}
	}

	engine, err := risk.NewEngine(ctx, risk.EngineConfig{
		Params:   cfg.RiskParams(),
		Breaker:  riskBreaker,
		Store:    riskStore,
		Source:   source,
		Calendar: calendar,
		Alerts:   alerts,
		Log:      zlog,
	})
	if err != nil {
		log.Fatalf("初始化风控引擎失败: %v", err)
	}

	exporter := metrics.NewExporter(cfg.Metrics.Namespace)
	agg := metrics.New(metrics.Config{
		Window:  time.Duration(cfg.Metrics.WindowSec) * time.Second,
		Store:   riskStore,
		Breaker: metricsBreaker,
		Phase:   riskBreaker.Phase,
		OnFlush: exporter.Update,
		Log:     zlog,
	})

	tracker := perf.NewTracker(0, nil)

	split := splitter.New(splitter.Config{
		Source:        source,
		Store:         riskStore,
		Sink:          agg,
		Log:           zlog,
		GrowthFactorK: cfg.Risk.GrowthFactorK,
		Participation: cfg.Splitter.Participation,
		OpTimeout:     time.Duration(cfg.Risk.OpTimeoutMs) * time.Millisecond,
	})

	go func() {
		if err := split.Run(ctx); err != nil && ctx.Err() == nil {
			zlog.LogError(err, map[string]interface{}{"task": "splitter"})
		}
	}()
	go func() {
		if err := agg.Run(ctx); err != nil && ctx.Err() == nil {
			zlog.LogError(err, map[string]interface{}{"task": "aggregator"})
		}
	}()
	go func() {
		if err := agg.RunConsumers(ctx); err != nil && ctx.Err() == nil {
			zlog.LogError(err, map[string]interface{}{"task": "execution_consumer"})
		}
	}()
	rebalanceBounds := rebalanceCaps(cfg.Risk.InitialCapital)
	go rolloverLoop(ctx, engine, riskStore, tracker, rebalanceBounds, zlog)
	go watchConfig(ctx, *cfgPath, engine, zlog)
	go serveMetrics(cfg.HTTP.MetricsAddr, exporter)

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: newMux(engine, split, agg, tracker),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	zlog.Info("trade gate started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}

type capBounds struct {
	min decimal.Decimal
	max decimal.Decimal
}

// rebalanceCaps 再平衡后的额度夹在初始资金的 [10%, 300%] 内。
func rebalanceCaps(initialCapital float64) capBounds {
	base := decimal.NewFromFloat(initialCapital)
	return capBounds{
		min: base.Mul(decimal.NewFromFloat(0.1)),
		max: base.Mul(decimal.NewFromInt(3)),
	}
}

// rolloverLoop 每分钟检查资金释放窗口是否到期，到期先按绩效再平衡额度，再滚动窗口。
func rolloverLoop(ctx context.Context, engine *risk.Engine, riskStore store.RiskStore, tracker *perf.Tracker, bounds capBounds, zlog *logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			daily, err := riskStore.Daily(ctx)
			if err != nil {
				continue
			}
			if time.Since(daily.WindowStart) < risk.PacingWindow {
				continue
			}
			if m := tracker.Metrics(); tracker.Size() >= 2 {
				if err := engine.RebalanceDailyLimit(ctx, m, bounds.min, bounds.max); err != nil {
					zlog.LogError(err, map[string]interface{}{"task": "rebalance"})
				} else {
					zlog.Info("daily limit rebalanced")
				}
			}
			if err := engine.RolloverDay(ctx); err != nil {
				zlog.LogError(err, map[string]interface{}{"task": "rollover"})
			} else {
				zlog.Info("pacing window rolled over")
			}
		}
	}
}

// runSim 干跑模式：内存组件上跑一轮合成信号并打印计数。
func runSim(n int) {
	ctx := context.Background()
	runner, _, err := sim.BuildRunner(ctx, sim.RunnerConfig{
		Symbols: []string{"R_100", "R_50"},
		Seed:    time.Now().UnixNano(),
	})
	if err != nil {
		log.Fatalf("装配仿真链路失败: %v", err)
	}
	sum, err := runner.RunN(ctx, n)
	if err != nil {
		log.Fatalf("仿真失败: %v", err)
	}
	log.Printf("sim: signals=%d accepted=%d splits=%d child_orders=%d rejections=%v",
		sum.Signals, sum.Accepted, sum.Splits, sum.ChildOrders, sum.Rejections)
}

// watchConfig 配置热更新：只应用风控参数段。
func watchConfig(ctx context.Context, path string, engine *risk.Engine, zlog *logger.Logger) {
	w := config.Watcher{Path: path}
	err := w.Start(ctx, func(cfg config.AppConfig) {
		patch := riskPatch(cfg)
		if err := engine.UpdateRiskParameters(ctx, patch); err != nil {
			zlog.LogError(err, map[string]interface{}{"task": "config_reload"})
			return
		}
		zlog.Info("risk parameters reloaded")
	})
	if err != nil && ctx.Err() == nil {
		zlog.LogError(err, map[string]interface{}{"task": "config_watch"})
	}
}

func riskPatch(cfg config.AppConfig) risk.ParamsPatch {
	r := cfg.Risk
	return risk.ParamsPatch{
		DailyLimit:          &r.DailyLimit,
		MaxDrawdown:         &r.MaxDrawdown,
		GrowthFactorK:       &r.GrowthFactorK,
		VolatilityThreshold: &r.VolatilityThreshold,
		MaxSignalAgeMs:      &r.MaxSignalAgeMs,
		Participation:       &r.Participation,
		MaxPositionLimits:   r.MaxPositionLimits,
	}
}

// signalWire HTTP 入参；上游时间戳以 unix 毫秒计。
type signalWire struct {
	Symbol       string  `json:"symbol"`
	Amount       float64 `json:"amount"`
	Price        float64 `json:"price"`
	Timestamp    int64   `json:"timestamp"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	ContractType string  `json:"contract_type"`
	ReferenceID  string  `json:"reference_id"`
}

func newMux(engine *risk.Engine, split *splitter.Splitter, agg *metrics.Aggregator, tracker *perf.Tracker) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/record-profit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var wire struct {
			Profit float64 `json:"profit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := engine.UpdateProfitState(r.Context(), decimal.NewFromFloat(wire.Profit)); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		tracker.Record(wire.Profit)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/validate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var wire signalWire
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		decision := engine.Validate(r.Context(), risk.TradeSignal{
			Symbol:       wire.Symbol,
			Amount:       decimal.NewFromFloat(wire.Amount),
			Price:        decimal.NewFromFloat(wire.Price),
			Timestamp:    time.UnixMilli(wire.Timestamp).UTC(),
			NBBO:         risk.NBBO{Bid: decimal.NewFromFloat(wire.Bid), Ask: decimal.NewFromFloat(wire.Ask)},
			ContractType: wire.ContractType,
			ReferenceID:  wire.ReferenceID,
		})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(decision)
	})

	mux.HandleFunc("/split", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var wire struct {
			Symbol     string `json:"symbol"`
			Quantity   int    `json:"quantity"`
			DurationMs int64  `json:"duration_ms"`
			Strategy   string `json:"strategy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		children, err := split.Split(r.Context(), splitter.ParentOrder{
			Symbol:        wire.Symbol,
			TotalQuantity: wire.Quantity,
			Duration:      time.Duration(wire.DurationMs) * time.Millisecond,
			Strategy:      splitter.ParseStrategy(wire.Strategy),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(children)
	})

	mux.HandleFunc("/update-risk-parameters", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var patch risk.ParamsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := engine.UpdateRiskParameters(r.Context(), patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/metrics/trading", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(agg.RenderText()))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func serveMetrics(addr string, exporter *metrics.Exporter) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	_ = http.ListenAndServe(addr, mux)
}

// parseClock 解析 "HH:MM" 为距零点的偏移。
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
