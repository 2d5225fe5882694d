package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter 把周期快照镜像到 Prometheus 指标。
type Exporter struct {
	registry *prometheus.Registry

	tradesPerSecond prometheus.Gauge
	avgLatency      prometheus.Gauge
	p95Latency      prometheus.Gauge
	p99Latency      prometheus.Gauge
	systemLoad      prometheus.Gauge
	errorRate       prometheus.Gauge
	ordersSplit     prometheus.Gauge
	childOrders     prometheus.Gauge
	avgImpact       prometheus.Gauge
	circuitOpen     prometheus.Gauge
}

// NewExporter 创建带独立 registry 的导出器。
func NewExporter(namespace string) *Exporter {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	return &Exporter{
		registry:        registry,
		tradesPerSecond: gauge("trades_per_second", "Trades executed per second"),
		avgLatency:      gauge("execution_latency_ms_avg", "Average execution latency"),
		p95Latency:      gauge("execution_latency_ms_p95", "95th percentile execution latency"),
		p99Latency:      gauge("execution_latency_ms_p99", "99th percentile execution latency"),
		systemLoad:      gauge("system_load", "Current system load percentage"),
		errorRate:       gauge("error_rate", "Trade error rate"),
		ordersSplit:     gauge("orders_split", "Parent orders split in window"),
		childOrders:     gauge("child_orders_created", "Child orders created in window"),
		avgImpact:       gauge("avg_market_impact", "Average market impact score"),
		circuitOpen:     gauge("circuit_open", "Risk circuit breaker open (1) or closed (0)"),
	}
}

// Update 用最新快照刷新所有指标。
func (e *Exporter) Update(s Snapshot) {
	e.tradesPerSecond.Set(s.TradesPerSecond)
	e.avgLatency.Set(s.AvgLatencyMs)
	e.p95Latency.Set(s.P95LatencyMs)
	e.p99Latency.Set(s.P99LatencyMs)
	e.systemLoad.Set(s.SystemLoad)
	e.errorRate.Set(s.ErrorRate)
	e.ordersSplit.Set(s.OrdersSplit)
	e.childOrders.Set(s.ChildOrdersCreated)
	e.avgImpact.Set(s.AvgMarketImpact)
	e.circuitOpen.Set(float64(s.CircuitPhase))
}

// Handler Prometheus 抓取端点。
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
