// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器，同时实现 dispatch.Observer、rag.Observer 与 workflow.Observer
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 执行指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	tokensUsed        *prometheus.CounterVec
	cost              *prometheus.CounterVec

	// 缓存指标
	cacheLookups *prometheus.CounterVec

	// 检索指标
	searchDuration *prometheus.HistogramVec
	searchResults  *prometheus.HistogramVec

	// 编排指标
	taskTransitions *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器；reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of model executions",
		},
		[]string{"provider", "model", "status", "cached"},
	)
	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Model execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"},
	)
	c.cost = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_total",
			Help:      "Total execution cost",
		},
		[]string{"provider", "model"},
	)

	c.cacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Execution cache lookups by result",
		},
		[]string{"result"},
	)

	c.searchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Retrieval search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"search_type"},
	)
	c.searchResults = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		},
		[]string{"search_type"},
	)

	c.taskTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status transitions",
		},
		[]string{"from", "to"},
	)
	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished task graph runs by status",
		},
		[]string{"status"},
	)
	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Task graph run duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"status"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)
	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordExecution 记录一次权威执行结果
func (c *Collector) RecordExecution(provider, model, status string, cached bool, duration time.Duration, inputTokens, outputTokens int, cost float64) {
	c.executionsTotal.WithLabelValues(provider, model, status, strconv.FormatBool(cached)).Inc()
	if cached {
		return
	}
	c.executionDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.tokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	c.tokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	if cost > 0 {
		c.cost.WithLabelValues(provider, model).Add(cost)
	}
}

// RecordCacheLookup 记录缓存命中或未命中
func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordSearch 记录一次检索
func (c *Collector) RecordSearch(searchType string, duration time.Duration, results int) {
	c.searchDuration.WithLabelValues(searchType).Observe(duration.Seconds())
	c.searchResults.WithLabelValues(searchType).Observe(float64(results))
}

// RecordTaskTransition 记录任务状态转换
func (c *Collector) RecordTaskTransition(from, to string) {
	c.taskTransitions.WithLabelValues(from, to).Inc()
}

// RecordRun 记录运行结束
func (c *Collector) RecordRun(status string, duration time.Duration) {
	c.runsTotal.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordDBConnections 更新连接池状态
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// statusCode 状态码归类为 2xx/3xx/4xx/5xx
func statusCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
