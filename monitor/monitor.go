// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfunc/werewolfserver/logger"
)

type Metrics struct {
	ConnectedAgents prometheus.Gauge
	GamePhase       prometheus.Gauge
	Calls           *prometheus.CounterVec
	CallLatency     *prometheus.HistogramVec
	GamesFinished   *prometheus.CounterVec
	Deaths          *prometheus.CounterVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_agents",
			Help:      "Number of registered agent connections",
		}),
		GamePhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "game_phase",
			Help:      "Current phase: 0 not started, 1 night, 2 day, 3 finished",
		}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Agent calls by method and outcome",
		}, []string{"method", "outcome"}),
		CallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_latency_seconds",
			Help:      "Agent call latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"method"}),
		GamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Finished games by result",
		}, []string{"result"}),
		Deaths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "player_deaths_total",
			Help:      "Player deaths by cause",
		}, []string{"cause"}),
	}

	reg.MustRegister(
		m.ConnectedAgents,
		m.GamePhase,
		m.Calls,
		m.CallLatency,
		m.GamesFinished,
		m.Deaths,
	)
	return m
}

type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
	callCount int64
	mutex     sync.Mutex
	expvarOne sync.Once
}

// NewMonitor uses its own registry so several monitors can coexist in tests.
func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	return &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

func (m *Monitor) StartServer(addr string) {
	// 添加expvar指标
	m.expvarOne.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
		expvar.Publish("agent_calls", expvar.Func(func() interface{} {
			m.mutex.Lock()
			defer m.mutex.Unlock()
			return m.callCount
		}))
	})

	go func() {
		if err := http.ListenAndServe(addr, m.Handler()); err != nil {
			logger.Log.Errorf("metrics server stopped: %v", err)
		}
	}()
}

func (m *Monitor) SetConnectedAgents(count int) {
	m.metrics.ConnectedAgents.Set(float64(count))
}

func (m *Monitor) ObserveCall(method, outcome string, duration time.Duration) {
	m.metrics.Calls.WithLabelValues(method, outcome).Inc()
	m.metrics.CallLatency.WithLabelValues(method).Observe(duration.Seconds())
	m.mutex.Lock()
	m.callCount++
	m.mutex.Unlock()
}

func (m *Monitor) SetPhase(phase int) {
	m.metrics.GamePhase.Set(float64(phase))
}

func (m *Monitor) IncGamesFinished(result string) {
	m.metrics.GamesFinished.WithLabelValues(result).Inc()
}

func (m *Monitor) IncDeaths(cause string) {
	m.metrics.Deaths.WithLabelValues(cause).Inc()
}
