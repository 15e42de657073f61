// monitor/monitor.go
package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlineSessions prometheus.Gauge
	WatchedRooms   prometheus.Gauge
	RoundsCreated  prometheus.Counter
	Transitions    *prometheus.CounterVec
	LostRaces      *prometheus.CounterVec
	Uploads        *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlineSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_sessions",
			Help:      "Number of connected client sessions",
		}),
		WatchedRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_rooms",
			Help:      "Number of rooms with at least one watching session",
		}),
		RoundsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_created_total",
			Help:      "Total number of rounds created",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Phase and round status transitions applied by this process",
		}, []string{"from", "to"}),
		LostRaces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lost_races_total",
			Help:      "Conditional writes that another session applied first",
		}, []string{"kind"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hand_uploads_total",
			Help:      "Hand image uploads by result",
		}, []string{"result"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Request processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.OnlineSessions,
		m.WatchedRooms,
		m.RoundsCreated,
		m.Transitions,
		m.LostRaces,
		m.Uploads,
		m.RequestLatency,
	)

	return m
}

// Monitor 进程指标。nil *Monitor 的所有方法都是空操作
type Monitor struct {
	metrics      *Metrics
	registry     *prometheus.Registry
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the process started",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	}))
	return m
}

// Handler 暴露 /metrics
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 测试用
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) IncOnlineSessions() {
	if m == nil {
		return
	}
	m.metrics.OnlineSessions.Inc()
}

func (m *Monitor) DecOnlineSessions() {
	if m == nil {
		return
	}
	m.metrics.OnlineSessions.Dec()
}

func (m *Monitor) SetWatchedRooms(count int) {
	if m == nil {
		return
	}
	m.metrics.WatchedRooms.Set(float64(count))
}

func (m *Monitor) IncRoundsCreated() {
	if m == nil {
		return
	}
	m.metrics.RoundsCreated.Inc()
}

func (m *Monitor) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.metrics.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Monitor) IncLostRace(kind string) {
	if m == nil {
		return
	}
	m.metrics.LostRaces.WithLabelValues(kind).Inc()
}

func (m *Monitor) IncUpload(result string) {
	if m == nil {
		return
	}
	m.metrics.Uploads.WithLabelValues(result).Inc()
}

func (m *Monitor) ObserveRequest(route string, duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.RequestLatency.WithLabelValues(route).Observe(duration.Seconds())
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

// RequestCount 已处理的请求数
func (m *Monitor) RequestCount() int64 {
	if m == nil {
		return 0
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.requestCount
}
