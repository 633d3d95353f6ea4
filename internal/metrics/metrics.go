// metrics - Prometheus-коллекторы конвейера авторизованных запросов.
// Все методы безопасны для nil-получателя: без метрик код работает так же.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth_session"

// Исходы обмена refresh-токена и повторов запросов.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultSkipped  = "skipped"
)

// Metrics агрегирует коллекторы.
type Metrics struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	waitersTotal    prometheus.Counter
	replaysTotal    *prometheus.CounterVec
}

// New создаёт коллекторы и регистрирует их в reg (если reg != nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh-token exchanges by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh-token exchanges including persistence.",
			Buckets:   prometheus.DefBuckets,
		}),
		waitersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_waiters_total",
			Help:      "Requests that waited on an in-flight refresh instead of starting one.",
		}),
		replaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Requests replayed after a refresh, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.refreshTotal, m.refreshDuration, m.waitersTotal, m.replaysTotal)
	}

	return m
}

// ObserveRefresh фиксирует завершённый обмен.
func (m *Metrics) ObserveRefresh(result string, d time.Duration) {
	if m == nil {
		return
	}

	m.refreshTotal.WithLabelValues(result).Inc()
	m.refreshDuration.Observe(d.Seconds())
}

// WaiterJoined фиксирует запрос, вставший в очередь к текущему обмену.
func (m *Metrics) WaiterJoined() {
	if m == nil {
		return
	}

	m.waitersTotal.Inc()
}

// Replay фиксирует повтор запроса после обновления.
func (m *Metrics) Replay(result string) {
	if m == nil {
		return
	}

	m.replaysTotal.WithLabelValues(result).Inc()
}
