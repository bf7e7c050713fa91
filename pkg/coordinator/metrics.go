package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arzzra/call_session/pkg/session"
)

// MetricsCollector собирает метрики координатора сессий.
// Prometheus метрики регистрируются один раз на процесс; выключенный
// сборщик сводит все операции к no-op.
type MetricsCollector struct {
	enabled bool

	sessionsTotal    *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	sessionDuration  prometheus.Histogram
	eventsTotal      *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	establishedTotal prometheus.Counter
	timersFired      *prometheus.CounterVec

	// Атомарные счетчики для быстрой внутренней диагностики
	totalSessions  atomic.Int64
	activeSessions atomic.Int64
	totalErrors    atomic.Int64

	startTimes sync.Map // session.ID -> time.Time
}

var (
	metricsOnce     sync.Once
	sharedCollector *MetricsCollector
)

// NewMetricsCollector возвращает общий сборщик метрик процесса.
// Повторные вызовы возвращают тот же экземпляр - Prometheus не
// допускает двойной регистрации коллекторов.
func NewMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		mc := &MetricsCollector{enabled: true}
		mc.sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_session",
			Subsystem: "coordinator",
			Name:      "sessions_total",
			Help:      "Количество созданных сессий по ролям",
		}, []string{"role"})
		mc.sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "call_session",
			Subsystem: "coordinator",
			Name:      "sessions_active",
			Help:      "Количество активных сессий",
		})
		mc.sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "call_session",
			Subsystem: "coordinator",
			Name:      "session_duration_seconds",
			Help:      "Длительность жизни сессии",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		})
		mc.eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_session",
			Subsystem: "coordinator",
			Name:      "events_total",
			Help:      "Обработанные события по виду и исходу",
		}, []string{"kind", "outcome"})
		mc.transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_session",
			Subsystem: "coordinator",
			Name:      "transitions_total",
			Help:      "Примененные переходы состояний",
		}, []string{"from", "to"})
		mc.errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_session",
			Subsystem: "coordinator",
			Name:      "errors_total",
			Help:      "Ошибки координации по виду",
		}, []string{"kind"})
		mc.establishedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "call_session",
			Subsystem: "coordinator",
			Name:      "established_total",
			Help:      "Количество установленных сессий",
		})
		mc.timersFired = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_session",
			Subsystem: "coordinator",
			Name:      "timers_fired_total",
			Help:      "Сработавшие таймеры по виду",
		}, []string{"kind"})
		sharedCollector = mc
	})
	return sharedCollector
}

// NoopMetricsCollector возвращает выключенный сборщик для тестов
func NoopMetricsCollector() *MetricsCollector {
	return &MetricsCollector{enabled: false}
}

// SessionCreated учитывает создание сессии
func (mc *MetricsCollector) SessionCreated(id session.ID, role session.Role) {
	if !mc.enabled {
		return
	}
	mc.sessionsTotal.WithLabelValues(string(role)).Inc()
	mc.sessionsActive.Inc()
	mc.totalSessions.Add(1)
	mc.activeSessions.Add(1)
	mc.startTimes.Store(id, time.Now())
}

// SessionTerminated учитывает завершение сессии
func (mc *MetricsCollector) SessionTerminated(id session.ID) {
	if !mc.enabled {
		return
	}
	mc.sessionsActive.Dec()
	mc.activeSessions.Add(-1)
	if start, ok := mc.startTimes.LoadAndDelete(id); ok {
		if t, ok := start.(time.Time); ok {
			mc.sessionDuration.Observe(time.Since(t).Seconds())
		}
	}
}

// EventProcessed учитывает обработанное событие с его исходом
func (mc *MetricsCollector) EventProcessed(kind EventKind, outcome Outcome) {
	if !mc.enabled {
		return
	}
	mc.eventsTotal.WithLabelValues(string(kind), string(outcome)).Inc()
}

// TransitionApplied учитывает примененный переход состояний
func (mc *MetricsCollector) TransitionApplied(from, to session.State) {
	if !mc.enabled {
		return
	}
	mc.transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// CoordinationError учитывает ошибку координации
func (mc *MetricsCollector) CoordinationError(kind ErrorKind) {
	if !mc.enabled {
		return
	}
	mc.errorsTotal.WithLabelValues(string(kind)).Inc()
	mc.totalErrors.Add(1)
}

// Established учитывает установление сессии
func (mc *MetricsCollector) Established() {
	if !mc.enabled {
		return
	}
	mc.establishedTotal.Inc()
}

// TimerFired учитывает срабатывание таймера
func (mc *MetricsCollector) TimerFired(kind TimerKind) {
	if !mc.enabled {
		return
	}
	mc.timersFired.WithLabelValues(string(kind)).Inc()
}

// ActiveSessions возвращает внутренний счетчик активных сессий
func (mc *MetricsCollector) ActiveSessions() int64 {
	return mc.activeSessions.Load()
}
