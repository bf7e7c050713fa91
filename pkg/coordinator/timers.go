package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/call_session/pkg/session"
)

// TimerKind вид таймаута координатора
type TimerKind string

const (
	// TimerResponse - нет финального ответа на исходящий вызов
	TimerResponse TimerKind = "response"
	// TimerAccept - приложение не приняло входящий вызов
	TimerAccept TimerKind = "accept"
	// TimerMedia - медиа не готова после подтверждения диалога
	TimerMedia TimerKind = "media"
	// TimerTeardown - страховка зависшего завершения
	TimerTeardown TimerKind = "teardown"
)

// Значения по умолчанию; масштаб Response - транзакционный таймаут
// 64*T1 из RFC 3261
const (
	DefaultResponseTimeout = 32 * time.Second
	DefaultAcceptTimeout   = 60 * time.Second
	DefaultMediaTimeout    = 10 * time.Second
	DefaultTeardownTimeout = 5 * time.Second
)

type timerKey struct {
	id   session.ID
	kind TimerKind
}

// timerEntry связывает взведенный таймер с его идентичностью: сверка
// по указателю записи отличает живой таймер от устаревшей замены
type timerEntry struct {
	t *time.Timer
}

// TimerManager управляет таймерами сессий. Таймеры взводятся и
// отменяются действиями переходов; срабатывание возвращается в конвейер
// обычным классифицированным событием через callback fire.
type TimerManager struct {
	mu     sync.Mutex
	timers map[timerKey]*timerEntry
	closed bool

	durations map[TimerKind]time.Duration
	fire      func(session.ID, TimerKind)

	// Счетчики для диагностики
	totalCreated   atomic.Int64
	totalFired     atomic.Int64
	totalCancelled atomic.Int64
}

// NewTimerManager создает менеджер с указанными длительностями и
// callback'ом срабатывания
func NewTimerManager(durations map[TimerKind]time.Duration, fire func(session.ID, TimerKind)) *TimerManager {
	d := map[TimerKind]time.Duration{
		TimerResponse: DefaultResponseTimeout,
		TimerAccept:   DefaultAcceptTimeout,
		TimerMedia:    DefaultMediaTimeout,
		TimerTeardown: DefaultTeardownTimeout,
	}
	for k, v := range durations {
		if v > 0 {
			d[k] = v
		}
	}
	return &TimerManager{
		timers:    make(map[timerKey]*timerEntry),
		durations: d,
		fire:      fire,
	}
}

// Schedule взводит таймер сессии; существующий таймер того же вида
// перевзводится заново
func (tm *TimerManager) Schedule(id session.ID, kind TimerKind) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return
	}
	key := timerKey{id: id, kind: kind}
	if old, ok := tm.timers[key]; ok {
		old.t.Stop()
	}
	// Callback сверяет собственную запись: сработавший до Stop старый
	// таймер не должен ни удалить свежую замену, ни доставиться
	entry := &timerEntry{}
	entry.t = time.AfterFunc(tm.durations[kind], func() {
		tm.fired(key, entry)
	})
	tm.timers[key] = entry
	tm.totalCreated.Add(1)
}

func (tm *TimerManager) fired(key timerKey, entry *timerEntry) {
	tm.mu.Lock()
	ok := tm.timers[key] == entry
	if ok {
		delete(tm.timers, key)
	}
	closed := tm.closed
	tm.mu.Unlock()
	// Таймер, отмененный или замененный после срабатывания AfterFunc,
	// но до захвата мьютекса, не доставляется
	if !ok || closed {
		return
	}
	tm.totalFired.Add(1)
	tm.fire(key.id, key.kind)
}

// Cancel отменяет таймер указанного вида
func (tm *TimerManager) Cancel(id session.ID, kind TimerKind) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	key := timerKey{id: id, kind: kind}
	if e, ok := tm.timers[key]; ok {
		e.t.Stop()
		delete(tm.timers, key)
		tm.totalCancelled.Add(1)
	}
}

// CancelAll отменяет все таймеры сессии
func (tm *TimerManager) CancelAll(id session.ID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for key, e := range tm.timers {
		if key.id == id {
			e.t.Stop()
			delete(tm.timers, key)
			tm.totalCancelled.Add(1)
		}
	}
}

// Active возвращает количество взведенных таймеров
func (tm *TimerManager) Active() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.timers)
}

// Close останавливает все таймеры; дальнейшие Schedule игнорируются
func (tm *TimerManager) Close() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.closed = true
	for key, e := range tm.timers {
		e.t.Stop()
		delete(tm.timers, key)
	}
}
