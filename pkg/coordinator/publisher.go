package coordinator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/call_session/pkg/session"
)

// LifecycleKind тип жизненного события сессии
type LifecycleKind string

const (
	// SessionCreated - сессия создана (исходящий или входящий вызов)
	SessionCreated LifecycleKind = "SessionCreated"
	// SessionUpdated - значимое изменение без смены фазы жизни:
	// прогресс вызова, hold/resume
	SessionUpdated LifecycleKind = "SessionUpdated"
	// SessionEstablished - диалог подтвержден и медиа готова;
	// публикуется ровно один раз за жизнь сессии
	SessionEstablished LifecycleKind = "SessionEstablished"
	// SessionTerminated - сессия перешла в завершение; публикуется
	// один раз с причиной
	SessionTerminated LifecycleKind = "SessionTerminated"
	// CoordinationError - событие отвергнуто или переход откачен;
	// вид ошибки в Reason
	CoordinationError LifecycleKind = "CoordinationError"
)

// LifecycleEvent - событие жизненного цикла, доставляемое подписчикам
type LifecycleEvent struct {
	Kind      LifecycleKind
	SessionID session.ID
	Role      session.Role
	State     session.State
	Reason    string
	// Params согласованные параметры; заполняются для SessionEstablished
	Params *session.Params
	Time   time.Time
}

const defaultSubscriberBuffer = 128

// Publisher рассылает жизненные события подписчикам. Доставка не
// блокирует конвейер обработки: при переполненном буфере подписчика
// событие отбрасывается с записью в лог.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[int]chan LifecycleEvent
	nextID int
	buffer int
	closed bool
	logger *slog.Logger

	dropped atomic.Int64
}

// NewPublisher создает издатель жизненных событий
func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		subs:   make(map[int]chan LifecycleEvent),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe регистрирует подписчика и возвращает канал событий вместе
// с функцией отписки. Канал закрывается при отписке или закрытии
// издателя.
func (p *Publisher) Subscribe() (<-chan LifecycleEvent, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan LifecycleEvent, p.buffer)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish рассылает событие всем подписчикам без блокировки
func (p *Publisher) Publish(ev LifecycleEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			p.dropped.Add(1)
			p.logger.Warn("подписчик не успевает, событие отброшено",
				"kind", ev.Kind,
				"session_id", ev.SessionID,
			)
		}
	}
}

// Dropped возвращает число отброшенных доставок
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close закрывает издатель и каналы всех подписчиков
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
