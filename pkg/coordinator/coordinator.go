package coordinator

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/arzzra/call_session/pkg/session"
)

// Coordinator фасад координации сессий: принимает уведомления слоев и
// команды приложения, классифицирует их и проводит через движок
// переходов.
//
// События одной сессии обрабатываются строго последовательно: сессия
// закрепляется за воркером хешем идентификатора, очередь воркера - FIFO.
// События разных сессий обрабатываются конкурентно.
type Coordinator struct {
	cfg        Config
	classifier Classifier
	engine     *Engine
	store      *session.Store
	timers     *TimerManager
	pub        *Publisher
	trail      *Trail
	metrics    *MetricsCollector
	logger     *slog.Logger

	shards []chan Event
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option опция конструктора координатора
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *MetricsCollector
}

// WithLogger задает логгер координатора
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics задает сборщик метрик
func WithMetrics(mc *MetricsCollector) Option {
	return func(o *options) { o.metrics = mc }
}

// New создает координатор с указанными коллабораторами и запускает
// воркеры конвейера
func New(cfg Config, protocol ProtocolLayer, media MediaLayer, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("component", "coordinator")
	metrics := o.metrics
	if metrics == nil {
		if cfg.EnableMetrics {
			metrics = NewMetricsCollector()
		} else {
			metrics = NoopMetricsCollector()
		}
	}
	table := NewMasterTable()

	trail := NewTrail(cfg.TrailDepth)
	c := &Coordinator{
		cfg:     cfg,
		pub:     NewPublisher(cfg.SubscriberBuffer, logger),
		trail:   trail,
		metrics: metrics,
		logger:  logger,
	}
	// Диагностический след живет ровно столько же, сколько контекст:
	// сборщик хранилища убирает его вместе с вытесненной сессией
	c.store = session.NewStore(
		session.WithGracePeriod(cfg.GracePeriod),
		session.WithEvictCallback(func(snap session.Snapshot) {
			trail.Drop(snap.ID)
			logger.Debug("контекст вытеснен по истечении grace периода",
				"session_id", snap.ID, "reason", snap.TerminateReason)
		}),
	)
	c.timers = NewTimerManager(cfg.timerDurations(), c.onTimer)

	engine, err := NewEngine(table, c.store, c.timers, c.pub, c.trail, protocol, media, metrics, logger)
	if err != nil {
		c.store.Close()
		c.pub.Close()
		c.timers.Close()
		return nil, err
	}
	c.engine = engine

	c.shards = make([]chan Event, cfg.Workers)
	for i := range c.shards {
		c.shards[i] = make(chan Event, cfg.QueueDepth)
		c.wg.Add(1)
		go c.worker(c.shards[i])
	}
	return c, nil
}

func (c *Coordinator) worker(events <-chan Event) {
	defer c.wg.Done()
	for ev := range events {
		// Ошибки координации уже учтены и залогированы движком
		_, _ = c.engine.Process(context.Background(), ev)
	}
}

// enqueue ставит событие в очередь воркера его сессии. Мьютекс
// удерживается на время отправки: постановка после Close недопустима.
func (c *Coordinator) enqueue(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Debug("координатор закрыт, событие отброшено",
			"session_id", ev.SessionID, "event", ev.Kind)
		return
	}
	c.shards[shardFor(ev.SessionID, len(c.shards))] <- ev
}

func shardFor(id session.ID, n int) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}

func (c *Coordinator) onTimer(id session.ID, kind TimerKind) {
	c.metrics.TimerFired(kind)
	c.enqueue(c.classifier.ClassifyTimer(id, kind))
}

// OnProtocolEvent принимает уведомление протокольного слоя
func (c *Coordinator) OnProtocolEvent(n ProtocolNotification) {
	c.enqueue(c.classifier.ClassifyProtocol(n))
}

// OnMediaEvent принимает уведомление медиа слоя
func (c *Coordinator) OnMediaEvent(n MediaNotification) {
	c.enqueue(c.classifier.ClassifyMedia(n))
}

// PlaceCall инициирует исходящий вызов на target и возвращает
// идентификатор новой сессии. Результат асинхронный: жизнь сессии
// наблюдается через Subscribe.
func (c *Coordinator) PlaceCall(target string) session.ID {
	id := session.NewID()
	c.enqueue(c.classifier.ClassifyCommand(Command{
		SessionID: id,
		Kind:      CmdPlaceCall,
		Target:    target,
	}))
	return id
}

// Accept принимает входящий вызов
func (c *Coordinator) Accept(id session.ID) {
	c.enqueue(c.classifier.ClassifyCommand(Command{SessionID: id, Kind: CmdAccept}))
}

// Reject отклоняет входящий вызов с указанным кодом (0 - код по
// умолчанию)
func (c *Coordinator) Reject(id session.ID, code int) {
	c.enqueue(c.classifier.ClassifyCommand(Command{SessionID: id, Kind: CmdReject, Code: code}))
}

// Hangup завершает вызов в любом нетерминальном состоянии
func (c *Coordinator) Hangup(id session.ID) {
	c.enqueue(c.classifier.ClassifyCommand(Command{SessionID: id, Kind: CmdHangup}))
}

// Hold ставит установленный вызов на удержание
func (c *Coordinator) Hold(id session.ID) {
	c.enqueue(c.classifier.ClassifyCommand(Command{SessionID: id, Kind: CmdHold}))
}

// Resume снимает вызов с удержания
func (c *Coordinator) Resume(id session.ID) {
	c.enqueue(c.classifier.ClassifyCommand(Command{SessionID: id, Kind: CmdResume}))
}

// Subscribe регистрирует подписчика жизненных событий
func (c *Coordinator) Subscribe() (<-chan LifecycleEvent, func()) {
	return c.pub.Subscribe()
}

// Session возвращает снимок сессии
func (c *Coordinator) Session(id session.ID) (session.Snapshot, error) {
	return c.store.Get(id)
}

// Sessions возвращает снимки всех сессий
func (c *Coordinator) Sessions() []session.Snapshot {
	out := make([]session.Snapshot, 0, c.store.Len())
	c.store.ForEach(func(s session.Snapshot) {
		out = append(out, s)
	})
	return out
}

// History возвращает диагностический след обработки событий сессии
func (c *Coordinator) History(id session.ID) []TrailRecord {
	return c.trail.Records(id)
}

// Close останавливает координатор: прекращает прием событий,
// дожидается воркеров и освобождает ресурсы
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	// Таймеры глушатся до закрытия очередей: срабатывание после
	// закрытия канала воркера недопустимо
	c.timers.Close()
	for _, shard := range c.shards {
		close(shard)
	}
	c.wg.Wait()
	c.pub.Close()
	c.store.Close()
}
