package session

import (
	"sync"
	"time"
)

// DefaultGracePeriod время хранения завершенного контекста для ответов
// на поздние дубликаты сетевых событий
const DefaultGracePeriod = 30 * time.Second

// defaultJanitorInterval период обхода хранилища сборщиком
const defaultJanitorInterval = 5 * time.Second

// minJanitorInterval нижняя граница периода обхода: нулевой или
// отрицательный grace период не должен ронять тикер сборщика
const minJanitorInterval = 10 * time.Millisecond

// Store хранилище контекстов активных сессий. Ровно один контекст на
// идентификатор; поиск никогда не создает контекст неявно.
type Store struct {
	mu    sync.RWMutex
	items map[ID]*Context

	grace    time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	// onEvict вызывается сборщиком при удалении завершенного контекста
	onEvict func(Snapshot)
}

// StoreOption опция конфигурации хранилища
type StoreOption func(*Store)

// WithGracePeriod задает grace период хранения завершенных контекстов
func WithGracePeriod(d time.Duration) StoreOption {
	return func(s *Store) { s.grace = d }
}

// WithEvictCallback задает callback, вызываемый при удалении контекста
// сборщиком по истечении grace периода
func WithEvictCallback(fn func(Snapshot)) StoreOption {
	return func(s *Store) { s.onEvict = fn }
}

// NewStore создает хранилище и запускает фоновый сборщик завершенных
// контекстов
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		items:  make(map[ID]*Context),
		grace:  DefaultGracePeriod,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.janitor()
	return s
}

// Create создает контекст в состоянии Idle. Возвращает ErrAlreadyExists,
// если контекст с таким идентификатором уже существует.
func (s *Store) Create(id ID, role Role) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return Snapshot{}, ErrAlreadyExists
	}
	c := newContext(id, role)
	s.items[id] = c
	return c.Snapshot(), nil
}

// Get возвращает согласованный снимок контекста
func (s *Store) Get(id ID) (Snapshot, error) {
	s.mu.RLock()
	c, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return c.Snapshot(), nil
}

// Mutate применяет результат перехода к контексту и возвращает снимок
// после применения. Единственный путь изменения состояния и флагов.
func (s *Store) Mutate(id ID, commit Commit) (Snapshot, error) {
	s.mu.RLock()
	c, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if err := c.apply(commit); err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// Remove немедленно удаляет контекст из хранилища
func (s *Store) Remove(id ID) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// Len возвращает количество контекстов в хранилище
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ForEach вызывает fn для снимка каждого контекста
func (s *Store) ForEach(fn func(Snapshot)) {
	s.mu.RLock()
	ctxs := make([]*Context, 0, len(s.items))
	for _, c := range s.items {
		ctxs = append(ctxs, c)
	}
	s.mu.RUnlock()
	for _, c := range ctxs {
		fn(c.Snapshot())
	}
}

// Close останавливает фоновый сборщик
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// janitor удаляет контексты, находящиеся в Terminated дольше grace периода
func (s *Store) janitor() {
	interval := defaultJanitorInterval
	if s.grace < interval {
		interval = s.grace
	}
	if interval < minJanitorInterval {
		interval = minJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Store) sweep(now time.Time) {
	var evicted []Snapshot
	s.mu.Lock()
	for id, c := range s.items {
		if d := c.terminatedFor(now); d > 0 && d >= s.grace {
			if s.onEvict != nil {
				evicted = append(evicted, c.Snapshot())
			}
			delete(s.items, id)
		}
	}
	s.mu.Unlock()
	for _, snap := range evicted {
		s.onEvict(snap)
	}
}
