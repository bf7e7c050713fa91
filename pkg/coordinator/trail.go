package coordinator

import (
	"sync"
	"time"

	"github.com/arzzra/call_session/pkg/session"
)

// TrailRecord - запись журнала обработки событий сессии
type TrailRecord struct {
	Time     time.Time
	Event    EventKind
	From     session.State
	To       session.State
	Accepted bool
	// Reason заполняется для отклоненных событий: kind ошибки
	// координатора либо текст причины
	Reason string
}

const defaultTrailDepth = 64

// Trail хранит ограниченную историю обработки по каждой сессии.
// Старые записи вытесняются по кольцу; история сессии живет пока
// жива сама сессия в хранилище.
type Trail struct {
	mu    sync.RWMutex
	depth int
	rings map[session.ID]*trailRing
}

type trailRing struct {
	records []TrailRecord
	next    int
	full    bool
}

// NewTrail создает журнал с глубиной depth записей на сессию
func NewTrail(depth int) *Trail {
	if depth <= 0 {
		depth = defaultTrailDepth
	}
	return &Trail{
		depth: depth,
		rings: make(map[session.ID]*trailRing),
	}
}

// Record добавляет запись в журнал сессии
func (t *Trail) Record(id session.ID, rec TrailRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ring, ok := t.rings[id]
	if !ok {
		ring = &trailRing{records: make([]TrailRecord, t.depth)}
		t.rings[id] = ring
	}
	ring.records[ring.next] = rec
	ring.next++
	if ring.next == t.depth {
		ring.next = 0
		ring.full = true
	}
}

// Records возвращает историю сессии от старых записей к новым
func (t *Trail) Records(id session.ID) []TrailRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ring, ok := t.rings[id]
	if !ok {
		return nil
	}
	var out []TrailRecord
	if ring.full {
		out = make([]TrailRecord, 0, t.depth)
		out = append(out, ring.records[ring.next:]...)
		out = append(out, ring.records[:ring.next]...)
	} else {
		out = append(out, ring.records[:ring.next]...)
	}
	return out
}

// Drop удаляет историю сессии
func (t *Trail) Drop(id session.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rings, id)
}
