// Package mockcollab содержит управляемые реализации коллабораторов
// координатора для тестов и локальных прогонов: вызовы записываются,
// отказы внедряются по имени метода, ответные уведомления подаются
// сценарием теста.
package mockcollab

import (
	"context"
	"fmt"
	"sync"

	"github.com/arzzra/call_session/pkg/session"
)

// Call одна запись журнала вызовов коллаборатора
type Call struct {
	Method    string
	SessionID session.ID
	Target    string
	Code      int
	Params    *session.Params
}

// recorder общий журнал вызовов с внедрением отказов
type recorder struct {
	mu    sync.Mutex
	calls []Call
	fail  map[string]error
}

func (r *recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if err, ok := r.fail[c.Method]; ok {
		return err
	}
	return nil
}

// Calls возвращает копию журнала вызовов
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsTo возвращает записи вызовов указанного метода
func (r *recorder) CallsTo(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// FailOn внедряет отказ для метода; err == nil снимает внедрение
func (r *recorder) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[string]error)
	}
	if err == nil {
		delete(r.fail, method)
		return
	}
	r.fail[method] = err
}

// Reset очищает журнал и внедренные отказы
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.fail = nil
}

// Protocol управляемый протокольный коллаборатор
type Protocol struct {
	recorder
}

// NewProtocol создает протокольный mock
func NewProtocol() *Protocol {
	return &Protocol{}
}

func (p *Protocol) SendInvite(_ context.Context, id session.ID, target string, params *session.Params) error {
	return p.record(Call{Method: "SendInvite", SessionID: id, Target: target, Params: params})
}

func (p *Protocol) SendProgress(_ context.Context, id session.ID) error {
	return p.record(Call{Method: "SendProgress", SessionID: id})
}

func (p *Protocol) SendFinalResponse(_ context.Context, id session.ID, code int, params *session.Params) error {
	return p.record(Call{Method: "SendFinalResponse", SessionID: id, Code: code, Params: params})
}

func (p *Protocol) SendAck(_ context.Context, id session.ID) error {
	return p.record(Call{Method: "SendAck", SessionID: id})
}

func (p *Protocol) SendBye(_ context.Context, id session.ID) error {
	return p.record(Call{Method: "SendBye", SessionID: id})
}

func (p *Protocol) SendCancel(_ context.Context, id session.ID) error {
	return p.record(Call{Method: "SendCancel", SessionID: id})
}

// Media управляемый медиа коллаборатор. Allocate возвращает
// детерминированные параметры, различимые по идентификатору сессии.
type Media struct {
	recorder
}

// NewMedia создает медиа mock
func NewMedia() *Media {
	return &Media{}
}

func (m *Media) Allocate(_ context.Context, id session.ID, remote *session.Params) (*session.Params, error) {
	if err := m.record(Call{Method: "Allocate", SessionID: id, Params: remote}); err != nil {
		return nil, err
	}
	kind := "offer"
	if remote != nil {
		kind = "answer"
	}
	return &session.Params{
		ContentType: "application/sdp",
		Data:        []byte(fmt.Sprintf("%s:%s", kind, id)),
	}, nil
}

func (m *Media) Start(_ context.Context, id session.ID, params *session.Params) error {
	return m.record(Call{Method: "Start", SessionID: id, Params: params})
}

func (m *Media) Stop(_ context.Context, id session.ID) error {
	return m.record(Call{Method: "Stop", SessionID: id})
}

func (m *Media) Update(_ context.Context, id session.ID, params *session.Params) error {
	return m.record(Call{Method: "Update", SessionID: id, Params: params})
}
