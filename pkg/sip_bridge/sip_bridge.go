// Package sip_bridge реализует протокольного коллаборатора координатора
// поверх sipgo: исходящие транзакции через клиент, входящие через
// обработчики сервера. Сетевые исходы возвращаются координатору
// асинхронными уведомлениями; идентификатор сессии переносится в Call-ID.
package sip_bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/call_session/pkg/coordinator"
	"github.com/arzzra/call_session/pkg/session"
)

// Config конфигурация SIP моста
type Config struct {
	UserAgent string `env:"SIP_USER_AGENT" envDefault:"call_session"`
	Host      string `env:"SIP_HOST" envDefault:"127.0.0.1"`
	Port      int    `env:"SIP_PORT" envDefault:"5060"`
	Transport string `env:"SIP_TRANSPORT" envDefault:"udp"`
}

// Bridge связывает координатор с SIP стеком. Реализует
// coordinator.ProtocolLayer.
type Bridge struct {
	cfg    Config
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server
	notify func(coordinator.ProtocolNotification)
	logger *slog.Logger

	mu    sync.Mutex
	calls map[session.ID]*call
}

// call состояние SIP стороны одной сессии
type call struct {
	id session.ID

	// Исходящая сторона
	inviteReq *sip.Request
	inviteRes *sip.Response

	// Входящая сторона
	incomingReq *sip.Request
	incomingRes *sip.Response
	incomingTx  sip.ServerTransaction
}

var _ coordinator.ProtocolLayer = (*Bridge)(nil)

// New создает SIP мост. notify вызывается для каждого уведомления в
// сторону координатора.
func New(cfg Config, notify func(coordinator.ProtocolNotification), logger *slog.Logger) (*Bridge, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "call_session"
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port <= 0 {
		cfg.Port = 5060
	}
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}
	if logger == nil {
		logger = slog.Default()
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("создание user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(cfg.Host))
	if err != nil {
		return nil, fmt.Errorf("создание клиента: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("создание сервера: %w", err)
	}

	b := &Bridge{
		cfg:    cfg,
		ua:     ua,
		client: client,
		server: server,
		notify: notify,
		logger: logger.With("component", "sip_bridge"),
		calls:  make(map[session.ID]*call),
	}
	server.OnInvite(b.onInvite)
	server.OnAck(b.onAck)
	server.OnBye(b.onBye)
	server.OnCancel(b.onCancel)
	return b, nil
}

// Listen запускает прием входящих запросов; блокирует до отмены ctx
func (b *Bridge) Listen(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)
	b.logger.Info("SIP мост слушает", "addr", addr, "transport", b.cfg.Transport)
	return b.server.ListenAndServe(ctx, b.cfg.Transport, addr)
}

// Close освобождает ресурсы SIP стека
func (b *Bridge) Close() error {
	return b.ua.Close()
}

// SendInvite отправляет исходящий INVITE; ответы транзакции
// возвращаются координатору уведомлениями progress/final_response
func (b *Bridge) SendInvite(ctx context.Context, id session.ID, target string, params *session.Params) error {
	var recipient sip.Uri
	if err := sip.ParseUri(target, &recipient); err != nil {
		return fmt.Errorf("разбор адреса %q: %w", target, err)
	}

	req := sip.NewRequest(sip.INVITE, &recipient)
	callID := sip.CallIDHeader(string(id))
	req.AppendHeader(&callID)
	if params != nil {
		ct := sip.ContentTypeHeader(params.ContentType)
		req.AppendHeader(&ct)
		req.SetBody(params.Data)
	}

	tx, err := b.client.TransactionRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("отправка INVITE: %w", err)
	}

	c := &call{id: id, inviteReq: req}
	b.mu.Lock()
	b.calls[id] = c
	b.mu.Unlock()

	go b.watchInvite(c, tx)
	return nil
}

// watchInvite транслирует ответы исходящей INVITE транзакции в
// уведомления координатора
func (b *Bridge) watchInvite(c *call, tx sip.ClientTransaction) {
	defer tx.Terminate()
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return
			}
			if res.StatusCode < 200 {
				if res.StatusCode > 100 {
					b.notify(coordinator.ProtocolNotification{
						SessionID: c.id,
						Kind:      coordinator.ProtocolProgress,
						Code:      int(res.StatusCode),
					})
				}
				continue
			}
			if res.StatusCode < 300 {
				b.mu.Lock()
				c.inviteRes = res
				b.mu.Unlock()
			}
			b.notify(coordinator.ProtocolNotification{
				SessionID: c.id,
				Kind:      coordinator.ProtocolFinalResponse,
				Code:      int(res.StatusCode),
				Params:    bodyParams(res.Body(), res.ContentType()),
			})
			if res.StatusCode >= 300 {
				// ACK на отказ генерирует транзакционный слой sipgo
				b.Forget(c.id)
				return
			}
		case <-tx.Done():
			return
		}
	}
}

// SendProgress отправляет 180 Ringing на сохраненную входящую транзакцию
func (b *Bridge) SendProgress(_ context.Context, id session.ID) error {
	c, err := b.incoming(id)
	if err != nil {
		return err
	}
	res := sip.NewResponseFromRequest(c.incomingReq, sip.StatusRinging, "Ringing", nil)
	return c.incomingTx.Respond(res)
}

// SendFinalResponse отправляет финальный ответ с указанным кодом
func (b *Bridge) SendFinalResponse(_ context.Context, id session.ID, code int, params *session.Params) error {
	c, err := b.incoming(id)
	if err != nil {
		return err
	}
	var body []byte
	if params != nil {
		body = params.Data
	}
	res := sip.NewResponseFromRequest(c.incomingReq, sip.StatusCode(code), reasonFor(code), body)
	if params != nil {
		ct := sip.ContentTypeHeader(params.ContentType)
		res.AppendHeader(&ct)
	}
	if err := c.incomingTx.Respond(res); err != nil {
		return err
	}
	if code < 300 {
		b.mu.Lock()
		c.incomingRes = res
		b.mu.Unlock()
	}
	return nil
}

// SendAck подтверждает полученный 2xx; завершение отправки возвращается
// координатору уведомлением ack
func (b *Bridge) SendAck(_ context.Context, id session.ID) error {
	b.mu.Lock()
	c, ok := b.calls[id]
	var req *sip.Request
	var res *sip.Response
	if ok {
		req, res = c.inviteReq, c.inviteRes
	}
	b.mu.Unlock()
	if !ok || req == nil || res == nil {
		return fmt.Errorf("нет подтверждаемого ответа для сессии %s", id)
	}

	ack := sip.NewAckRequest(req, res, nil)
	if err := b.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("отправка ACK: %w", err)
	}
	go b.notify(coordinator.ProtocolNotification{
		SessionID: id,
		Kind:      coordinator.ProtocolAck,
	})
	return nil
}

// SendBye завершает подтвержденный диалог
func (b *Bridge) SendBye(ctx context.Context, id session.ID) error {
	c, err := b.lookup(id)
	if err != nil {
		return err
	}

	var bye *sip.Request
	switch {
	case c.inviteReq != nil && c.inviteRes != nil:
		bye = sip.NewByeRequestUAC(c.inviteReq, c.inviteRes, nil)
	case c.incomingReq != nil && c.incomingRes != nil:
		bye = sip.NewByeRequestUAC(c.incomingReq, c.incomingRes, nil)
	default:
		return fmt.Errorf("нет подтвержденного диалога для завершения сессии %s", id)
	}

	tx, err := b.client.TransactionRequest(ctx, bye)
	if err != nil {
		return fmt.Errorf("отправка BYE: %w", err)
	}
	go b.watchTermination(c.id, tx)
	return nil
}

// SendCancel отменяет неподтвержденную исходящую транзакцию
func (b *Bridge) SendCancel(ctx context.Context, id session.ID) error {
	c, err := b.lookup(id)
	if err != nil {
		return err
	}
	if c.inviteReq == nil {
		return fmt.Errorf("нет исходящего запроса для отмены сессии %s", id)
	}

	cancel := sip.NewCancelRequest(c.inviteReq)
	tx, err := b.client.TransactionRequest(ctx, cancel)
	if err != nil {
		return fmt.Errorf("отправка CANCEL: %w", err)
	}
	go b.watchTermination(c.id, tx)
	return nil
}

// watchTermination транслирует ответ на BYE/CANCEL в уведомление
// final_response для завершающего пути таблицы
func (b *Bridge) watchTermination(id session.ID, tx sip.ClientTransaction) {
	defer tx.Terminate()
	defer b.Forget(id)
	select {
	case res, ok := <-tx.Responses():
		if !ok {
			return
		}
		if res.StatusCode >= 200 {
			b.notify(coordinator.ProtocolNotification{
				SessionID: id,
				Kind:      coordinator.ProtocolFinalResponse,
				Code:      int(res.StatusCode),
			})
		}
	case <-tx.Done():
	}
}

// Обработчики входящих запросов

func (b *Bridge) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	id := session.ID(req.CallID().Value())
	b.mu.Lock()
	c, ok := b.calls[id]
	if !ok {
		c = &call{id: id}
		b.calls[id] = c
	}
	c.incomingReq = req
	c.incomingTx = tx
	b.mu.Unlock()

	var remote string
	if from := req.From(); from != nil {
		remote = from.Address.String()
	}
	b.notify(coordinator.ProtocolNotification{
		SessionID: id,
		RoleHint:  session.RoleCallee,
		Kind:      coordinator.ProtocolInvite,
		Remote:    remote,
		Params:    bodyParams(req.Body(), req.ContentType()),
	})
}

func (b *Bridge) onAck(req *sip.Request, _ sip.ServerTransaction) {
	b.notify(coordinator.ProtocolNotification{
		SessionID: session.ID(req.CallID().Value()),
		Kind:      coordinator.ProtocolAck,
	})
}

func (b *Bridge) onBye(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		b.logger.Warn("ответ на BYE не отправлен", "error", err)
	}
	id := session.ID(req.CallID().Value())
	b.notify(coordinator.ProtocolNotification{
		SessionID: id,
		Kind:      coordinator.ProtocolBye,
	})
	b.Forget(id)
}

func (b *Bridge) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(res); err != nil {
		b.logger.Warn("ответ на CANCEL не отправлен", "error", err)
	}
	// Отмена до финального ответа для координатора эквивалентна BYE
	b.notify(coordinator.ProtocolNotification{
		SessionID: session.ID(req.CallID().Value()),
		Kind:      coordinator.ProtocolBye,
	})
}

// Forget удаляет состояние SIP стороны сессии. Завершающие пути моста
// вызывают его сами; хост может вызвать его при вытеснении сессии
func (b *Bridge) Forget(id session.ID) {
	b.mu.Lock()
	delete(b.calls, id)
	b.mu.Unlock()
}

func (b *Bridge) lookup(id session.ID) (*call, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.calls[id]
	if !ok {
		return nil, fmt.Errorf("SIP состояние сессии %s неизвестно", id)
	}
	return c, nil
}

func (b *Bridge) incoming(id session.ID) (*call, error) {
	c, err := b.lookup(id)
	if err != nil {
		return nil, err
	}
	if c.incomingTx == nil {
		return nil, fmt.Errorf("нет входящей транзакции для сессии %s", id)
	}
	return c, nil
}

func bodyParams(body []byte, contentType *sip.ContentTypeHeader) *session.Params {
	if len(body) == 0 {
		return nil
	}
	ct := "application/sdp"
	if contentType != nil {
		ct = contentType.Value()
	}
	data := make([]byte, len(body))
	copy(data, body)
	return &session.Params{ContentType: ct, Data: data}
}

func reasonFor(code int) string {
	switch code {
	case 180:
		return "Ringing"
	case 200:
		return "OK"
	case 480:
		return "Temporarily Unavailable"
	case 486:
		return "Busy Here"
	case 488:
		return "Not Acceptable Here"
	case 603:
		return "Decline"
	default:
		return "Call Terminated"
	}
}
