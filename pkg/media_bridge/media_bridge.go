// Package media_bridge реализует медиа коллаборатора координатора:
// выделение RTP сессий, offer/answer через media_sdp и передача аудио
// потока по UDP. Результаты операций возвращаются координатору
// асинхронными уведомлениями.
package media_bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"

	"github.com/arzzra/call_session/pkg/coordinator"
	"github.com/arzzra/call_session/pkg/media_sdp"
	"github.com/arzzra/call_session/pkg/session"
)

const (
	defaultPortMin = 20000
	defaultPortMax = 20998
	// PCMU 8кГц, пакет 20мс
	frameSamples = 160
	frameBytes   = 160
	payloadPCMU  = 0
)

// Config конфигурация медиа моста
type Config struct {
	Host    string `env:"MEDIA_HOST" envDefault:"127.0.0.1"`
	PortMin int    `env:"MEDIA_PORT_MIN" envDefault:"20000"`
	PortMax int    `env:"MEDIA_PORT_MAX" envDefault:"20998"`
}

// Bridge управляет RTP сессиями вызовов. Реализует
// coordinator.MediaLayer.
type Bridge struct {
	cfg    Config
	notify func(coordinator.MediaNotification)
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[session.ID]*rtpSession
	nextPort int
}

// rtpSession состояние одного аудио потока
type rtpSession struct {
	mu   sync.Mutex
	id   session.ID
	conn *net.UDPConn
	port int

	local  *media_sdp.Config
	remote *net.UDPAddr

	seq       uint16
	timestamp uint32
	ssrc      uint32
	sending   bool
	stopCh    chan struct{}
	stopOnce  sync.Once

	received int64
}

var _ coordinator.MediaLayer = (*Bridge)(nil)

// New создает медиа мост. notify вызывается для каждого уведомления в
// сторону координатора.
func New(cfg Config, notify func(coordinator.MediaNotification), logger *slog.Logger) *Bridge {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.PortMin <= 0 {
		cfg.PortMin = defaultPortMin
	}
	if cfg.PortMax <= cfg.PortMin {
		cfg.PortMax = cfg.PortMin + (defaultPortMax - defaultPortMin)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:      cfg,
		notify:   notify,
		logger:   logger.With("component", "media_bridge"),
		sessions: make(map[session.ID]*rtpSession),
		nextPort: cfg.PortMin,
	}
}

// Allocate создает RTP сессию и возвращает локальное SDP описание:
// offer при remote == nil, answer при известном описании удаленной
// стороны
func (b *Bridge) Allocate(_ context.Context, id session.ID, remote *session.Params) (*session.Params, error) {
	b.mu.Lock()
	if _, ok := b.sessions[id]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("медиа сессия %s уже выделена", id)
	}
	b.mu.Unlock()

	conn, port, err := b.bindPort()
	if err != nil {
		return nil, err
	}

	name := string(id)
	if len(name) > 8 {
		name = name[:8]
	}
	local := media_sdp.Config{
		SessionName: "call-" + name,
		Host:        b.cfg.Host,
		Port:        port,
		PayloadType: payloadPCMU,
		CodecName:   "PCMU",
		ClockRate:   8000,
		Ptime:       20 * time.Millisecond,
	}

	s := &rtpSession{
		id:     id,
		conn:   conn,
		port:   port,
		local:  &local,
		ssrc:   uint32(time.Now().UnixNano()),
		stopCh: make(chan struct{}),
	}

	var data []byte
	if remote == nil {
		offer, err := media_sdp.BuildOffer(local)
		if err != nil {
			conn.Close()
			return nil, err
		}
		data, err = media_sdp.Marshal(offer)
		if err != nil {
			conn.Close()
			return nil, err
		}
	} else {
		offer, err := media_sdp.Parse(remote.Data)
		if err != nil {
			conn.Close()
			return nil, err
		}
		answer, err := media_sdp.BuildAnswer(local, offer)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if err := s.setRemote(offer); err != nil {
			conn.Close()
			return nil, err
		}
		data, err = media_sdp.Marshal(answer)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()

	b.logger.Debug("медиа сессия выделена", "session_id", id, "port", port)
	return &session.Params{ContentType: "application/sdp", Data: data}, nil
}

// Start запускает поток: разбирает описание удаленной стороны, если
// оно передано, и поднимает циклы отправки и приема. Готовность
// возвращается координатору уведомлениями negotiated и ready.
func (b *Bridge) Start(_ context.Context, id session.ID, params *session.Params) error {
	s, err := b.session(id)
	if err != nil {
		return err
	}
	if params != nil {
		desc, err := media_sdp.Parse(params.Data)
		if err != nil {
			return err
		}
		if err := s.setRemote(desc); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.remote == nil {
		s.mu.Unlock()
		return fmt.Errorf("удаленный адрес сессии %s неизвестен", id)
	}
	if !s.sending {
		s.sending = true
		go s.sendLoop()
		go s.recvLoop()
	}
	s.mu.Unlock()

	// Согласование завершено самим фактом обмена описаниями; готовность
	// подтверждается отдельным уведомлением после запуска циклов
	negotiated, err := s.localDescription()
	if err != nil {
		return err
	}
	go func() {
		b.notify(coordinator.MediaNotification{
			SessionID: id,
			Kind:      coordinator.MediaNegotiated,
			Params:    &session.Params{ContentType: "application/sdp", Data: negotiated},
		})
		b.notify(coordinator.MediaNotification{
			SessionID: id,
			Kind:      coordinator.MediaReady,
		})
	}()
	return nil
}

// Stop останавливает поток и освобождает порт
func (b *Bridge) Stop(_ context.Context, id session.ID) error {
	b.mu.Lock()
	s, ok := b.sessions[id]
	if ok {
		delete(b.sessions, id)
	}
	b.mu.Unlock()
	if !ok {
		// Повторная остановка не ошибка: путь завершения вызывает Stop
		// безусловно
		return nil
	}
	s.close()
	b.logger.Debug("медиа сессия остановлена", "session_id", id, "received", s.receivedCount())
	return nil
}

// Update применяет новое описание к идущему потоку. nil params
// переключает направление: активный поток ставится на удержание,
// удержанный возобновляется.
func (b *Bridge) Update(_ context.Context, id session.ID, params *session.Params) error {
	s, err := b.session(id)
	if err != nil {
		return err
	}

	var dir media_sdp.Direction
	if params != nil {
		desc, perr := media_sdp.Parse(params.Data)
		if perr != nil {
			return perr
		}
		dir = media_sdp.DirectionOf(desc)
	} else {
		s.mu.Lock()
		if s.local.Direction == media_sdp.DirectionSendOnly {
			dir = media_sdp.DirectionSendRecv
		} else {
			dir = media_sdp.DirectionSendOnly
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.local.Direction = dir
	s.mu.Unlock()

	negotiated, err := s.localDescription()
	if err != nil {
		return err
	}
	go func() {
		b.notify(coordinator.MediaNotification{
			SessionID: id,
			Kind:      coordinator.MediaNegotiated,
			Params:    &session.Params{ContentType: "application/sdp", Data: negotiated},
		})
		b.notify(coordinator.MediaNotification{
			SessionID: id,
			Kind:      coordinator.MediaReady,
		})
	}()
	return nil
}

func (b *Bridge) session(id session.ID) (*rtpSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil, fmt.Errorf("медиа сессия %s не выделена", id)
	}
	return s, nil
}

// bindPort занимает следующий свободный четный порт диапазона
func (b *Bridge) bindPort() (*net.UDPConn, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	span := b.cfg.PortMax - b.cfg.PortMin
	for i := 0; i <= span; i += 2 {
		port := b.nextPort
		b.nextPort += 2
		if b.nextPort > b.cfg.PortMax {
			b.nextPort = b.cfg.PortMin
		}
		conn, err := net.ListenUDP("udp", &net.UDPAddr{
			IP:   net.ParseIP(b.cfg.Host),
			Port: port,
		})
		if err == nil {
			return conn, port, nil
		}
	}
	return nil, 0, fmt.Errorf("нет свободных портов в диапазоне %d-%d", b.cfg.PortMin, b.cfg.PortMax)
}

func (s *rtpSession) setRemote(desc *sdp.SessionDescription) error {
	endpoint, err := media_sdp.RemoteEndpoint(desc)
	if err != nil {
		return err
	}
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("адрес удаленной стороны: %w", err)
	}
	s.mu.Lock()
	s.remote = addr
	s.mu.Unlock()
	return nil
}

func (s *rtpSession) receivedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

func (s *rtpSession) localDescription() ([]byte, error) {
	s.mu.Lock()
	cfg := *s.local
	s.mu.Unlock()
	desc, err := media_sdp.BuildOffer(cfg)
	if err != nil {
		return nil, err
	}
	return media_sdp.Marshal(desc)
}

// sendLoop отправляет кадры тишины PCMU каждые 20мс, пока сессия не
// остановлена и направление допускает отправку
func (s *rtpSession) sendLoop() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	payload := make([]byte, frameBytes)
	for i := range payload {
		payload[i] = 0xFF // тишина в μ-law
	}
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			remote := s.remote
			dir := s.local.Direction
			pkt := rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    payloadPCMU,
					SequenceNumber: s.seq,
					Timestamp:      s.timestamp,
					SSRC:           s.ssrc,
				},
				Payload: payload,
			}
			s.seq++
			s.timestamp += frameSamples
			s.mu.Unlock()

			if remote == nil || dir == media_sdp.DirectionRecvOnly || dir == media_sdp.DirectionInactive {
				continue
			}
			data, err := pkt.Marshal()
			if err != nil {
				continue
			}
			_, _ = s.conn.WriteToUDP(data, remote)
		}
	}
}

// recvLoop читает входящие пакеты; содержимое не декодируется, счетчик
// служит диагностике
func (s *rtpSession) recvLoop() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		s.mu.Lock()
		s.received++
		s.mu.Unlock()
	}
}

func (s *rtpSession) close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.conn.Close()
	})
}
