// Демонстрационный узел координатора: SIP сигнализация через sipgo,
// RTP медиа через pion. Режим server ожидает входящие вызовы и
// автоматически отвечает, режим client инициирует вызов на target.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arzzra/call_session/pkg/coordinator"
	"github.com/arzzra/call_session/pkg/media_bridge"
	"github.com/arzzra/call_session/pkg/session"
	"github.com/arzzra/call_session/pkg/sip_bridge"
)

func main() {
	var (
		host     = flag.String("host", "127.0.0.1", "Адрес SIP интерфейса")
		port     = flag.Int("port", 5060, "Порт SIP интерфейса")
		mode     = flag.String("mode", "server", "Режим: server, client")
		target   = flag.String("target", "sip:bob@127.0.0.1:5061", "Адрес вызываемой стороны")
		duration = flag.Duration("duration", 10*time.Second, "Длительность вызова в режиме client")
		debug    = flag.Bool("debug", false, "Подробное логирование")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*host, *port, *mode, *target, *duration, logger); err != nil {
		logger.Error("узел завершился с ошибкой", "error", err)
		os.Exit(1)
	}
}

func run(host string, port int, mode, target string, duration time.Duration, logger *slog.Logger) error {
	cfg, err := coordinator.LoadConfig()
	if err != nil {
		return fmt.Errorf("чтение конфигурации: %w", err)
	}

	// Коллабораторы создаются до координатора, поэтому уведомления
	// идут через замыкание поверх еще не присвоенной переменной
	var coord *coordinator.Coordinator

	sipBridge, err := sip_bridge.New(
		sip_bridge.Config{Host: host, Port: port},
		func(n coordinator.ProtocolNotification) { coord.OnProtocolEvent(n) },
		logger,
	)
	if err != nil {
		return fmt.Errorf("создание SIP моста: %w", err)
	}
	defer sipBridge.Close()

	mediaBridge := media_bridge.New(
		media_bridge.Config{Host: host},
		func(n coordinator.MediaNotification) { coord.OnMediaEvent(n) },
		logger,
	)

	coord, err = coordinator.New(cfg, sipBridge, mediaBridge, coordinator.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("создание координатора: %w", err)
	}
	defer coord.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sipBridge.Listen(ctx); err != nil && ctx.Err() == nil {
			logger.Error("SIP мост остановился", "error", err)
			stop()
		}
	}()

	events, cancel := coord.Subscribe()
	defer cancel()
	go watchLifecycle(ctx, coord, events, mode, logger)

	switch mode {
	case "server":
		logger.Info("ожидание входящих вызовов", "addr", fmt.Sprintf("%s:%d", host, port))
		<-ctx.Done()
	case "client":
		id := coord.PlaceCall(target)
		logger.Info("исходящий вызов", "session_id", id, "target", target)
		select {
		case <-time.After(duration):
			logger.Info("завершение вызова по таймеру", "session_id", id)
			coord.Hangup(id)
			time.Sleep(time.Second)
		case <-ctx.Done():
			coord.Hangup(id)
			time.Sleep(time.Second)
		}
	default:
		return fmt.Errorf("неизвестный режим %q (доступны server, client)", mode)
	}
	return nil
}

// watchLifecycle печатает события жизненного цикла; в режиме server
// входящие вызовы принимаются автоматически
func watchLifecycle(ctx context.Context, coord *coordinator.Coordinator, events <-chan coordinator.LifecycleEvent, mode string, logger *slog.Logger) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			logger.Info("событие сессии",
				"kind", ev.Kind,
				"session_id", ev.SessionID,
				"role", ev.Role,
				"state", ev.State,
				"reason", ev.Reason,
			)
			if mode == "server" && ev.Kind == coordinator.SessionCreated && ev.Role == session.RoleCallee {
				coord.Accept(ev.SessionID)
			}
		case <-ctx.Done():
			return
		}
	}
}
