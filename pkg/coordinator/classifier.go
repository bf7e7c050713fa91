package coordinator

import (
	"time"

	"github.com/arzzra/call_session/pkg/session"
)

// Classifier нормализует внешние уведомления в классифицированные события.
// Классификация чистая, без побочных эффектов и без блокировок; порядок
// событий в рамках сессии фиксируется меткой времени классификации.
type Classifier struct{}

// ClassifyProtocol классифицирует уведомление протокольного слоя.
// Финальные ответы разделяются по коду: 2xx и отказ - разные теги,
// потому что они ведут в разные переходы таблицы.
func (Classifier) ClassifyProtocol(n ProtocolNotification) Event {
	ev := Event{
		SessionID:  n.SessionID,
		Code:       n.Code,
		Target:     n.Remote,
		Params:     n.Params,
		ReceivedAt: time.Now(),
	}
	switch n.Kind {
	case ProtocolInvite:
		ev.Kind = EventProtocolInvite
	case ProtocolProgress:
		ev.Kind = EventProtocolProgress
	case ProtocolFinalResponse:
		if n.Code >= 200 && n.Code < 300 {
			ev.Kind = EventFinalSuccess
		} else {
			ev.Kind = EventFinalFailure
		}
	case ProtocolAck:
		ev.Kind = EventProtocolAck
	case ProtocolBye:
		ev.Kind = EventProtocolBye
	case ProtocolErrorEvent:
		ev.Kind = EventProtocolError
	default:
		ev.Kind = EventUnclassified
	}
	return ev
}

// ClassifyMedia классифицирует уведомление медиа слоя
func (Classifier) ClassifyMedia(n MediaNotification) Event {
	ev := Event{
		SessionID:  n.SessionID,
		Params:     n.Params,
		Reason:     n.Reason,
		ReceivedAt: time.Now(),
	}
	switch n.Kind {
	case MediaNegotiated:
		ev.Kind = EventMediaNegotiated
	case MediaReady:
		ev.Kind = EventMediaReady
	case MediaFailed:
		ev.Kind = EventMediaFailed
	default:
		ev.Kind = EventUnclassified
	}
	return ev
}

// ClassifyCommand классифицирует команду пользователя
func (Classifier) ClassifyCommand(cmd Command) Event {
	ev := Event{
		SessionID:  cmd.SessionID,
		Target:     cmd.Target,
		Code:       cmd.Code,
		ReceivedAt: time.Now(),
	}
	switch cmd.Kind {
	case CmdPlaceCall:
		ev.Kind = EventCmdPlaceCall
	case CmdAccept:
		ev.Kind = EventCmdAccept
	case CmdReject:
		ev.Kind = EventCmdReject
	case CmdHangup:
		ev.Kind = EventCmdHangup
	case CmdHold:
		ev.Kind = EventCmdHold
	case CmdResume:
		ev.Kind = EventCmdResume
	default:
		ev.Kind = EventUnclassified
	}
	return ev
}

// ClassifyTimer классифицирует срабатывание таймера
func (Classifier) ClassifyTimer(id session.ID, kind TimerKind) Event {
	ev := Event{
		SessionID:  id,
		ReceivedAt: time.Now(),
	}
	switch kind {
	case TimerResponse:
		ev.Kind = EventTimerResponse
	case TimerAccept:
		ev.Kind = EventTimerAccept
	case TimerMedia:
		ev.Kind = EventTimerMedia
	case TimerTeardown:
		ev.Kind = EventTimerTeardown
	default:
		ev.Kind = EventUnclassified
	}
	return ev
}
