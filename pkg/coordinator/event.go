package coordinator

import (
	"time"

	"github.com/arzzra/call_session/pkg/session"
)

// EventKind тег классифицированного события из замкнутого словаря.
// Классификатор сводит все внешние уведомления к этому словарю;
// главная таблица переходов оперирует только им.
type EventKind string

const (
	// События протокольного слоя
	EventProtocolInvite   EventKind = "ProtocolInvite"   // входящая инициация сессии
	EventProtocolProgress EventKind = "ProtocolProgress" // предварительный ответ
	EventFinalSuccess     EventKind = "ProtocolFinalSuccess" // финальный ответ 2xx
	EventFinalFailure     EventKind = "ProtocolFinalFailure" // финальный ответ >= 300
	EventProtocolAck      EventKind = "ProtocolAck"
	EventProtocolBye      EventKind = "ProtocolBye"
	EventProtocolError    EventKind = "ProtocolError"

	// События медиа слоя
	EventMediaNegotiated EventKind = "MediaNegotiated"
	EventMediaReady      EventKind = "MediaReady"
	EventMediaFailed     EventKind = "MediaFailed"

	// Команды пользователя
	EventCmdPlaceCall EventKind = "CmdPlaceCall"
	EventCmdAccept    EventKind = "CmdAccept"
	EventCmdReject    EventKind = "CmdReject"
	EventCmdHangup    EventKind = "CmdHangup"
	EventCmdHold      EventKind = "CmdHold"
	EventCmdResume    EventKind = "CmdResume"

	// Таймеры. Каждый вид таймера - отдельный тег, чтобы таблица
	// оставалась чистым отображением (role, state, event) -> переход.
	EventTimerResponse EventKind = "TimerResponse"
	EventTimerAccept   EventKind = "TimerAccept"
	EventTimerMedia    EventKind = "TimerMedia"
	EventTimerTeardown EventKind = "TimerTeardown"

	// EventUnclassified - нераспознанное уведомление. Таблица явно ведет
	// его в no-op переход, событие никогда не отбрасывается до логирования.
	EventUnclassified EventKind = "Unclassified"
)

// isCreation возвращает true для событий, которым разрешено создавать
// новый контекст сессии
func (k EventKind) isCreation() bool {
	return k == EventCmdPlaceCall || k == EventProtocolInvite
}

// Event классифицированное событие, потребляемое таблицей переходов
type Event struct {
	Kind      EventKind
	SessionID session.ID

	// Code код финального ответа либо код отклонения
	Code int
	// Reason причина отказа (MediaFailed, ProtocolError)
	Reason string
	// Target адрес вызываемой стороны (place_call) либо источник
	// входящего вызова (invite)
	Target string
	// Params непрозрачные медиа параметры, если событие их несет
	Params *session.Params

	// ReceivedAt момент классификации; определяет порядок в рамках сессии
	ReceivedAt time.Time
}

// ProtocolEventKind вид уведомления протокольного слоя
type ProtocolEventKind string

const (
	ProtocolInvite        ProtocolEventKind = "invite"
	ProtocolProgress      ProtocolEventKind = "progress"
	ProtocolFinalResponse ProtocolEventKind = "final_response"
	ProtocolAck           ProtocolEventKind = "ack"
	ProtocolBye           ProtocolEventKind = "bye"
	ProtocolErrorEvent    ProtocolEventKind = "error"
)

// ProtocolNotification уведомление протокольного слоя
type ProtocolNotification struct {
	SessionID session.ID
	// RoleHint подсказка транспорта; роль при создании сессии выводится
	// из вида события, подсказка остается для диагностики
	RoleHint session.Role
	Kind     ProtocolEventKind
	Code     int
	Remote   string
	Params   *session.Params
}

// MediaEventKind вид уведомления медиа слоя
type MediaEventKind string

const (
	MediaNegotiated MediaEventKind = "negotiated"
	MediaReady      MediaEventKind = "ready"
	MediaFailed     MediaEventKind = "failed"
)

// MediaNotification уведомление медиа слоя
type MediaNotification struct {
	SessionID session.ID
	Kind      MediaEventKind
	Params    *session.Params
	Reason    string
}

// CommandKind вид команды пользователя/приложения
type CommandKind string

const (
	CmdPlaceCall CommandKind = "place_call"
	CmdAccept    CommandKind = "accept"
	CmdReject    CommandKind = "reject"
	CmdHangup    CommandKind = "hangup"
	CmdHold      CommandKind = "hold"
	CmdResume    CommandKind = "resume"
)

// Command команда пользователя/приложения
type Command struct {
	SessionID session.ID
	Kind      CommandKind
	Target    string
	Code      int
}
