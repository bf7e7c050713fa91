package coordinator

import (
	"github.com/arzzra/call_session/pkg/session"
)

// Коды финальных ответов, используемые областью Callee
const (
	codeDeclined         = 486 // отбой до принятия
	codeTimeout          = 480 // вызываемая сторона не ответила
	codeMediaNotAccepted = 488 // медиа согласование провалилось
)

// addCalleeRegion заполняет область таблицы для роли Callee (UAS).
//
// Callee подтверждает диалог и запускает медиа только после получения
// ACK от вызывающей стороны - раньше поток все равно некуда отправлять.
func (t *Table) addCalleeRegion() {
	callee := session.RoleCallee

	// Создание контекста: входящая инициация сессии. Параметры
	// вызывающей стороны сохраняются, локальный answer генерируется
	// медиа слоем при выделении сессии.
	t.add(callee, session.StateIdle, EventProtocolInvite, Transition{
		CreateRole: callee,
		Actions: []Action{
			{Kind: ActionMediaAllocate},
			{Kind: ActionProtocolProgress},
			{Kind: ActionStartTimer, Timer: TimerAccept},
		},
		NextState:         stateOf(session.StateRinging),
		Publish:           []PublishTemplate{{Kind: PublishCreated}},
		StoreRemoteParams: true,
	})

	// Ретрансляция входящей инициации поглощается явным no-op
	t.add(callee, session.StateRinging, EventProtocolInvite, Transition{})

	// Принятие вызова приложением
	t.add(callee, session.StateRinging, EventCmdAccept, Transition{
		Actions: []Action{
			{Kind: ActionCancelTimer, Timer: TimerAccept},
			{Kind: ActionProtocolFinal, Code: 200},
			{Kind: ActionStartTimer, Timer: TimerMedia},
		},
		NextState: stateOf(session.StateActive),
	})

	// Отклонение вызова приложением; код берется из команды
	t.add(callee, session.StateRinging, EventCmdReject, Transition{
		Actions: []Action{
			{Kind: ActionCancelTimers},
			{Kind: ActionProtocolFinal},
			{Kind: ActionMediaStop},
		},
		NextState:       stateOf(session.StateTerminated),
		Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "rejected"}},
		Terminal:        true,
		TerminateReason: "rejected",
	})

	// Отбой до принятия эквивалентен отклонению
	t.add(callee, session.StateRinging, EventCmdHangup, Transition{
		Actions: []Action{
			{Kind: ActionCancelTimers},
			{Kind: ActionProtocolFinal, Code: codeDeclined},
			{Kind: ActionMediaStop},
		},
		NextState:       stateOf(session.StateTerminated),
		Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "cancelled"}},
		Terminal:        true,
		TerminateReason: "cancelled",
	})

	// Приложение не приняло вызов за отведенное время
	t.add(callee, session.StateRinging, EventTimerAccept, Transition{
		Actions: []Action{
			{Kind: ActionCancelTimers},
			{Kind: ActionProtocolFinal, Code: codeTimeout},
			{Kind: ActionMediaStop},
		},
		NextState:       stateOf(session.StateTerminated),
		Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "timeout"}},
		Terminal:        true,
		TerminateReason: "timeout",
	})

	// Медиа отказала до принятия
	t.add(callee, session.StateRinging, EventMediaFailed, Transition{
		Actions: []Action{
			{Kind: ActionCancelTimers},
			{Kind: ActionProtocolFinal, Code: codeMediaNotAccepted},
			{Kind: ActionMediaStop},
		},
		NextState:       stateOf(session.StateTerminated),
		Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "media_failed"}},
		Terminal:        true,
		TerminateReason: "media_failed",
	})

	// ACK вызывающей стороны подтверждает диалог и запускает медиа.
	// Дубликаты ACK поглощает guard.
	t.add(callee, session.StateActive, EventProtocolAck, Transition{
		Guard: GuardNotDialogEstablished,
		Actions: []Action{
			{Kind: ActionMediaStart},
		},
		Conditions: session.ConditionUpdates{DialogEstablished: setTrue()},
	})
}
