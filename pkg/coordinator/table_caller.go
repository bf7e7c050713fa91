package coordinator

import (
	"github.com/arzzra/call_session/pkg/session"
)

// addCallerRegion заполняет область таблицы для роли Caller (UAC).
//
// Асимметрия ролей явная: Caller считает диалог подтвержденным после
// отправки ACK на финальный 2xx, поэтому флаг dialog_established
// взводится событием завершения отправки ACK, а не получением ответа.
func (t *Table) addCallerRegion() {
	caller := session.RoleCaller

	// Создание контекста: команда place_call
	t.add(caller, session.StateIdle, EventCmdPlaceCall, Transition{
		CreateRole: caller,
		Actions: []Action{
			{Kind: ActionMediaAllocate},
			{Kind: ActionProtocolInvite},
			{Kind: ActionStartTimer, Timer: TimerResponse},
		},
		NextState: stateOf(session.StateInitiating),
		Publish:   []PublishTemplate{{Kind: PublishCreated}},
	})

	// Предварительный ответ
	t.add(caller, session.StateInitiating, EventProtocolProgress, Transition{
		NextState: stateOf(session.StateRinging),
		Publish:   []PublishTemplate{{Kind: PublishUpdated, Reason: "ringing"}},
	})

	// Финальный 2xx: подтверждаем ACK и запускаем медиа с параметрами
	// ответа. Флаг dialog_established взводит отдельное событие
	// завершения отправки ACK.
	for _, st := range []session.State{session.StateInitiating, session.StateRinging} {
		t.add(caller, st, EventFinalSuccess, Transition{
			Actions: []Action{
				{Kind: ActionCancelTimer, Timer: TimerResponse},
				{Kind: ActionProtocolAck},
				{Kind: ActionMediaStart},
				{Kind: ActionStartTimer, Timer: TimerMedia},
			},
			NextState:         stateOf(session.StateActive),
			StoreRemoteParams: true,
		})

		// Отказ вызываемой стороны
		t.add(caller, st, EventFinalFailure, Transition{
			Actions: []Action{
				{Kind: ActionCancelTimers},
				{Kind: ActionMediaStop},
			},
			NextState:       stateOf(session.StateTerminated),
			Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "rejected"}},
			Terminal:        true,
			TerminateReason: "rejected",
		})

		// Нет финального ответа за отведенное время
		t.add(caller, st, EventTimerResponse, Transition{
			Actions: []Action{
				{Kind: ActionCancelTimers},
				{Kind: ActionProtocolCancel},
				{Kind: ActionMediaStop},
			},
			NextState:       stateOf(session.StateTerminated),
			Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "timeout"}},
			Terminal:        true,
			TerminateReason: "timeout",
		})

		// Медиа отказала до установления - вызов не состоится
		t.add(caller, st, EventMediaFailed, Transition{
			Actions: []Action{
				{Kind: ActionCancelTimers},
				{Kind: ActionProtocolCancel},
				{Kind: ActionMediaStop},
			},
			NextState:       stateOf(session.StateTerminated),
			Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "media_failed"}},
			Terminal:        true,
			TerminateReason: "media_failed",
		})

		// Отбой до ответа: отменяем исходящий запрос. Страховочный
		// таймер гарантирует Terminated, даже если ответ на CANCEL
		// потерян - сборщик хранилища убирает только Terminated.
		t.add(caller, st, EventCmdHangup, Transition{
			Actions: []Action{
				{Kind: ActionCancelTimers},
				{Kind: ActionProtocolCancel},
				{Kind: ActionMediaStop},
				{Kind: ActionStartTimer, Timer: TimerTeardown},
			},
			NextState:       stateOf(session.StateTerminating),
			Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "cancelled"}},
			Terminal:        true,
			TerminateReason: "cancelled",
		})
	}

	// Завершение отправки ACK подтверждает диалог. Дубликаты поглощает
	// guard: повторное подтверждение эффекта не имеет.
	t.add(caller, session.StateActive, EventProtocolAck, Transition{
		Guard:      GuardNotDialogEstablished,
		Conditions: session.ConditionUpdates{DialogEstablished: setTrue()},
	})

	// Ретрансляция 2xx (наш ACK потерялся) - повторяем ACK, состояние
	// и флаги не трогаем
	t.add(caller, session.StateActive, EventFinalSuccess, Transition{
		Actions: []Action{{Kind: ActionProtocolAck}},
	})

	// Ретрансляция предварительного ответа после перехода в Ringing
	t.add(caller, session.StateRinging, EventProtocolProgress, Transition{})
}
