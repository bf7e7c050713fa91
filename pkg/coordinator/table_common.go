package coordinator

import (
	"github.com/arzzra/call_session/pkg/session"
)

// addCommonRegion заполняет общую область Both: события медиа готовности,
// hold/resume и завершение, одинаковые для обеих ролей.
func (t *Table) addCommonRegion() {
	both := RoleBoth

	// Состояния, в которых вызов еще не завершается
	live := []session.State{session.StateInitiating, session.StateRinging, session.StateActive}

	for _, st := range live {
		// Итог согласования от медиа слоя. Порядок прихода относительно
		// протокольных событий не гарантирован, поэтому запись есть во
		// всех живых состояниях.
		t.add(both, st, EventMediaNegotiated, Transition{
			Conditions:            session.ConditionUpdates{NegotiationComplete: setTrue()},
			StoreNegotiatedParams: true,
		})

		// Готовность медиа сессии
		t.add(both, st, EventMediaReady, Transition{
			Actions:    []Action{{Kind: ActionCancelTimer, Timer: TimerMedia}},
			Conditions: session.ConditionUpdates{MediaReady: setTrue()},
		})

		// Входящее завершение валидно в любом нетерминальном состоянии
		// и всегда выигрывает. Протокольный слой отвечает на BYE сам.
		t.add(both, st, EventProtocolBye, Transition{
			Actions: []Action{
				{Kind: ActionCancelTimers},
				{Kind: ActionMediaStop},
			},
			NextState:       stateOf(session.StateTerminated),
			Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "remote_bye"}},
			Terminal:        true,
			TerminateReason: "remote_bye",
		})

		// Фатальная ошибка протокольного слоя
		t.add(both, st, EventProtocolError, Transition{
			Actions: []Action{
				{Kind: ActionCancelTimers},
				{Kind: ActionMediaStop},
			},
			NextState:       stateOf(session.StateTerminated),
			Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "protocol_error"}},
			Terminal:        true,
			TerminateReason: "protocol_error",
		})
	}

	// Отбой установленного вызова
	t.add(both, session.StateActive, EventCmdHangup, Transition{
		Actions: []Action{
			{Kind: ActionCancelTimers},
			{Kind: ActionProtocolBye},
			{Kind: ActionMediaStop},
			{Kind: ActionStartTimer, Timer: TimerTeardown},
		},
		NextState:       stateOf(session.StateTerminating),
		Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "hangup"}},
		Terminal:        true,
		TerminateReason: "hangup",
	})

	// Медиа отказала в установленном вызове
	t.add(both, session.StateActive, EventMediaFailed, Transition{
		Actions: []Action{
			{Kind: ActionCancelTimers},
			{Kind: ActionProtocolBye},
			{Kind: ActionMediaStop},
			{Kind: ActionStartTimer, Timer: TimerTeardown},
		},
		NextState:       stateOf(session.StateTerminating),
		Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "media_failed"}},
		Terminal:        true,
		TerminateReason: "media_failed",
	})

	// Диалог подтвержден, но медиа так и не готова
	t.add(both, session.StateActive, EventTimerMedia, Transition{
		Guard: GuardNotAllConditions,
		Actions: []Action{
			{Kind: ActionCancelTimers},
			{Kind: ActionProtocolBye},
			{Kind: ActionMediaStop},
			{Kind: ActionStartTimer, Timer: TimerTeardown},
		},
		NextState:       stateOf(session.StateTerminating),
		Publish:         []PublishTemplate{{Kind: PublishTerminated, Reason: "media_timeout"}},
		Terminal:        true,
		TerminateReason: "media_timeout",
	})

	// Hold: повторное согласование, медиа флаги сбрасываются до прихода
	// новых событий готовности. Фиксатор established не сбрасывается,
	// поэтому повторной публикации "established" не будет.
	t.add(both, session.StateActive, EventCmdHold, Transition{
		Guard:           GuardAllConditions,
		Actions:         []Action{{Kind: ActionMediaHold}},
		ResetMediaConds: true,
		Publish:         []PublishTemplate{{Kind: PublishUpdated, Reason: "hold"}},
	})

	// Resume валиден только из удержания: guard отвергает команду, пока
	// все условия выполнены (то есть вызов не на hold)
	t.add(both, session.StateActive, EventCmdResume, Transition{
		Guard:   GuardNotAllConditions,
		Actions: []Action{{Kind: ActionMediaResume}},
		Publish: []PublishTemplate{{Kind: PublishUpdated, Reason: "resume"}},
	})

	// Поздний предварительный ответ после установления
	t.add(both, session.StateActive, EventProtocolProgress, Transition{})

	// Завершение: ответ на наш BYE/CANCEL либо страховочный таймер
	for _, ev := range []EventKind{EventFinalSuccess, EventFinalFailure, EventProtocolBye, EventTimerTeardown} {
		t.add(both, session.StateTerminating, ev, Transition{
			Actions:   []Action{{Kind: ActionCancelTimers}},
			NextState: stateOf(session.StateTerminated),
			Terminal:  true,
		})
	}

	// Повторный отбой во время завершения поглощается
	t.add(both, session.StateTerminating, EventCmdHangup, Transition{})

	// Нераспознанные уведомления явно ведут в no-op: событие логируется
	// и попадает в диагностический след, но эффекта не имеет
	for _, st := range []session.State{
		session.StateInitiating, session.StateRinging,
		session.StateActive, session.StateTerminating,
	} {
		t.add(both, st, EventUnclassified, Transition{})
	}
}
