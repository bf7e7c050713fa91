package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/arzzra/call_session/pkg/session"
)

// Outcome исход обработки одного события
type Outcome string

const (
	// OutcomeApplied - переход применен
	OutcomeApplied Outcome = "applied"
	// OutcomeNoOp - найденный переход не имеет эффектов (явное
	// поглощение дубликата или ретрансляции)
	OutcomeNoOp Outcome = "noop"
	// OutcomeGuardRejected - guard отверг событие, эффекта нет
	OutcomeGuardRejected Outcome = "guard_rejected"
	// OutcomeRejected - событие отвергнуто с ошибкой координации
	OutcomeRejected Outcome = "rejected"
	// OutcomeAbsorbed - поздний дубликат для завершенной сессии
	OutcomeAbsorbed Outcome = "absorbed"
)

// Engine применяет главную таблицу переходов к событиям сессий.
//
// Обработка одного события атомарна с точки зрения наблюдателей:
// действия выполняются до фиксации, и только полный успех приводит к
// смене состояния, обновлению флагов и публикациям. Отказ действия на
// нетерминальном пути откатывает переход; на пути завершения отказы
// логируются и не препятствуют достижению Terminated.
type Engine struct {
	table    *Table
	store    *session.Store
	timers   *TimerManager
	pub      *Publisher
	trail    *Trail
	protocol ProtocolLayer
	media    MediaLayer
	metrics  *MetricsCollector
	logger   *slog.Logger
}

// NewEngine создает движок переходов. Таблица валидируется один раз
// при создании; дефектная таблица - ошибка конструирования, а не
// рантайма.
func NewEngine(
	table *Table,
	store *session.Store,
	timers *TimerManager,
	pub *Publisher,
	trail *Trail,
	protocol ProtocolLayer,
	media MediaLayer,
	metrics *MetricsCollector,
	logger *slog.Logger,
) (*Engine, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NoopMetricsCollector()
	}
	return &Engine{
		table:    table,
		store:    store,
		timers:   timers,
		pub:      pub,
		trail:    trail,
		protocol: protocol,
		media:    media,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Process обрабатывает одно классифицированное событие. Вызовы для
// одной сессии должны быть сериализованы вызывающей стороной;
// диспетчер координатора обеспечивает это воркером на сессию.
func (e *Engine) Process(ctx context.Context, ev Event) (Outcome, error) {
	outcome, err := e.process(ctx, ev)
	e.metrics.EventProcessed(ev.Kind, outcome)
	return outcome, err
}

func (e *Engine) process(ctx context.Context, ev Event) (Outcome, error) {
	snap, created, err := e.resolve(ev)
	if err != nil {
		var coordErr *CoordError
		if errors.As(err, &coordErr) {
			e.metrics.CoordinationError(coordErr.Kind)
			e.trail.Record(ev.SessionID, TrailRecord{
				Time:   ev.ReceivedAt,
				Event:  ev.Kind,
				Reason: string(coordErr.Kind),
			})
			e.publishError(ev.SessionID, snap, coordErr)
			if coordErr.Kind == ErrorKindDuplicateEvent {
				// Поздний дубликат в grace периоде - штатная ситуация
				e.logger.Debug("поздний дубликат поглощен",
					"session_id", ev.SessionID, "event", ev.Kind)
				return OutcomeAbsorbed, err
			}
			e.logger.Warn("событие отвергнуто",
				"session_id", ev.SessionID, "event", ev.Kind, "error", err)
		}
		return OutcomeRejected, err
	}

	tr, ok := e.table.Lookup(snap.Role, snap.State, ev.Kind)
	if !ok {
		cerr := ErrInvalidEventForState(snap.ID, snap.Role, snap.State, ev.Kind)
		e.metrics.CoordinationError(cerr.Kind)
		e.trail.Record(snap.ID, TrailRecord{
			Time:   ev.ReceivedAt,
			Event:  ev.Kind,
			From:   snap.State,
			To:     snap.State,
			Reason: string(cerr.Kind),
		})
		e.publishError(snap.ID, snap, cerr)
		e.logger.Warn("нет перехода для события",
			"session_id", snap.ID, "role", snap.Role,
			"state", snap.State, "event", ev.Kind)
		return OutcomeRejected, cerr
	}

	if !tr.Guard.Evaluate(snap.Conditions) {
		e.trail.Record(snap.ID, TrailRecord{
			Time:   ev.ReceivedAt,
			Event:  ev.Kind,
			From:   snap.State,
			To:     snap.State,
			Reason: "guard:" + tr.Guard.String(),
		})
		e.logger.Debug("guard отверг событие",
			"session_id", snap.ID, "state", snap.State,
			"event", ev.Kind, "guard", tr.Guard.String())
		return OutcomeGuardRejected, nil
	}

	local, rollbackTimers, err := e.runActions(ctx, snap, tr, ev)
	if err != nil {
		// Откат: взведенные таймеры снимаются, отмененные возвращаются,
		// контекст созданный этим же событием удаляется. Состояние
		// сессии не менялось - фиксации еще не было.
		rollbackTimers()
		if created {
			e.store.Remove(snap.ID)
			e.metrics.SessionTerminated(snap.ID)
		}
		cerr, _ := err.(*CoordError)
		if cerr == nil {
			cerr = ErrActionFailed(snap.ID, "", err)
		}
		cerr.State = snap.State
		cerr.Event = ev.Kind
		e.metrics.CoordinationError(cerr.Kind)
		e.trail.Record(snap.ID, TrailRecord{
			Time:   ev.ReceivedAt,
			Event:  ev.Kind,
			From:   snap.State,
			To:     snap.State,
			Reason: string(cerr.Kind),
		})
		e.publishError(snap.ID, snap, cerr)
		e.logger.Error("действие перехода отказало, переход откачен",
			"session_id", snap.ID, "state", snap.State,
			"event", ev.Kind, "error", err)
		return OutcomeRejected, cerr
	}

	commit := session.Commit{
		NextState:       tr.NextState,
		Conditions:      tr.Conditions,
		ResetMediaConds: tr.ResetMediaConds,
		TerminateReason: tr.TerminateReason,
		LocalParams:     local,
	}
	if tr.StoreRemoteParams {
		commit.RemoteParams = ev.Params
	}
	if tr.StoreNegotiatedParams {
		commit.NegotiatedParams = ev.Params
	}
	if created && ev.Target != "" {
		commit.RemoteTarget = ev.Target
	}

	after, err := e.store.Mutate(snap.ID, commit)
	if err != nil {
		rollbackTimers()
		e.logger.Error("фиксация перехода отвергнута",
			"session_id", snap.ID, "state", snap.State,
			"event", ev.Kind, "error", err)
		return OutcomeRejected, err
	}

	accepted := TrailRecord{
		Time:     ev.ReceivedAt,
		Event:    ev.Kind,
		From:     snap.State,
		To:       after.State,
		Accepted: true,
	}
	e.trail.Record(snap.ID, accepted)
	if after.State != snap.State {
		e.metrics.TransitionApplied(snap.State, after.State)
		e.logger.Info("переход применен",
			"session_id", snap.ID, "role", snap.Role,
			"event", ev.Kind, "from", snap.State, "to", after.State)
	}

	e.publishTemplates(tr, after)

	if after.State.IsTerminal() {
		e.finalize(after)
	} else {
		// Каскад установления ограничен одним шагом: составная
		// проверка выполняется после каждой фиксации, самих событий
		// она не порождает
		e.maybeEstablish(after)
	}

	if e.isNoOp(tr) {
		return OutcomeNoOp, nil
	}
	return OutcomeApplied, nil
}

// resolve находит или создает контекст сессии для события
func (e *Engine) resolve(ev Event) (session.Snapshot, bool, error) {
	snap, err := e.store.Get(ev.SessionID)
	if err == nil {
		if snap.State.IsTerminal() {
			return snap, false, ErrDuplicateEvent(ev.SessionID, ev.Kind)
		}
		return snap, false, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return session.Snapshot{}, false, err
	}
	if !ev.Kind.isCreation() {
		return session.Snapshot{}, false, ErrUnknownSession(ev.SessionID, ev.Kind)
	}
	role := session.RoleCaller
	if ev.Kind == EventProtocolInvite {
		role = session.RoleCallee
	}
	// Контекст создается только если таблица знает переход создания
	if _, ok := e.table.Lookup(role, session.StateIdle, ev.Kind); !ok {
		return session.Snapshot{}, false, ErrInvalidEventForState(ev.SessionID, role, session.StateIdle, ev.Kind)
	}
	snap, err = e.store.Create(ev.SessionID, role)
	if err != nil {
		return session.Snapshot{}, false, ErrUnknownSession(ev.SessionID, ev.Kind).WithCause(err)
	}
	e.metrics.SessionCreated(snap.ID, role)
	return snap, true, nil
}

// runActions выполняет действия перехода по порядку. Возвращает
// локальные параметры, выделенные медиа слоем, и функцию отката
// изменений таймеров.
func (e *Engine) runActions(
	ctx context.Context,
	snap session.Snapshot,
	tr Transition,
	ev Event,
) (*session.Params, func(), error) {
	var local *session.Params
	var started []TimerKind
	var cancelled []TimerKind

	rollback := func() {
		for _, kind := range started {
			e.timers.Cancel(snap.ID, kind)
		}
		// Отмененные таймеры перевзводятся с полной длительностью;
		// потерянное время страхует то, что таймаут в итоге наступит
		for _, kind := range cancelled {
			e.timers.Schedule(snap.ID, kind)
		}
	}

	for _, a := range tr.Actions {
		var err error
		switch a.Kind {
		case ActionMediaAllocate:
			local, err = e.media.Allocate(ctx, snap.ID, ev.Params)
		case ActionMediaStart:
			params := ev.Params
			if params == nil {
				params = snap.RemoteParams
			}
			err = e.media.Start(ctx, snap.ID, params)
		case ActionMediaStop:
			err = e.media.Stop(ctx, snap.ID)
		case ActionMediaHold, ActionMediaResume:
			err = e.media.Update(ctx, snap.ID, ev.Params)
		case ActionProtocolInvite:
			err = e.protocol.SendInvite(ctx, snap.ID, ev.Target, local)
		case ActionProtocolProgress:
			err = e.protocol.SendProgress(ctx, snap.ID)
		case ActionProtocolFinal:
			code := a.Code
			if code == 0 {
				code = ev.Code
			}
			if code == 0 {
				code = codeDeclined
			}
			params := local
			if params == nil {
				params = snap.LocalParams
			}
			err = e.protocol.SendFinalResponse(ctx, snap.ID, code, params)
		case ActionProtocolAck:
			err = e.protocol.SendAck(ctx, snap.ID)
		case ActionProtocolBye:
			err = e.protocol.SendBye(ctx, snap.ID)
		case ActionProtocolCancel:
			err = e.protocol.SendCancel(ctx, snap.ID)
		case ActionStartTimer:
			e.timers.Schedule(snap.ID, a.Timer)
			started = append(started, a.Timer)
		case ActionCancelTimer:
			e.timers.Cancel(snap.ID, a.Timer)
			cancelled = append(cancelled, a.Timer)
		case ActionCancelTimers:
			e.timers.CancelAll(snap.ID)
		}
		if err != nil {
			if tr.Terminal {
				// Завершение должно достигаться даже при отказах
				// коллабораторов
				e.logger.Warn("отказ действия на пути завершения",
					"session_id", snap.ID, "action", a.Kind, "error", err)
				continue
			}
			return nil, rollback, ErrActionFailed(snap.ID, string(a.Kind), err)
		}
	}
	return local, rollback, nil
}

// publishTemplates публикует события жизненного цикла перехода
func (e *Engine) publishTemplates(tr Transition, after session.Snapshot) {
	for _, p := range tr.Publish {
		ev := LifecycleEvent{
			SessionID: after.ID,
			Role:      after.Role,
			State:     after.State,
			Reason:    p.Reason,
		}
		switch p.Kind {
		case PublishCreated:
			ev.Kind = SessionCreated
		case PublishUpdated:
			ev.Kind = SessionUpdated
		case PublishTerminated:
			ev.Kind = SessionTerminated
			if ev.Reason == "" {
				ev.Reason = after.TerminateReason
			}
		default:
			continue
		}
		e.pub.Publish(ev)
	}
}

// publishError доставляет ошибку координации подписчикам; вид ошибки
// идет в Reason. Снимок может быть пустым, если сессия не найдена.
func (e *Engine) publishError(id session.ID, snap session.Snapshot, cerr *CoordError) {
	e.pub.Publish(LifecycleEvent{
		Kind:      CoordinationError,
		SessionID: id,
		Role:      snap.Role,
		State:     snap.State,
		Reason:    string(cerr.Kind),
	})
}

// maybeEstablish выполняет составную проверку готовности и публикует
// SessionEstablished ровно один раз за жизнь сессии
func (e *Engine) maybeEstablish(after session.Snapshot) {
	if after.State != session.StateActive {
		return
	}
	if after.EstablishedFired || !after.Conditions.AllMet() {
		return
	}
	latched, err := e.store.Mutate(after.ID, session.Commit{EstablishedFired: true})
	if err != nil {
		// Гонка с завершением: сессия успела завершиться, установление
		// уже не публикуется
		return
	}
	e.metrics.Established()
	e.logger.Info("сессия установлена", "session_id", after.ID, "role", after.Role)
	e.pub.Publish(LifecycleEvent{
		Kind:      SessionEstablished,
		SessionID: latched.ID,
		Role:      latched.Role,
		State:     latched.State,
		Params:    latched.NegotiatedParams,
	})
}

// finalize снимает ресурсы завершенной сессии: таймеры и журнал
// метрик; контекст остается в хранилище на grace период для поглощения
// поздних дубликатов
func (e *Engine) finalize(after session.Snapshot) {
	e.timers.CancelAll(after.ID)
	e.metrics.SessionTerminated(after.ID)
}

// isNoOp возвращает true для перехода без наблюдаемых эффектов
func (e *Engine) isNoOp(tr Transition) bool {
	return len(tr.Actions) == 0 &&
		tr.NextState == nil &&
		tr.Conditions.IsEmpty() &&
		!tr.ResetMediaConds &&
		len(tr.Publish) == 0
}
