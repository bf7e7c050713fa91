package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_session/pkg/coordinator/mockcollab"
	"github.com/arzzra/call_session/pkg/session"
)

// fixture собирает движок с управляемыми коллабораторами для
// синхронного прогона сценариев
type fixture struct {
	engine   *Engine
	store    *session.Store
	timers   *TimerManager
	protocol *mockcollab.Protocol
	media    *mockcollab.Media
	events   <-chan LifecycleEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := session.NewStore(session.WithGracePeriod(time.Minute))
	t.Cleanup(store.Close)

	timers := NewTimerManager(nil, func(session.ID, TimerKind) {})
	t.Cleanup(timers.Close)

	pub := NewPublisher(64, logger)
	t.Cleanup(pub.Close)

	protocol := mockcollab.NewProtocol()
	media := mockcollab.NewMedia()

	engine, err := NewEngine(
		NewMasterTable(), store, timers, pub, NewTrail(0),
		protocol, media, NoopMetricsCollector(), logger,
	)
	require.NoError(t, err)

	events, cancel := pub.Subscribe()
	t.Cleanup(cancel)

	return &fixture{
		engine:   engine,
		store:    store,
		timers:   timers,
		protocol: protocol,
		media:    media,
		events:   events,
	}
}

func (f *fixture) process(t *testing.T, ev Event) Outcome {
	t.Helper()
	ev.ReceivedAt = time.Now()
	outcome, err := f.engine.Process(context.Background(), ev)
	require.NoError(t, err)
	return outcome
}

// drain собирает уже опубликованные события; Publish синхронен,
// поэтому после Process все публикации лежат в канале
func (f *fixture) drain() []LifecycleEvent {
	var out []LifecycleEvent
	for {
		select {
		case ev := <-f.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (f *fixture) kinds() []LifecycleKind {
	var out []LifecycleKind
	for _, ev := range f.drain() {
		out = append(out, ev.Kind)
	}
	return out
}

// placeCall проводит исходящий вызов до Active
func (f *fixture) placeCall(t *testing.T) session.ID {
	t.Helper()
	id := session.NewID()
	f.process(t, Event{Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:bob@example.com"})
	f.process(t, Event{Kind: EventProtocolProgress, SessionID: id})
	f.process(t, Event{
		Kind: EventFinalSuccess, SessionID: id, Code: 200,
		Params: &session.Params{ContentType: "application/sdp", Data: []byte("answer")},
	})
	return id
}

// establish доводит активный вызов до установления
func (f *fixture) establish(t *testing.T, id session.ID) {
	t.Helper()
	f.process(t, Event{Kind: EventProtocolAck, SessionID: id})
	f.process(t, Event{
		Kind: EventMediaNegotiated, SessionID: id,
		Params: &session.Params{ContentType: "application/sdp", Data: []byte("negotiated")},
	})
	f.process(t, Event{Kind: EventMediaReady, SessionID: id})
}

// TestCallerHappyPath проверяет полный исходящий сценарий: команда
// вызова, прогресс, финальный 2xx, подтверждение и готовность медиа
func TestCallerHappyPath(t *testing.T) {
	f := newFixture(t)

	id := session.NewID()
	outcome := f.process(t, Event{
		Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:bob@example.com",
	})
	assert.Equal(t, OutcomeApplied, outcome)

	snap, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.RoleCaller, snap.Role)
	assert.Equal(t, session.StateInitiating, snap.State)
	require.NotNil(t, snap.LocalParams, "offer from media layer stored as local params")
	assert.Equal(t, "sip:bob@example.com", snap.RemoteTarget)

	invites := f.protocol.CallsTo("SendInvite")
	require.Len(t, invites, 1)
	assert.Equal(t, snap.LocalParams.Data, invites[0].Params.Data,
		"invite carries allocated offer")
	assert.Equal(t, 1, f.timers.Active(), "response timer armed")

	f.process(t, Event{Kind: EventProtocolProgress, SessionID: id})
	snap, _ = f.store.Get(id)
	assert.Equal(t, session.StateRinging, snap.State)

	remote := &session.Params{ContentType: "application/sdp", Data: []byte("answer")}
	f.process(t, Event{Kind: EventFinalSuccess, SessionID: id, Code: 200, Params: remote})
	snap, _ = f.store.Get(id)
	assert.Equal(t, session.StateActive, snap.State)
	assert.Equal(t, remote.Data, snap.RemoteParams.Data)
	assert.Len(t, f.protocol.CallsTo("SendAck"), 1)
	assert.Len(t, f.media.CallsTo("Start"), 1)

	f.establish(t, id)
	snap, _ = f.store.Get(id)
	assert.True(t, snap.Conditions.AllMet())
	assert.True(t, snap.EstablishedFired)

	events := f.drain()
	require.Len(t, events, 3)
	assert.Equal(t, SessionCreated, events[0].Kind)
	assert.Equal(t, SessionUpdated, events[1].Kind)
	assert.Equal(t, SessionEstablished, events[2].Kind)
	require.NotNil(t, events[2].Params, "established event carries negotiated params")
	assert.Equal(t, []byte("negotiated"), events[2].Params.Data)
}

// TestCalleeHappyPath проверяет входящий сценарий: инициация, принятие,
// ACK вызывающей стороны, готовность медиа
func TestCalleeHappyPath(t *testing.T) {
	f := newFixture(t)

	id := session.NewID()
	offer := &session.Params{ContentType: "application/sdp", Data: []byte("offer")}
	outcome := f.process(t, Event{
		Kind: EventProtocolInvite, SessionID: id,
		Target: "sip:alice@example.com", Params: offer,
	})
	assert.Equal(t, OutcomeApplied, outcome)

	snap, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.RoleCallee, snap.Role)
	assert.Equal(t, session.StateRinging, snap.State)
	assert.Equal(t, offer.Data, snap.RemoteParams.Data, "caller params stored on invite")
	require.NotNil(t, snap.LocalParams, "answer allocated by media layer")
	assert.Len(t, f.protocol.CallsTo("SendProgress"), 1)

	f.process(t, Event{Kind: EventCmdAccept, SessionID: id})
	snap, _ = f.store.Get(id)
	assert.Equal(t, session.StateActive, snap.State)
	finals := f.protocol.CallsTo("SendFinalResponse")
	require.Len(t, finals, 1)
	assert.Equal(t, 200, finals[0].Code)
	assert.Empty(t, f.media.CallsTo("Start"), "callee starts media only after ACK")

	f.process(t, Event{Kind: EventProtocolAck, SessionID: id})
	assert.Len(t, f.media.CallsTo("Start"), 1)
	snap, _ = f.store.Get(id)
	assert.True(t, snap.Conditions.DialogEstablished)

	f.process(t, Event{Kind: EventMediaNegotiated, SessionID: id})
	f.process(t, Event{Kind: EventMediaReady, SessionID: id})
	snap, _ = f.store.Get(id)
	assert.True(t, snap.EstablishedFired)

	kinds := f.kinds()
	assert.Equal(t, []LifecycleKind{SessionCreated, SessionEstablished}, kinds)
}

// TestEstablishedExactlyOnce проверяет единственность публикации
// установления при любом порядке прихода трех условий готовности
func TestEstablishedExactlyOnce(t *testing.T) {
	readiness := []Event{
		{Kind: EventProtocolAck},
		{Kind: EventMediaNegotiated},
		{Kind: EventMediaReady},
	}
	perms := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, perm := range perms {
		f := newFixture(t)
		id := f.placeCall(t)
		for _, i := range perm {
			ev := readiness[i]
			ev.SessionID = id
			f.process(t, ev)
		}

		var established int
		for _, ev := range f.drain() {
			if ev.Kind == SessionEstablished {
				established++
			}
		}
		assert.Equal(t, 1, established,
			"permutation %v must establish exactly once", perm)
	}
}

// TestDuplicateAckAbsorbed проверяет поглощение дубликатов
// подтверждения: guard отвергает повтор без эффекта
func TestDuplicateAckAbsorbed(t *testing.T) {
	f := newFixture(t)
	id := f.placeCall(t)
	f.establish(t, id)
	f.drain()

	outcome := f.process(t, Event{Kind: EventProtocolAck, SessionID: id})
	assert.Equal(t, OutcomeGuardRejected, outcome)
	assert.Empty(t, f.drain(), "duplicate ack publishes nothing")
}

// TestRetransmittedFinalReAcked проверяет повтор 2xx в Active:
// ACK отправляется снова, состояние и флаги не меняются
func TestRetransmittedFinalReAcked(t *testing.T) {
	f := newFixture(t)
	id := f.placeCall(t)
	f.establish(t, id)
	acks := len(f.protocol.CallsTo("SendAck"))

	f.process(t, Event{Kind: EventFinalSuccess, SessionID: id, Code: 200})
	assert.Len(t, f.protocol.CallsTo("SendAck"), acks+1)
	snap, _ := f.store.Get(id)
	assert.Equal(t, session.StateActive, snap.State)
	assert.True(t, snap.EstablishedFired)
}

// TestCalleeReject проверяет отклонение входящего вызова с кодом
// из команды
func TestCalleeReject(t *testing.T) {
	f := newFixture(t)
	id := session.NewID()
	f.process(t, Event{Kind: EventProtocolInvite, SessionID: id, Params: &session.Params{}})
	f.process(t, Event{Kind: EventCmdReject, SessionID: id, Code: 603})

	snap, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.StateTerminated, snap.State)
	assert.Equal(t, "rejected", snap.TerminateReason)

	finals := f.protocol.CallsTo("SendFinalResponse")
	require.Len(t, finals, 1)
	assert.Equal(t, 603, finals[0].Code)

	events := f.drain()
	require.Len(t, events, 2)
	assert.Equal(t, SessionTerminated, events[1].Kind)
	assert.Equal(t, "rejected", events[1].Reason)
}

// TestCallerRejectedByFinalFailure проверяет отказ вызываемой стороны
func TestCallerRejectedByFinalFailure(t *testing.T) {
	f := newFixture(t)
	id := session.NewID()
	f.process(t, Event{Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:bob@example.com"})
	f.process(t, Event{Kind: EventFinalFailure, SessionID: id, Code: 486})

	snap, _ := f.store.Get(id)
	assert.Equal(t, session.StateTerminated, snap.State)
	assert.Equal(t, "rejected", snap.TerminateReason)
	assert.Zero(t, f.timers.Active(), "all timers cancelled on termination")
}

// TestUnknownSessionRejected проверяет отказ для события без контекста
func TestUnknownSessionRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Process(context.Background(), Event{
		Kind: EventProtocolProgress, SessionID: session.NewID(), ReceivedAt: time.Now(),
	})
	var cerr *CoordError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrorKindUnknownSession, cerr.Kind)

	events := f.drain()
	require.Len(t, events, 1, "rejection delivered to subscribers")
	assert.Equal(t, CoordinationError, events[0].Kind)
	assert.Equal(t, string(ErrorKindUnknownSession), events[0].Reason)
}

// TestInvalidEventForState проверяет отказ события, для которого нет
// записи таблицы в текущем состоянии
func TestInvalidEventForState(t *testing.T) {
	f := newFixture(t)
	id := session.NewID()
	f.process(t, Event{Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:bob@example.com"})

	// Accept - команда роли Callee, у Caller для нее перехода нет
	_, err := f.engine.Process(context.Background(), Event{
		Kind: EventCmdAccept, SessionID: id, ReceivedAt: time.Now(),
	})
	var cerr *CoordError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrorKindInvalidEventForState, cerr.Kind)

	snap, _ := f.store.Get(id)
	assert.Equal(t, session.StateInitiating, snap.State, "rejected event has no effect")

	events := f.drain()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, CoordinationError, last.Kind)
	assert.Equal(t, string(ErrorKindInvalidEventForState), last.Reason)
}

// TestLateDuplicateAbsorbed проверяет поглощение событий для
// завершенной сессии в grace периоде
func TestLateDuplicateAbsorbed(t *testing.T) {
	f := newFixture(t)
	id := session.NewID()
	f.process(t, Event{Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:bob@example.com"})
	f.process(t, Event{Kind: EventFinalFailure, SessionID: id, Code: 486})
	f.drain()

	outcome, err := f.engine.Process(context.Background(), Event{
		Kind: EventProtocolBye, SessionID: id, ReceivedAt: time.Now(),
	})
	assert.Equal(t, OutcomeAbsorbed, outcome)
	var cerr *CoordError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrorKindDuplicateEvent, cerr.Kind)

	events := f.drain()
	require.Len(t, events, 1, "absorption visible to subscribers, nothing else")
	assert.Equal(t, CoordinationError, events[0].Kind)
	assert.Equal(t, string(ErrorKindDuplicateEvent), events[0].Reason)
}

// TestActionFailureRollsBack проверяет откат перехода при отказе
// действия: состояние не меняется, созданный контекст удаляется,
// повтор после устранения отказа проходит
func TestActionFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.media.FailOn("Allocate", errors.New("no ports"))

	id := session.NewID()
	_, err := f.engine.Process(context.Background(), Event{
		Kind: EventCmdPlaceCall, SessionID: id,
		Target: "sip:bob@example.com", ReceivedAt: time.Now(),
	})
	var cerr *CoordError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrorKindActionFailed, cerr.Kind)
	assert.True(t, cerr.Retryable)

	_, err = f.store.Get(id)
	assert.ErrorIs(t, err, session.ErrNotFound, "context created by failed event removed")
	assert.Zero(t, f.timers.Active())

	events := f.drain()
	require.Len(t, events, 1, "subscribers learn about the rollback")
	assert.Equal(t, CoordinationError, events[0].Kind)
	assert.Equal(t, string(ErrorKindActionFailed), events[0].Reason)
	assert.Equal(t, id, events[0].SessionID)

	// После устранения причины та же команда проходит
	f.media.FailOn("Allocate", nil)
	outcome := f.process(t, Event{
		Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:bob@example.com",
	})
	assert.Equal(t, OutcomeApplied, outcome)
}

// TestActionFailureMidTransition проверяет откат на середине списка
// действий: отмененный таймер перевзводится, состояние остается прежним
func TestActionFailureMidTransition(t *testing.T) {
	f := newFixture(t)
	id := session.NewID()
	f.process(t, Event{Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:bob@example.com"})
	require.Equal(t, 1, f.timers.Active())

	f.protocol.FailOn("SendAck", errors.New("transport down"))
	_, err := f.engine.Process(context.Background(), Event{
		Kind: EventFinalSuccess, SessionID: id, Code: 200, ReceivedAt: time.Now(),
	})
	require.Error(t, err)

	snap, getErr := f.store.Get(id)
	require.NoError(t, getErr)
	assert.Equal(t, session.StateInitiating, snap.State, "state unchanged after rollback")
	assert.Equal(t, 1, f.timers.Active(), "cancelled response timer re-armed")
}

// TestTerminalPathSurvivesActionFailure проверяет, что отказы действий
// на пути завершения не мешают достижению Terminated
func TestTerminalPathSurvivesActionFailure(t *testing.T) {
	f := newFixture(t)
	id := f.placeCall(t)
	f.establish(t, id)

	f.protocol.FailOn("SendBye", errors.New("transport down"))
	f.media.FailOn("Stop", errors.New("already gone"))

	outcome := f.process(t, Event{Kind: EventCmdHangup, SessionID: id})
	assert.Equal(t, OutcomeApplied, outcome)
	snap, _ := f.store.Get(id)
	assert.Equal(t, session.StateTerminating, snap.State)
	assert.Equal(t, "hangup", snap.TerminateReason)
}

// TestHangupDominance проверяет, что отбой валиден в каждом
// нетерминальном состоянии и всегда ведет к завершению
func TestHangupDominance(t *testing.T) {
	t.Run("Initiating", func(t *testing.T) {
		f := newFixture(t)
		id := session.NewID()
		f.process(t, Event{Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:b@x"})
		f.process(t, Event{Kind: EventCmdHangup, SessionID: id})
		snap, _ := f.store.Get(id)
		assert.Equal(t, session.StateTerminating, snap.State)
		assert.Len(t, f.protocol.CallsTo("SendCancel"), 1, "unconfirmed call cancelled")
		assert.Equal(t, 1, f.timers.Active(),
			"teardown timer armed in case the cancel response is lost")

		// Ответ на CANCEL потерян - страховочный таймер добивает сессию
		f.process(t, Event{Kind: EventTimerTeardown, SessionID: id})
		snap, _ = f.store.Get(id)
		assert.Equal(t, session.StateTerminated, snap.State)
		assert.Zero(t, f.timers.Active())
	})

	t.Run("Ringing caller", func(t *testing.T) {
		f := newFixture(t)
		id := session.NewID()
		f.process(t, Event{Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:b@x"})
		f.process(t, Event{Kind: EventProtocolProgress, SessionID: id})
		f.process(t, Event{Kind: EventCmdHangup, SessionID: id})
		snap, _ := f.store.Get(id)
		assert.Equal(t, session.StateTerminating, snap.State)
	})

	t.Run("Ringing callee", func(t *testing.T) {
		f := newFixture(t)
		id := session.NewID()
		f.process(t, Event{Kind: EventProtocolInvite, SessionID: id, Params: &session.Params{}})
		f.process(t, Event{Kind: EventCmdHangup, SessionID: id})
		snap, _ := f.store.Get(id)
		assert.Equal(t, session.StateTerminated, snap.State)
		finals := f.protocol.CallsTo("SendFinalResponse")
		require.Len(t, finals, 1)
		assert.Equal(t, codeDeclined, finals[0].Code)
	})

	t.Run("Active", func(t *testing.T) {
		f := newFixture(t)
		id := f.placeCall(t)
		f.establish(t, id)
		f.process(t, Event{Kind: EventCmdHangup, SessionID: id})
		snap, _ := f.store.Get(id)
		assert.Equal(t, session.StateTerminating, snap.State)
		assert.Len(t, f.protocol.CallsTo("SendBye"), 1)

		// Подтверждение BYE завершает окончательно
		f.process(t, Event{Kind: EventFinalSuccess, SessionID: id, Code: 200})
		snap, _ = f.store.Get(id)
		assert.Equal(t, session.StateTerminated, snap.State)
	})

	t.Run("Terminating absorbs repeat", func(t *testing.T) {
		f := newFixture(t)
		id := f.placeCall(t)
		f.establish(t, id)
		f.process(t, Event{Kind: EventCmdHangup, SessionID: id})
		outcome := f.process(t, Event{Kind: EventCmdHangup, SessionID: id})
		assert.Equal(t, OutcomeNoOp, outcome)
	})
}

// TestRemoteBye проверяет входящее завершение из установленного вызова
func TestRemoteBye(t *testing.T) {
	f := newFixture(t)
	id := f.placeCall(t)
	f.establish(t, id)
	f.drain()

	f.process(t, Event{Kind: EventProtocolBye, SessionID: id})
	snap, _ := f.store.Get(id)
	assert.Equal(t, session.StateTerminated, snap.State)
	assert.Equal(t, "remote_bye", snap.TerminateReason)
	assert.Len(t, f.media.CallsTo("Stop"), 1)

	events := f.drain()
	require.Len(t, events, 1)
	assert.Equal(t, SessionTerminated, events[0].Kind)
	assert.Equal(t, "remote_bye", events[0].Reason)
}

// TestHoldResume проверяет цикл удержания: сброс медиа флагов,
// повторное согласование и отсутствие второй публикации установления
func TestHoldResume(t *testing.T) {
	f := newFixture(t)
	id := f.placeCall(t)
	f.establish(t, id)
	f.drain()

	// Resume без hold отвергается guard'ом
	outcome := f.process(t, Event{Kind: EventCmdResume, SessionID: id})
	assert.Equal(t, OutcomeGuardRejected, outcome)

	outcome = f.process(t, Event{Kind: EventCmdHold, SessionID: id})
	assert.Equal(t, OutcomeApplied, outcome)
	snap, _ := f.store.Get(id)
	assert.True(t, snap.Conditions.DialogEstablished)
	assert.False(t, snap.Conditions.MediaReady, "hold resets media readiness")
	assert.False(t, snap.Conditions.NegotiationComplete)
	assert.Len(t, f.media.CallsTo("Update"), 1)

	// Повторный hold отвергается: условия уже не выполнены
	outcome = f.process(t, Event{Kind: EventCmdHold, SessionID: id})
	assert.Equal(t, OutcomeGuardRejected, outcome)

	f.process(t, Event{Kind: EventCmdResume, SessionID: id})
	f.process(t, Event{Kind: EventMediaNegotiated, SessionID: id})
	f.process(t, Event{Kind: EventMediaReady, SessionID: id})

	snap, _ = f.store.Get(id)
	assert.True(t, snap.Conditions.AllMet())

	var established int
	events := f.drain()
	for _, ev := range events {
		if ev.Kind == SessionEstablished {
			established++
		}
	}
	assert.Zero(t, established, "established latch prevents second publication")
}

// TestTimerResponseTerminates проверяет завершение по таймауту
// финального ответа
func TestTimerResponseTerminates(t *testing.T) {
	f := newFixture(t)
	id := session.NewID()
	f.process(t, Event{Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:b@x"})

	f.process(t, Event{Kind: EventTimerResponse, SessionID: id})
	snap, _ := f.store.Get(id)
	assert.Equal(t, session.StateTerminated, snap.State)
	assert.Equal(t, "timeout", snap.TerminateReason)
	assert.Len(t, f.protocol.CallsTo("SendCancel"), 1)
}

// TestTimerMediaRace проверяет гонку таймера готовности с последним
// условием: для готовой сессии срабатывание поглощается guard'ом
func TestTimerMediaRace(t *testing.T) {
	f := newFixture(t)
	id := f.placeCall(t)
	f.establish(t, id)

	outcome := f.process(t, Event{Kind: EventTimerMedia, SessionID: id})
	assert.Equal(t, OutcomeGuardRejected, outcome)
	snap, _ := f.store.Get(id)
	assert.Equal(t, session.StateActive, snap.State)
}

// TestTimerMediaNotReady проверяет завершение по таймауту готовности
func TestTimerMediaNotReady(t *testing.T) {
	f := newFixture(t)
	id := f.placeCall(t)
	// Медиа так и не стала готовой

	f.process(t, Event{Kind: EventTimerMedia, SessionID: id})
	snap, _ := f.store.Get(id)
	assert.Equal(t, session.StateTerminating, snap.State)
	assert.Equal(t, "media_timeout", snap.TerminateReason)
}

// TestUnclassifiedNoOp проверяет явное поглощение нераспознанных
// уведомлений
func TestUnclassifiedNoOp(t *testing.T) {
	f := newFixture(t)
	id := f.placeCall(t)

	outcome := f.process(t, Event{Kind: EventUnclassified, SessionID: id})
	assert.Equal(t, OutcomeNoOp, outcome)
	snap, _ := f.store.Get(id)
	assert.Equal(t, session.StateActive, snap.State)
}

// TestDiagnosticTrail проверяет диагностический след: принятые и
// отвергнутые события фиксируются в порядке обработки
func TestDiagnosticTrail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewStore()
	t.Cleanup(store.Close)
	timers := NewTimerManager(nil, func(session.ID, TimerKind) {})
	t.Cleanup(timers.Close)
	pub := NewPublisher(8, logger)
	t.Cleanup(pub.Close)
	trail := NewTrail(8)

	engine, err := NewEngine(
		NewMasterTable(), store, timers, pub, trail,
		mockcollab.NewProtocol(), mockcollab.NewMedia(),
		NoopMetricsCollector(), logger,
	)
	require.NoError(t, err)

	id := session.NewID()
	_, _ = engine.Process(context.Background(), Event{
		Kind: EventCmdPlaceCall, SessionID: id, Target: "sip:b@x", ReceivedAt: time.Now(),
	})
	_, _ = engine.Process(context.Background(), Event{
		Kind: EventCmdAccept, SessionID: id, ReceivedAt: time.Now(),
	})

	records := trail.Records(id)
	require.Len(t, records, 2)
	assert.True(t, records[0].Accepted)
	assert.Equal(t, session.StateIdle, records[0].From)
	assert.Equal(t, session.StateInitiating, records[0].To)
	assert.False(t, records[1].Accepted)
	assert.Equal(t, string(ErrorKindInvalidEventForState), records[1].Reason)
}
