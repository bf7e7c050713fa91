package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/call_session/pkg/session"
)

// TestMasterTableValid проверяет, что главная таблица проходит полную
// валидацию: без тупиков, без откатов, с путем завершения отовсюду
func TestMasterTableValid(t *testing.T) {
	table := NewMasterTable()
	require.NoError(t, table.Validate())
	assert.Greater(t, table.Len(), 30, "master table covers both role regions")
}

// TestLookupPrecedence проверяет порядок поиска: область роли имеет
// приоритет над общей областью Both
func TestLookupPrecedence(t *testing.T) {
	table := NewMasterTable()

	// MediaFailed в Active: у Caller в Active своей записи нет,
	// берется общая; в Ringing у Caller есть своя запись
	own, ok := table.Lookup(session.RoleCaller, session.StateRinging, EventMediaFailed)
	require.True(t, ok)
	assert.Equal(t, session.StateTerminated, *own.NextState,
		"role-specific entry wins in Ringing")

	shared, ok := table.Lookup(session.RoleCaller, session.StateActive, EventMediaFailed)
	require.True(t, ok)
	assert.Equal(t, session.StateTerminating, *shared.NextState,
		"Both region serves states without role-specific entry")

	_, ok = table.Lookup(session.RoleCaller, session.StateIdle, EventProtocolBye)
	assert.False(t, ok, "miss in both regions reported as miss")
}

// TestLookupDeterministic проверяет детерминизм: один ключ всегда дает
// один и тот же переход
func TestLookupDeterministic(t *testing.T) {
	table := NewMasterTable()
	first, ok := table.Lookup(session.RoleCallee, session.StateRinging, EventCmdAccept)
	require.True(t, ok)
	for i := 0; i < 100; i++ {
		again, ok := table.Lookup(session.RoleCallee, session.StateRinging, EventCmdAccept)
		require.True(t, ok)
		assert.Equal(t, first.NextState, again.NextState)
		assert.Equal(t, len(first.Actions), len(again.Actions))
	}
}

// TestDuplicateEntryPanics проверяет защиту от двойной регистрации ключа
func TestDuplicateEntryPanics(t *testing.T) {
	table := &Table{entries: make(map[StateKey]Transition)}
	table.add(session.RoleCaller, session.StateIdle, EventCmdPlaceCall, Transition{})
	assert.Panics(t, func() {
		table.add(session.RoleCaller, session.StateIdle, EventCmdPlaceCall, Transition{})
	})
}

// TestValidateRejectsRegression проверяет обнаружение отката назад
func TestValidateRejectsRegression(t *testing.T) {
	table := &Table{entries: make(map[StateKey]Transition)}
	table.add(RoleBoth, session.StateActive, EventProtocolProgress, Transition{
		NextState: stateOf(session.StateRinging),
	})
	err := table.Validate()
	require.Error(t, err)
	var cerr *CoordError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrorKindTableInvalid, cerr.Kind)
}

// TestValidateRejectsTerminatedEntries проверяет поглощающее состояние:
// исходящие переходы из Terminated запрещены
func TestValidateRejectsTerminatedEntries(t *testing.T) {
	table := &Table{entries: make(map[StateKey]Transition)}
	table.add(RoleBoth, session.StateTerminated, EventCmdHangup, Transition{})
	assert.Error(t, table.Validate())
}

// TestValidatePerRoleReachability проверяет, что валидация считает
// достижимость на роль: Callee никогда не посещает Initiating, поэтому
// отсутствие пути завершения оттуда не делает таблицу дефектной
func TestValidatePerRoleReachability(t *testing.T) {
	table := NewMasterTable()
	require.NoError(t, table.Validate())

	_, ok := table.Lookup(session.RoleCallee, session.StateInitiating, EventCmdHangup)
	assert.False(t, ok, "callee has no hangup entry for Initiating and does not need one")

	callee := table.reachableStates(session.RoleCallee)
	assert.NotContains(t, callee, session.StateInitiating)
	assert.Contains(t, callee, session.StateRinging)
	assert.Contains(t, callee, session.StateTerminating)

	caller := table.reachableStates(session.RoleCaller)
	assert.Contains(t, caller, session.StateInitiating)
}

// TestValidateRequiresHangupWhereReachable проверяет, что в достижимом
// состоянии путь завершения по-прежнему обязателен
func TestValidateRequiresHangupWhereReachable(t *testing.T) {
	table := &Table{entries: make(map[StateKey]Transition)}
	table.add(session.RoleCaller, session.StateIdle, EventCmdPlaceCall, Transition{
		CreateRole: session.RoleCaller,
		NextState:  stateOf(session.StateInitiating),
	})
	table.add(session.RoleCaller, session.StateInitiating, EventProtocolProgress, Transition{
		NextState: stateOf(session.StateRinging),
	})

	err := table.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "завершения")
}

// TestGuardEvaluate проверяет предикаты над флагами готовности
func TestGuardEvaluate(t *testing.T) {
	all := session.ConditionSet{
		DialogEstablished:   true,
		MediaReady:          true,
		NegotiationComplete: true,
	}
	partial := session.ConditionSet{DialogEstablished: true}

	assert.True(t, GuardAlways.Evaluate(session.ConditionSet{}))
	assert.True(t, GuardAllConditions.Evaluate(all))
	assert.False(t, GuardAllConditions.Evaluate(partial))
	assert.False(t, GuardNotAllConditions.Evaluate(all))
	assert.True(t, GuardNotAllConditions.Evaluate(partial))
	assert.True(t, GuardDialogEstablished.Evaluate(partial))
	assert.False(t, GuardNotDialogEstablished.Evaluate(partial))
	assert.True(t, GuardNotDialogEstablished.Evaluate(session.ConditionSet{}))
}

// TestTableRoleAsymmetry проверяет ключевую асимметрию ролей: у Callee
// подтверждение запускает медиа, у Caller - только взводит флаг
func TestTableRoleAsymmetry(t *testing.T) {
	table := NewMasterTable()

	caller, ok := table.Lookup(session.RoleCaller, session.StateActive, EventProtocolAck)
	require.True(t, ok)
	assert.Empty(t, caller.Actions, "caller ack completion carries no actions")
	require.NotNil(t, caller.Conditions.DialogEstablished)
	assert.True(t, *caller.Conditions.DialogEstablished)

	callee, ok := table.Lookup(session.RoleCallee, session.StateActive, EventProtocolAck)
	require.True(t, ok)
	require.Len(t, callee.Actions, 1)
	assert.Equal(t, ActionMediaStart, callee.Actions[0].Kind,
		"callee starts media on received ACK")
}
