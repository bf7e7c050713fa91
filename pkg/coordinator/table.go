package coordinator

import (
	"fmt"

	"github.com/arzzra/call_session/pkg/session"
)

// RoleBoth общая область таблицы, разделяемая Caller и Callee
const RoleBoth session.Role = "Both"

// StateKey ключ поиска в главной таблице переходов
type StateKey struct {
	Role  session.Role
	State session.State
	Event EventKind
}

// GuardKind предикат над текущими флагами готовности. Если guard не
// выполнен, событие принято, но эффекта не производит - это явный
// результат "еще рано", а не ошибка.
type GuardKind int

const (
	// GuardAlways - переход выполняется безусловно
	GuardAlways GuardKind = iota
	// GuardAllConditions - требуются все три флага готовности
	GuardAllConditions
	// GuardNotAllConditions - переход только пока сессия не готова
	// (поглощает гонку таймера готовности с последним флагом)
	GuardNotAllConditions
	// GuardDialogEstablished - требуется подтвержденный диалог
	GuardDialogEstablished
	// GuardNotDialogEstablished - переход только пока диалог не
	// подтвержден (поглощает дубликаты подтверждений)
	GuardNotDialogEstablished
)

// Evaluate вычисляет guard над набором флагов
func (g GuardKind) Evaluate(c session.ConditionSet) bool {
	switch g {
	case GuardAllConditions:
		return c.AllMet()
	case GuardNotAllConditions:
		return !c.AllMet()
	case GuardDialogEstablished:
		return c.DialogEstablished
	case GuardNotDialogEstablished:
		return !c.DialogEstablished
	default:
		return true
	}
}

// String возвращает имя guard для логов
func (g GuardKind) String() string {
	switch g {
	case GuardAllConditions:
		return "AllConditions"
	case GuardNotAllConditions:
		return "NotAllConditions"
	case GuardDialogEstablished:
		return "DialogEstablished"
	case GuardNotDialogEstablished:
		return "NotDialogEstablished"
	default:
		return "Always"
	}
}

// ActionKind вид побочного действия перехода
type ActionKind string

const (
	// Медиа действия
	ActionMediaAllocate ActionKind = "MediaAllocate" // создать сессию, получить offer/answer
	ActionMediaStart    ActionKind = "MediaStart"
	ActionMediaStop     ActionKind = "MediaStop"
	ActionMediaHold     ActionKind = "MediaHold"
	ActionMediaResume   ActionKind = "MediaResume"

	// Протокольные действия
	ActionProtocolInvite   ActionKind = "ProtocolInvite"
	ActionProtocolProgress ActionKind = "ProtocolProgress"
	ActionProtocolFinal    ActionKind = "ProtocolFinalResponse"
	ActionProtocolAck      ActionKind = "ProtocolAck"
	ActionProtocolBye      ActionKind = "ProtocolBye"
	ActionProtocolCancel   ActionKind = "ProtocolCancel"

	// Управление таймерами. Отмена таймера - действие перехода,
	// а не побочный канал.
	ActionStartTimer   ActionKind = "StartTimer"
	ActionCancelTimer  ActionKind = "CancelTimer"
	ActionCancelTimers ActionKind = "CancelTimers"
)

// Action одно побочное действие с параметрами
type Action struct {
	Kind ActionKind
	// Code код финального ответа; 0 означает "взять из события"
	Code int
	// Timer вид таймера для StartTimer/CancelTimer
	Timer TimerKind
}

// PublishKind вид публикуемого события жизненного цикла
type PublishKind string

const (
	PublishCreated    PublishKind = "SessionCreated"
	PublishUpdated    PublishKind = "SessionUpdated"
	PublishTerminated PublishKind = "SessionTerminated"
)

// PublishTemplate шаблон публикации; конкретное событие строится из
// контекста после применения перехода
type PublishTemplate struct {
	Kind   PublishKind
	Reason string
}

// Transition запись таблицы: guard, упорядоченные действия, следующее
// состояние, обновления флагов и публикации
type Transition struct {
	Guard   GuardKind
	Actions []Action

	// NextState nil означает "состояние не меняется"
	NextState *session.State

	// Conditions присваивания флагов, применяемые после успеха действий
	Conditions session.ConditionUpdates

	// ResetMediaConds сбрасывает медиа флаги перед Conditions
	// (повторное согласование)
	ResetMediaConds bool

	Publish []PublishTemplate

	// CreateRole непустая роль помечает переход создания контекста
	CreateRole session.Role

	// Terminal помечает переход пути завершения: отказы действий
	// логируются, но не откатывают переход - завершение всегда
	// должно достигаться
	Terminal bool

	// StoreRemoteParams сохраняет параметры события как remote_params
	StoreRemoteParams bool

	// StoreNegotiatedParams сохраняет параметры события как итог
	// согласования (negotiated_params)
	StoreNegotiatedParams bool

	// TerminateReason причина для снимка контекста и публикаций
	TerminateReason string
}

// Table главная таблица переходов: детерминированное отображение
// (role, state, event) -> Transition. Все поведение - данные.
type Table struct {
	entries map[StateKey]Transition
}

// NewMasterTable собирает полную таблицу из областей Caller, Callee и Both
func NewMasterTable() *Table {
	t := &Table{entries: make(map[StateKey]Transition)}
	t.addCallerRegion()
	t.addCalleeRegion()
	t.addCommonRegion()
	return t
}

// add регистрирует переход; дубликат ключа - дефект программирования
func (t *Table) add(role session.Role, state session.State, event EventKind, tr Transition) {
	key := StateKey{Role: role, State: state, Event: event}
	if _, ok := t.entries[key]; ok {
		panic(fmt.Sprintf("дубликат записи таблицы: %+v", key))
	}
	t.entries[key] = tr
}

// Lookup ищет переход: сначала в области роли, затем в общей области Both.
// Поиск детерминирован - один и тот же ключ всегда дает один переход.
func (t *Table) Lookup(role session.Role, state session.State, event EventKind) (Transition, bool) {
	if tr, ok := t.entries[StateKey{Role: role, State: state, Event: event}]; ok {
		return tr, true
	}
	tr, ok := t.entries[StateKey{Role: RoleBoth, State: state, Event: event}]
	return tr, ok
}

// Len возвращает количество записей таблицы
func (t *Table) Len() int {
	return len(t.entries)
}

// Validate проверяет таблицу целиком:
//   - ни одна запись не ведет назад по частичному порядку состояний
//   - Terminated не имеет исходящих переходов (поглощающее состояние)
//   - каждое достижимое для роли нетерминальное состояние имеет
//     исходящий переход, причем hangup валиден в каждом из них
//
// Достижимость считается на роль: состояния выводятся обходом таблицы
// от перехода создания, а не перечислены заранее. Callee, например,
// никогда не посещает Initiating - требовать оттуда путь завершения
// было бы ложным дефектом таблицы.
func (t *Table) Validate() error {
	for key, tr := range t.entries {
		if key.State == session.StateTerminated {
			return ErrTableInvalid(fmt.Sprintf("запись для поглощающего состояния Terminated: %+v", key))
		}
		if tr.NextState != nil && tr.NextState.Order() < key.State.Order() {
			return ErrTableInvalid(fmt.Sprintf("переход назад %s -> %s по событию %s",
				key.State, *tr.NextState, key.Event))
		}
	}

	for _, role := range []session.Role{session.RoleCaller, session.RoleCallee} {
		states := t.reachableStates(role)
		if len(states) == 0 {
			return ErrTableInvalid(fmt.Sprintf("нет перехода создания для роли %s", role))
		}
		for _, state := range states {
			if state == session.StateTerminated {
				continue
			}
			if !t.hasOutbound(role, state) {
				return ErrTableInvalid(fmt.Sprintf("тупиковое состояние %s для роли %s", state, role))
			}
			if state != session.StateTerminating {
				if _, ok := t.Lookup(role, state, EventCmdHangup); !ok {
					return ErrTableInvalid(fmt.Sprintf("нет пути завершения из %s для роли %s", state, role))
				}
			}
		}
	}
	return nil
}

// reachableStates обходит таблицу от переходов создания роли и
// возвращает достижимые состояния в порядке обнаружения
func (t *Table) reachableStates(role session.Role) []session.State {
	seen := make(map[session.State]bool)
	var order []session.State
	visit := func(st session.State) {
		if !seen[st] {
			seen[st] = true
			order = append(order, st)
		}
	}
	for key, tr := range t.entries {
		if key.State == session.StateIdle && tr.CreateRole == role && tr.NextState != nil {
			visit(*tr.NextState)
		}
	}
	for i := 0; i < len(order); i++ {
		st := order[i]
		for key, tr := range t.entries {
			if key.State != st || tr.NextState == nil {
				continue
			}
			if key.Role == role || key.Role == RoleBoth {
				visit(*tr.NextState)
			}
		}
	}
	return order
}

func (t *Table) hasOutbound(role session.Role, state session.State) bool {
	for key := range t.entries {
		if key.State != state {
			continue
		}
		if key.Role == role || key.Role == RoleBoth {
			return true
		}
	}
	return false
}

// вспомогательные конструкторы для компактной записи таблицы

func stateOf(s session.State) *session.State { return &s }

func setTrue() *bool { v := true; return &v }
