package session

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Context контекст одной активной сессии. Владеет всем изменяемым
// состоянием вызова; мутации проходят только через Store.Mutate.
type Context struct {
	mu sync.RWMutex

	id   ID
	role Role

	// Конечный автомат жизненного цикла. Таблица переходов координатора
	// остается главной поверхностью решений, автомат лишь механически
	// отвергает ребра, нарушающие монотонность состояний.
	machine *fsm.FSM

	conds ConditionSet

	localParams  *Params
	remoteParams *Params

	// Итог согласования от медиа слоя; как и остальные параметры,
	// координатором не интерпретируется
	negotiatedParams *Params

	// Фиксатор единственной публикации события "established"
	establishedFired bool

	remoteTarget    string
	terminateReason string

	createdAt      time.Time
	stateEnteredAt time.Time
	terminatedAt   time.Time
}

// Snapshot согласованный снимок контекста для конкурентного чтения.
// Читатели (статистика, диагностика) никогда не видят частично
// примененный переход.
type Snapshot struct {
	ID               ID
	Role             Role
	State            State
	Conditions       ConditionSet
	LocalParams      *Params
	RemoteParams     *Params
	NegotiatedParams *Params
	EstablishedFired bool
	RemoteTarget     string
	TerminateReason  string
	CreatedAt        time.Time
	StateEnteredAt   time.Time
}

// Commit результат одного перехода, применяемый к контексту атомарно.
// Поля со значением nil не затрагиваются.
type Commit struct {
	// NextState новое состояние жизненного цикла (если переход его меняет)
	NextState *State

	// Conditions присваивания флагов готовности
	Conditions ConditionUpdates

	// ResetMediaConds сбрасывает media_ready и negotiation_complete перед
	// применением Conditions - используется событиями повторного
	// согласования (hold/resume)
	ResetMediaConds bool

	// EstablishedFired взводит фиксатор публикации "established".
	// Фиксатор никогда не сбрасывается.
	EstablishedFired bool

	LocalParams      *Params
	RemoteParams     *Params
	NegotiatedParams *Params

	RemoteTarget    string
	TerminateReason string
}

// newContext создает контекст в состоянии Idle
func newContext(id ID, role Role) *Context {
	now := time.Now()
	c := &Context{
		id:             id,
		role:           role,
		createdAt:      now,
		stateEnteredAt: now,
	}
	c.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: "initiate", Src: []string{string(StateIdle)}, Dst: string(StateInitiating)},
			{Name: "ring", Src: []string{string(StateIdle), string(StateInitiating)}, Dst: string(StateRinging)},
			{Name: "activate", Src: []string{string(StateInitiating), string(StateRinging)}, Dst: string(StateActive)},
			{Name: "terminate", Src: []string{
				string(StateIdle), string(StateInitiating), string(StateRinging), string(StateActive),
			}, Dst: string(StateTerminating)},
			{Name: "finish", Src: []string{
				string(StateIdle), string(StateInitiating), string(StateRinging),
				string(StateActive), string(StateTerminating),
			}, Dst: string(StateTerminated)},
		},
		fsm.Callbacks{},
	)
	return c
}

// fsmEventFor возвращает имя события автомата, ведущего в указанное состояние
func fsmEventFor(next State) string {
	switch next {
	case StateInitiating:
		return "initiate"
	case StateRinging:
		return "ring"
	case StateActive:
		return "activate"
	case StateTerminating:
		return "terminate"
	case StateTerminated:
		return "finish"
	default:
		return ""
	}
}

// ID возвращает идентификатор сессии
func (c *Context) ID() ID {
	return c.id
}

// Role возвращает роль стороны. Роль неизменяема.
func (c *Context) Role() Role {
	return c.role
}

// State возвращает текущее состояние жизненного цикла
func (c *Context) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State(c.machine.Current())
}

// Conditions возвращает копию текущего набора флагов готовности
func (c *Context) Conditions() ConditionSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conds
}

// EstablishedFired возвращает состояние фиксатора публикации "established"
func (c *Context) EstablishedFired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.establishedFired
}

// Snapshot возвращает согласованный снимок контекста
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		ID:               c.id,
		Role:             c.role,
		State:            State(c.machine.Current()),
		Conditions:       c.conds,
		LocalParams:      c.localParams.Clone(),
		RemoteParams:     c.remoteParams.Clone(),
		NegotiatedParams: c.negotiatedParams.Clone(),
		EstablishedFired: c.establishedFired,
		RemoteTarget:     c.remoteTarget,
		TerminateReason:  c.terminateReason,
		CreatedAt:        c.createdAt,
		StateEnteredAt:   c.stateEnteredAt,
	}
}

// apply применяет результат перехода. Либо применяется все, либо ничего:
// проверки выполняются до первой мутации.
func (c *Context) apply(commit Commit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := State(c.machine.Current())
	if cur.IsTerminal() {
		return ErrTerminated
	}

	if commit.NextState != nil && *commit.NextState != cur {
		next := *commit.NextState
		// Откат назад допустим только по ребру Terminating -> Terminated,
		// которое в частичном порядке идет вперед, так что любое
		// уменьшение порядка - дефект таблицы переходов
		if next.Order() < cur.Order() {
			return &InvalidTransitionError{From: cur, To: next}
		}
		if err := c.machine.Event(context.Background(), fsmEventFor(next)); err != nil {
			return &InvalidTransitionError{From: cur, To: next}
		}
		c.stateEnteredAt = time.Now()
		if next == StateTerminated {
			c.terminatedAt = c.stateEnteredAt
		}
	}

	if commit.ResetMediaConds {
		c.conds.MediaReady = false
		c.conds.NegotiationComplete = false
	}
	commit.Conditions.ApplyTo(&c.conds)

	if commit.EstablishedFired {
		c.establishedFired = true
	}
	if commit.LocalParams != nil {
		c.localParams = commit.LocalParams.Clone()
	}
	if commit.RemoteParams != nil {
		c.remoteParams = commit.RemoteParams.Clone()
	}
	if commit.NegotiatedParams != nil {
		c.negotiatedParams = commit.NegotiatedParams.Clone()
	}
	if commit.RemoteTarget != "" {
		c.remoteTarget = commit.RemoteTarget
	}
	if commit.TerminateReason != "" {
		c.terminateReason = commit.TerminateReason
	}
	return nil
}

// terminatedFor возвращает длительность нахождения в Terminated
// (0, если сессия еще активна)
func (c *Context) terminatedFor(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.terminatedAt.IsZero() {
		return 0
	}
	return now.Sub(c.terminatedAt)
}
