package session

import (
	"github.com/google/uuid"
)

// ID уникальный идентификатор сессии (одной попытки вызова)
type ID string

// NewID генерирует новый уникальный идентификатор сессии
func NewID() ID {
	return ID(uuid.NewString())
}

// String возвращает строковое представление идентификатора
func (id ID) String() string {
	return string(id)
}

// Role роль стороны в вызове. Неизменяема после создания контекста.
type Role string

const (
	// RoleCaller - инициатор вызова (UAC)
	RoleCaller Role = "Caller"
	// RoleCallee - принимающая сторона (UAS)
	RoleCallee Role = "Callee"
)

// String возвращает строковое представление роли
func (r Role) String() string {
	return string(r)
}

// State состояние жизненного цикла сессии
type State string

const (
	// StateIdle - начальное состояние, контекст только создан
	StateIdle State = "Idle"
	// StateInitiating - исходящий запрос отправлен, финального ответа нет
	StateInitiating State = "Initiating"
	// StateRinging - получен/отправлен предварительный ответ
	StateRinging State = "Ringing"
	// StateActive - диалог подтвержден, вызов идет
	StateActive State = "Active"
	// StateTerminating - завершение начато, ждем подтверждения
	StateTerminating State = "Terminating"
	// StateTerminated - вызов завершен, новые события не принимаются
	StateTerminated State = "Terminated"
)

// String возвращает строковое представление состояния
func (s State) String() string {
	return string(s)
}

// stateOrder частичный порядок состояний: переходы допустимы только
// в сторону возрастания (монотонность жизненного цикла)
var stateOrder = map[State]int{
	StateIdle:        0,
	StateInitiating:  1,
	StateRinging:     2,
	StateActive:      3,
	StateTerminating: 4,
	StateTerminated:  5,
}

// Order возвращает позицию состояния в частичном порядке
func (s State) Order() int {
	return stateOrder[s]
}

// IsTerminal возвращает true для поглощающего состояния Terminated
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

// Params непрозрачный блок согласованных медиа параметров (адрес, кодек,
// направление). Координатор хранит и передает его, не интерпретируя
// содержимое - формат понятен только медиа слою.
type Params struct {
	ContentType string
	Data        []byte
}

// Clone возвращает независимую копию параметров
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return &Params{ContentType: p.ContentType, Data: data}
}
