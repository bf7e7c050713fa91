package coordinator

import (
	"fmt"
	"time"

	"github.com/arzzra/call_session/pkg/session"
)

// ErrorKind вид ошибки координации
type ErrorKind string

const (
	// ErrorKindUnknownSession - событие для несуществующей или уже
	// удаленной сессии; логируется, не фатально
	ErrorKindUnknownSession ErrorKind = "UnknownSession"

	// ErrorKindInvalidEventForState - для пары (состояние, событие) нет
	// записи в таблице; аномалия протокола или дубликат доставки
	ErrorKindInvalidEventForState ErrorKind = "InvalidEventForState"

	// ErrorKindGuardNotSatisfied - guard отверг событие; это не ошибка,
	// а явный результат "еще рано"
	ErrorKindGuardNotSatisfied ErrorKind = "GuardNotSatisfied"

	// ErrorKindActionFailed - вызов коллаборатора отказал; переход
	// откачен до состояния перед попыткой
	ErrorKindActionFailed ErrorKind = "ActionFailed"

	// ErrorKindDuplicateEvent - событие пришло после Terminated
	ErrorKindDuplicateEvent ErrorKind = "DuplicateEvent"

	// ErrorKindTableInvalid - дефект главной таблицы переходов,
	// обнаруженный валидацией
	ErrorKindTableInvalid ErrorKind = "TableInvalid"
)

// ErrorCategory категория ошибки для классификации в логах
type ErrorCategory string

const (
	ErrorCategorySession ErrorCategory = "SESSION"
	ErrorCategoryState   ErrorCategory = "STATE"
	ErrorCategoryAction  ErrorCategory = "ACTION"
	ErrorCategoryTable   ErrorCategory = "TABLE"
)

// ErrorSeverity уровень критичности
type ErrorSeverity string

const (
	ErrorSeverityError   ErrorSeverity = "ERROR"
	ErrorSeverityWarning ErrorSeverity = "WARNING"
	ErrorSeverityInfo    ErrorSeverity = "INFO"
)

// CoordError структурированная ошибка координации с контекстом
type CoordError struct {
	Kind     ErrorKind     `json:"kind"`
	Message  string        `json:"message"`
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`

	SessionID session.ID    `json:"session_id,omitempty"`
	State     session.State `json:"state,omitempty"`
	Event     EventKind     `json:"event,omitempty"`
	Action    string        `json:"action,omitempty"`

	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Cause     error                  `json:"-"`

	// Retryable - можно ли повторить операцию (сессия осталась в прежнем
	// состоянии, повтор или завершающее событие все еще обработаются)
	Retryable bool `json:"retryable"`
}

// Error реализует интерфейс error
func (e *CoordError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("[%s:%s] %s (session: %s)", e.Category, e.Kind, e.Message, e.SessionID)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Kind, e.Message)
}

// Unwrap позволяет использовать errors.Is и errors.As
func (e *CoordError) Unwrap() error {
	return e.Cause
}

// WithField добавляет поле контекста к ошибке
func (e *CoordError) WithField(key string, value interface{}) *CoordError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// WithCause добавляет исходную ошибку
func (e *CoordError) WithCause(cause error) *CoordError {
	e.Cause = cause
	return e
}

func newCoordError(kind ErrorKind, msg string, cat ErrorCategory, sev ErrorSeverity) *CoordError {
	return &CoordError{
		Kind:      kind,
		Message:   msg,
		Category:  cat,
		Severity:  sev,
		Timestamp: time.Now(),
	}
}

// Предопределенные конструкторы для частых случаев

// ErrUnknownSession событие для несуществующей сессии
func ErrUnknownSession(id session.ID, event EventKind) *CoordError {
	e := newCoordError(
		ErrorKindUnknownSession,
		fmt.Sprintf("событие %s для неизвестной сессии", event),
		ErrorCategorySession,
		ErrorSeverityWarning,
	)
	e.SessionID = id
	e.Event = event
	return e
}

// ErrInvalidEventForState нет записи таблицы для пары (состояние, событие)
func ErrInvalidEventForState(id session.ID, role session.Role, state session.State, event EventKind) *CoordError {
	e := newCoordError(
		ErrorKindInvalidEventForState,
		fmt.Sprintf("нет перехода для события %s в состоянии %s (%s)", event, state, role),
		ErrorCategoryState,
		ErrorSeverityWarning,
	)
	e.SessionID = id
	e.State = state
	e.Event = event
	return e
}

// ErrDuplicateEvent событие для завершенной сессии
func ErrDuplicateEvent(id session.ID, event EventKind) *CoordError {
	e := newCoordError(
		ErrorKindDuplicateEvent,
		fmt.Sprintf("событие %s после завершения сессии отброшено", event),
		ErrorCategorySession,
		ErrorSeverityInfo,
	)
	e.SessionID = id
	e.Event = event
	return e
}

// ErrActionFailed отказ действия коллаборатора; переход откачен
func ErrActionFailed(id session.ID, action string, cause error) *CoordError {
	e := newCoordError(
		ErrorKindActionFailed,
		fmt.Sprintf("действие %s отказало", action),
		ErrorCategoryAction,
		ErrorSeverityError,
	)
	e.SessionID = id
	e.Action = action
	e.Cause = cause
	e.Retryable = true
	return e
}

// ErrTableInvalid дефект таблицы переходов
func ErrTableInvalid(msg string) *CoordError {
	return newCoordError(ErrorKindTableInvalid, msg, ErrorCategoryTable, ErrorSeverityError)
}
