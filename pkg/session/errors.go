package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound - контекст с указанным идентификатором не существует
	// (либо уже удален после grace периода)
	ErrNotFound = errors.New("сессия не найдена")

	// ErrAlreadyExists - контекст с таким идентификатором уже создан;
	// на один идентификатор допустим ровно один контекст
	ErrAlreadyExists = errors.New("сессия уже существует")

	// ErrTerminated - сессия в состоянии Terminated не принимает переходы
	ErrTerminated = errors.New("сессия завершена")
)

// InvalidTransitionError недопустимое ребро графа состояний.
// Возникает, если запись таблицы переходов пытается откатить состояние
// назад - это дефект таблицы, а не ошибка времени выполнения.
type InvalidTransitionError struct {
	From State
	To   State
}

// Error реализует интерфейс error
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("недопустимый переход состояния: %s -> %s", e.From, e.To)
}
