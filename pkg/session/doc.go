// Package session реализует хранилище контекстов сессий и реестр условий
// готовности для координатора жизненного цикла вызовов.
//
// Каждый активный вызов представлен ровно одним Context, который владеет
// ролью (Caller/Callee), состоянием жизненного цикла, тремя флагами
// готовности (dialog_established, media_ready, negotiation_complete) и
// согласованными медиа параметрами. Контекст мутируется исключительно
// движком переходов через Store.Mutate — никакой другой компонент не имеет
// прямого доступа на запись.
//
// Граф состояний Idle -> Initiating -> Ringing -> Active -> Terminating ->
// Terminated защищен конечным автоматом: переход назад невозможен, а
// Terminated является поглощающим состоянием. Удаление контекста из
// хранилища происходит не сразу после Terminated, а по истечении grace
// периода, чтобы поздние дубликаты сетевых событий получали диагностику
// UnknownSession, а не молча создавали новую сессию.
package session
