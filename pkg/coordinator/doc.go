// Package coordinator реализует координатор жизненного цикла сессий -
// компонент, который сводит воедино события протокольного слоя, медиа слоя,
// таймеров и команд пользователя и ровно один раз, в правильном порядке,
// решает, когда вызов "установлен", "обновлен" или "завершен".
//
// Архитектура потока данных:
//
//	внешний слой -> Classifier -> диспетчер (строгая сериализация по сессии)
//	    -> Engine (поиск в главной таблице переходов, чтение/запись
//	       контекста, вызовы коллабораторов) -> Publisher -> подписчики
//
// Вся логика поведения описана данными в главной таблице переходов
// (role, state, event) -> Transition, а не разбросанными условиями:
// каждая комбинация перечислима и проверяема. Роли Caller и Callee имеют
// отдельные области таблицы, так как момент совпадения "медиа готова" и
// "диалог установлен" у них различается; общая область Both покрывает
// прогресс, hold/resume и завершение.
//
// Гарантии:
//   - события одной сессии обрабатываются строго по одному в порядке
//     поступления; разные сессии полностью параллельны
//   - переход применяется атомарно: при отказе действия контекст остается
//     в состоянии до попытки
//   - SessionEstablished публикуется не более одного раза на сессию при
//     любом порядке прихода событий готовности
//   - завершение всегда достижимо: hangup и входящий BYE валидны в любом
//     нетерминальном состоянии, а отказы действий на пути завершения не
//     блокируют переход в Terminated
package coordinator
