package coordinator

import (
	"context"

	"github.com/arzzra/call_session/pkg/session"
)

// ProtocolLayer поверхность обратных вызовов протокольного коллаборатора.
//
// Все методы неблокирующие: возврат nil означает "запрос принят",
// окончательный результат (успех или отказ) возвращается в конвейер
// отдельным классифицированным событием. Немедленная ошибка означает,
// что запрос не был принят вовсе - переход, выполнявший действие,
// откатывается.
type ProtocolLayer interface {
	// SendInvite инициирует исходящий вызов на target с локальными
	// медиа параметрами
	SendInvite(ctx context.Context, id session.ID, target string, params *session.Params) error

	// SendProgress отправляет предварительный ответ
	SendProgress(ctx context.Context, id session.ID) error

	// SendFinalResponse отправляет финальный ответ с указанным кодом
	SendFinalResponse(ctx context.Context, id session.ID, code int, params *session.Params) error

	// SendAck подтверждает полученный финальный ответ
	SendAck(ctx context.Context, id session.ID) error

	// SendBye завершает подтвержденный диалог
	SendBye(ctx context.Context, id session.ID) error

	// SendCancel отменяет неподтвержденный исходящий вызов
	SendCancel(ctx context.Context, id session.ID) error
}

// MediaLayer поверхность обратных вызовов медиа коллаборатора.
// Контракт асинхронный, как и у ProtocolLayer: "media start requested" и
// "media start completed" - два разных события, никогда один блокирующий
// вызов.
type MediaLayer interface {
	// Allocate создает медиа сессию и возвращает локальные параметры:
	// offer при remote == nil, answer при известных параметрах удаленной
	// стороны. Выполняется локально, без сетевого ввода-вывода.
	Allocate(ctx context.Context, id session.ID, remote *session.Params) (*session.Params, error)

	// Start запускает медиа поток с согласованными параметрами
	Start(ctx context.Context, id session.ID, params *session.Params) error

	// Stop останавливает медиа поток и освобождает ресурсы
	Stop(ctx context.Context, id session.ID) error

	// Update применяет новые параметры к идущему потоку (hold/resume,
	// повторное согласование)
	Update(ctx context.Context, id session.ID, params *session.Params) error
}
