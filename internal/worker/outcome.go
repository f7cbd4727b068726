// Пакет worker — пул обработчиков записей потока: дедупликация, извлечение
// сущностей, перевод, архивация медиа и атомарная запись. Воркеры без
// состояния; корректность при конкуренции держится на insert-if-absent.
package worker

import (
	"time"
)

// kind — категория исхода обработки одной записи.
type kind int

const (
	kindOk kind = iota
	kindFloodWait
	kindTransient
	kindPermanent
)

// Outcome — исход обработки записи. Вместо исключений — явная сумма вариантов:
// цикл воркера ветвится по категории, превращая её в решение ack / DLQ / retry.
type Outcome struct {
	kind kind
	wait time.Duration
	err  error
}

// Ok — запись обработана (или легально пропущена), можно подтверждать.
func Ok() Outcome { return Outcome{kind: kindOk} }

// FloodWait — Telegram требует паузы; запись не подтверждаем, паузу уважаем.
func FloodWait(wait time.Duration) Outcome {
	return Outcome{kind: kindFloodWait, wait: wait}
}

// Transient — временная ошибка (сеть, брокер, база): не подтверждаем,
// брокер доставит повторно.
func Transient(err error) Outcome { return Outcome{kind: kindTransient, err: err} }

// Permanent — запись не обработать никогда (нет канала, нечитаемый payload):
// сразу в DLQ.
func Permanent(err error) Outcome { return Outcome{kind: kindPermanent, err: err} }

// IsOk сообщает об успешном исходе.
func (o Outcome) IsOk() bool { return o.kind == kindOk }

// Err возвращает ошибку исхода (nil для Ok и FloodWait).
func (o Outcome) Err() error { return o.err }

// Wait возвращает требуемую паузу FLOOD_WAIT (0 для остальных вариантов).
func (o Outcome) Wait() time.Duration { return o.wait }

// action — решение цикла по записи.
type action int

const (
	actionAck action = iota
	actionDeadLetter
	actionRetry
)

// decide превращает исход и счётчик доставок в решение цикла:
//   - успех подтверждается;
//   - постоянная ошибка уходит в DLQ с первой попытки;
//   - временная (и flood-wait) не подтверждается, пока не исчерпан бюджет
//     доставок, после чего тоже уходит в DLQ.
func decide(exhausted bool, o Outcome) action {
	switch o.kind {
	case kindOk:
		return actionAck
	case kindPermanent:
		return actionDeadLetter
	default:
		if exhausted {
			return actionDeadLetter
		}
		return actionRetry
	}
}
