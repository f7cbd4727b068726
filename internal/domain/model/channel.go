// Пакет model содержит доменные сущности архиватора: каналы, сообщения,
// медиа-блобы и транспортную форму записи потока (StreamEntry). Сущности
// отражают схему реляционного хранилища; правила владения: канал создаёт и
// мутирует только дискавери/бэкфилл, сообщение рождается в транзакции воркера.
package model

import "time"

// BackfillStatus — машина состояний исторической загрузки канала.
// none → pending → in_progress → {completed | failed | paused}.
// pending выставляет дискавери либо оператор; paused — реакция на FLOOD_WAIT.
type BackfillStatus string

const (
	BackfillNone       BackfillStatus = "none"
	BackfillPending    BackfillStatus = "pending"
	BackfillInProgress BackfillStatus = "in_progress"
	BackfillCompleted  BackfillStatus = "completed"
	BackfillFailed     BackfillStatus = "failed"
	BackfillPaused     BackfillStatus = "paused"
)

// Rule — правило обработки канала. ArchiveAll архивирует каждое сообщение
// дословно; MonitorOnly исключает канал из гэп-детекции и перевода.
type Rule string

const (
	RuleArchiveAll  Rule = "archive_all"
	RuleMonitorOnly Rule = "monitor_only"
)

// ArchiveOriented сообщает, участвует ли правило в бэкфилле и гэп-детекции.
func (r Rule) ArchiveOriented() bool {
	return r == RuleArchiveAll
}

// Channel — один отслеживаемый Telegram-канал (broadcast или группа).
// Идентифицируется стабильным telegram id (с «marked»-префиксом платформы);
// AccessHash обязателен для API-вызовов. Канал никогда не удаляется —
// только деактивируется при исчезновении из папки.
type Channel struct {
	ID         int64
	TelegramID int64
	AccessHash int64
	Username   string
	Name       string
	Desc       string
	Folder     string
	Rule       Rule
	Active     bool
	RemovedAt  *time.Time

	SourceAccount string

	BackfillStatus      BackfillStatus
	BackfillFromDate    *time.Time
	BackfillFetched     int
	BackfillCompletedAt *time.Time
	BackfillError       string

	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChannelCandidate — дескриптор канала, собранный дискавери из папки.
// Метаданные перезаписывают существующую строку при upsert («последний выигрывает»).
type ChannelCandidate struct {
	TelegramID int64
	AccessHash int64
	Username   string
	Name       string
	Desc       string
	Folder     string
}

// ReconcileStats — итог одного цикла сверки папки с хранилищем.
type ReconcileStats struct {
	Added       int
	Updated     int
	Removed     int
	TotalActive int
}
