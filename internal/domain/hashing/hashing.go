// Пакет hashing вычисляет хэши подлинности сообщения по неизменяемым полям.
// Контентный хэш связывает текст с адресом (канал, id, дата публикации);
// хэш метаданных фиксирует происхождение (автор, форвард). Алгоритм и версия
// сохраняются рядом со значением, чтобы пережить будущую смену схемы.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// Algorithm — имя алгоритма, записываемое в строку сообщения.
	Algorithm = "sha256"
	// Version — версия схемы каноникализации входа.
	Version = "v1"
)

// ContentHash хэширует (channel_id, telegram_message_id, telegram_date,
// нормализованный контент). Дата каноникализируется в UTC RFC3339: хэш не
// должен зависеть от таймзоны процесса.
func ContentHash(channelID, messageID int64, date time.Time, content string) string {
	input := fmt.Sprintf("%d|%d|%s|%s",
		channelID, messageID, date.UTC().Format(time.RFC3339), normalize(content))
	return digest(input)
}

// MetadataHash хэширует происхождение: автор, ссылки форварда и дата форварда.
// Нулевые значения кодируются как "0"/пустая строка — отсутствие происхождения
// тоже факт, подлежащий фиксации.
func MetadataHash(authorUserID, forwardFromChannelID, forwardFromMessageID int64, forwardDate *time.Time) string {
	fd := ""
	if forwardDate != nil && !forwardDate.IsZero() {
		fd = forwardDate.UTC().Format(time.RFC3339)
	}
	input := fmt.Sprintf("%d|%d|%d|%s", authorUserID, forwardFromChannelID, forwardFromMessageID, fd)
	return digest(input)
}

// normalize приводит контент к канонической форме: обрезка краёв и схлопывание
// последовательностей пробельных символов в один пробел. Перенос строки или
// лишний пробел из другого клиента не должен менять отпечаток.
func normalize(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

func digest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
