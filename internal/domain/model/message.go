package model

import "time"

// MediaType — подсказка о типе вложения, сохранённая вместе с сообщением.
// Значения пишутся в поток и в БД как строки.
type MediaType string

const (
	MediaNone     MediaType = ""
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaAudio    MediaType = "audio"
	MediaWebPage  MediaType = "webpage"
)

// Message — одно заархивированное сообщение. Натуральный ключ —
// (ChannelID, TelegramMessageID); вставка идемпотентна (insert-if-absent).
// Контентные поля неизменяемы после записи; обновляются только счётчики
// вовлечённости и поля перевода.
type Message struct {
	ID                int64
	ChannelID         int64
	TelegramMessageID int64

	Content           string
	ContentTranslated string
	LanguageDetected  string
	TranslationProv   string
	TranslationCost   float64
	TranslationAt     *time.Time

	TelegramDate time.Time
	Views        int
	Forwards     int
	GroupedID    int64
	MediaType    MediaType

	// Entities — JSON-объект массивов по категориям (hashtags, mentions, urls…).
	// Пустые категории опускаются; nil означает «ничего не извлечено».
	Entities []byte

	AuthorUserID         int64
	RepliedToMessageID   int64
	ForwardFromChannelID int64
	ForwardFromMessageID int64
	ForwardDate          *time.Time
	HasComments          bool
	CommentsCount        int
	LinkedChatID         int64

	ContentHash   string
	MetadataHash  string
	HashAlgorithm string
	HashVersion   string
	HashAt        *time.Time

	IsBackfilled bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MediaBlob — контентно-адресуемый объект в объектном хранилище.
// ContentHash (SHA-256 hex) — первичный ключ дедупликации: два сообщения с
// одинаковыми байтами ссылаются на один блоб. Блоб никогда не перезаписывается.
type MediaBlob struct {
	ID          int64
	ContentHash string
	S3Key       string
	MimeType    string
	FileSize    int64
	CreatedAt   time.Time
}

// MessageMedia — связь many-to-many между Message и MediaBlob c порядковой
// позицией внутри альбома. Уникальна по (MessageID, MediaID).
type MessageMedia struct {
	ID        int64
	MessageID int64
	MediaID   int64
	Position  int
}
