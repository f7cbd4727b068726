package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// StreamEntry — транспортная форма одного логического поста (одиночное
// сообщение или собранный альбом) в брокере. Живёт в стриме до подтверждения.
// Все поля сериализуются в плоскую карту строк: так запись читается любым
// потребителем без схемы, а XADD не требует вложенных структур.
type StreamEntry struct {
	MessageID  int64
	ChannelID  int64
	Content    string
	MediaType  MediaType
	MediaURL   string
	Date       time.Time
	IngestedAt time.Time

	GroupedID       int64
	MediaCount      int
	AlbumMessageIDs []int64

	Views    int
	Forwards int

	AuthorUserID         int64
	RepliedToMessageID   int64
	ForwardFromChannelID int64
	ForwardFromMessageID int64
	ForwardDate          time.Time
	HasComments          bool
	CommentsCount        int
	LinkedChatID         int64

	SourceAccount string
	IsBackfilled  bool
	TraceID       string
}

// NewTraceID возвращает короткий непрозрачный идентификатор для сквозной
// корреляции логов между сервисами.
func NewTraceID() string {
	return uuid.NewString()[:8]
}

// ToMap сериализует запись в плоскую карту для XADD. Все значения — строки;
// album_message_ids кодируется JSON-массивом, даты — RFC3339.
func (e *StreamEntry) ToMap() map[string]any {
	album := "[]"
	if len(e.AlbumMessageIDs) > 0 {
		if b, err := json.Marshal(e.AlbumMessageIDs); err == nil {
			album = string(b)
		}
	}

	forwardDate := ""
	if !e.ForwardDate.IsZero() {
		forwardDate = e.ForwardDate.UTC().Format(time.RFC3339)
	}

	return map[string]any{
		"message_id":               strconv.FormatInt(e.MessageID, 10),
		"channel_id":               strconv.FormatInt(e.ChannelID, 10),
		"content":                  e.Content,
		"media_type":               string(e.MediaType),
		"media_url":                e.MediaURL,
		"telegram_date":            e.Date.UTC().Format(time.RFC3339),
		"ingested_at":              e.IngestedAt.UTC().Format(time.RFC3339),
		"grouped_id":               strconv.FormatInt(e.GroupedID, 10),
		"media_count":              strconv.Itoa(e.MediaCount),
		"album_message_ids":        album,
		"views":                    strconv.Itoa(e.Views),
		"forwards":                 strconv.Itoa(e.Forwards),
		"author_user_id":           strconv.FormatInt(e.AuthorUserID, 10),
		"replied_to_message_id":    strconv.FormatInt(e.RepliedToMessageID, 10),
		"forward_from_channel_id":  strconv.FormatInt(e.ForwardFromChannelID, 10),
		"forward_from_message_id":  strconv.FormatInt(e.ForwardFromMessageID, 10),
		"forward_date":             forwardDate,
		"has_comments":             strconv.FormatBool(e.HasComments),
		"comments_count":           strconv.Itoa(e.CommentsCount),
		"linked_chat_id":           strconv.FormatInt(e.LinkedChatID, 10),
		"source_account":           e.SourceAccount,
		"is_backfilled":            strconv.FormatBool(e.IsBackfilled),
		"trace_id":                 e.TraceID,
	}
}

// EntryFromMap восстанавливает StreamEntry из плоской карты брокера.
// Отсутствующие или пустые поля остаются нулевыми; нечитаемые message_id или
// channel_id — ошибка: без них запись не адресуема.
func EntryFromMap(values map[string]any) (*StreamEntry, error) {
	get := func(key string) string {
		if v, ok := values[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	msgID, err := strconv.ParseInt(get("message_id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stream entry: bad message_id %q: %w", get("message_id"), err)
	}
	chanID, err := strconv.ParseInt(get("channel_id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stream entry: bad channel_id %q: %w", get("channel_id"), err)
	}

	e := &StreamEntry{
		MessageID:            msgID,
		ChannelID:            chanID,
		Content:              get("content"),
		MediaType:            MediaType(get("media_type")),
		MediaURL:             get("media_url"),
		GroupedID:            parseInt64(get("grouped_id")),
		MediaCount:           parseInt(get("media_count")),
		Views:                parseInt(get("views")),
		Forwards:             parseInt(get("forwards")),
		AuthorUserID:         parseInt64(get("author_user_id")),
		RepliedToMessageID:   parseInt64(get("replied_to_message_id")),
		ForwardFromChannelID: parseInt64(get("forward_from_channel_id")),
		ForwardFromMessageID: parseInt64(get("forward_from_message_id")),
		HasComments:          get("has_comments") == "true",
		CommentsCount:        parseInt(get("comments_count")),
		LinkedChatID:         parseInt64(get("linked_chat_id")),
		SourceAccount:        get("source_account"),
		IsBackfilled:         get("is_backfilled") == "true",
		TraceID:              get("trace_id"),
	}

	if raw := get("album_message_ids"); raw != "" && raw != "[]" {
		if jsonErr := json.Unmarshal([]byte(raw), &e.AlbumMessageIDs); jsonErr != nil {
			return nil, fmt.Errorf("stream entry: bad album_message_ids %q: %w", raw, jsonErr)
		}
	}
	if t, parseErr := time.Parse(time.RFC3339, get("telegram_date")); parseErr == nil {
		e.Date = t
	}
	if t, parseErr := time.Parse(time.RFC3339, get("ingested_at")); parseErr == nil {
		e.IngestedAt = t
	}
	if raw := get("forward_date"); raw != "" {
		if t, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
			e.ForwardDate = t
		}
	}
	return e, nil
}

// HasMedia сообщает, несёт ли запись хотя бы одно вложение.
func (e *StreamEntry) HasMedia() bool {
	return e.MediaType != MediaNone && e.MediaType != MediaWebPage
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
