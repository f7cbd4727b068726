package store

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-archiver/internal/domain/model"
)

// MessageRepo — операции над таблицами messages и message_media.
type MessageRepo struct {
	pool *pgxpool.Pool
}

// PersistResult — итог идемпотентной записи сообщения.
type PersistResult struct {
	MessageID int64
	// Inserted false означает, что строка уже существовала: связи медиа не
	// трогались, транзакция совершила ноль новых записей.
	Inserted bool
}

// Persist записывает сообщение и связи с медиа-блобами одной транзакцией.
// Вставка insert-if-absent по (channel_id, telegram_message_id): повторная
// доставка той же записи возвращает существующий id без побочных эффектов.
// Отметка последнего сообщения канала двигается вперёд в той же транзакции.
func (r *MessageRepo) Persist(ctx context.Context, m *model.Message, mediaIDs []int64) (PersistResult, error) {
	var res PersistResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, errors.Wrap(err, "begin persist")
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (
			channel_id, telegram_message_id, content,
			content_translated, language_detected, translation_provider,
			translation_cost_usd, translation_timestamp,
			telegram_date, views, forwards, grouped_id, media_type, entities,
			author_user_id, replied_to_message_id,
			forward_from_channel_id, forward_from_message_id, forward_date,
			has_comments, comments_count, linked_chat_id,
			content_hash, metadata_hash, hash_algorithm, hash_version, hash_generated_at,
			is_backfilled
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
		)
		ON CONFLICT (channel_id, telegram_message_id) DO NOTHING
		RETURNING id`,
		m.ChannelID, m.TelegramMessageID, m.Content,
		emptyNull(m.ContentTranslated), emptyNull(m.LanguageDetected), emptyNull(m.TranslationProv),
		m.TranslationCost, m.TranslationAt,
		m.TelegramDate.UTC(), m.Views, m.Forwards, m.GroupedID, string(m.MediaType), m.Entities,
		m.AuthorUserID, m.RepliedToMessageID,
		m.ForwardFromChannelID, m.ForwardFromMessageID, m.ForwardDate,
		m.HasComments, m.CommentsCount, m.LinkedChatID,
		m.ContentHash, m.MetadataHash, m.HashAlgorithm, m.HashVersion, m.HashAt,
		m.IsBackfilled,
	).Scan(&res.MessageID)

	switch {
	case err == nil:
		res.Inserted = true
	case errors.Is(err, pgx.ErrNoRows):
		// Конфликт: строка уже есть, забираем её id.
		err = tx.QueryRow(ctx,
			`SELECT id FROM messages WHERE channel_id = $1 AND telegram_message_id = $2`,
			m.ChannelID, m.TelegramMessageID).Scan(&res.MessageID)
		if err != nil {
			return res, errors.Wrap(err, "select existing message")
		}
	default:
		return res, errors.Wrap(err, "insert message")
	}

	if res.Inserted {
		for pos, mediaID := range mediaIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO message_media (message_id, media_id, position)
				VALUES ($1, $2, $3)
				ON CONFLICT (message_id, media_id) DO NOTHING`,
				res.MessageID, mediaID, pos); err != nil {
				return res, errors.Wrapf(err, "link media %d", mediaID)
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE channels SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2),
				updated_at = now()
			WHERE id = $1`,
			m.ChannelID, m.TelegramDate.UTC()); err != nil {
			return res, errors.Wrap(err, "advance channel watermark")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, errors.Wrap(err, "commit persist")
	}
	return res, nil
}

// UpdateEngagement обновляет счётчики просмотров/пересылок. Контентные поля
// неизменяемы, поэтому счётчики — единственное живое в старых строках.
func (r *MessageRepo) UpdateEngagement(ctx context.Context, channelID, telegramMessageID int64, views, forwards int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET views = GREATEST(views, $3), forwards = GREATEST(forwards, $4),
			updated_at = now()
		WHERE channel_id = $1 AND telegram_message_id = $2`,
		channelID, telegramMessageID, views, forwards)
	return errors.Wrap(err, "update engagement")
}

// SetTranslation дописывает перевод и его метаданные к существующей строке.
func (r *MessageRepo) SetTranslation(ctx context.Context, messageID int64, translated, lang, provider string, costUSD float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET content_translated = $2, language_detected = $3,
			translation_provider = $4, translation_cost_usd = $5,
			translation_timestamp = now(), updated_at = now()
		WHERE id = $1`,
		messageID, translated, lang, provider, costUSD)
	return errors.Wrap(err, "set translation")
}

// LastBackfilledDate возвращает telegram-дату самого свежего бэкфильного
// сообщения канала. ok=false — бэкфильных сообщений нет.
func (r *MessageRepo) LastBackfilledDate(ctx context.Context, channelID int64) (time.Time, bool, error) {
	var ts time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT telegram_date FROM messages
		WHERE channel_id = $1 AND is_backfilled
		ORDER BY telegram_date DESC LIMIT 1`,
		channelID).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, errors.Wrap(err, "last backfilled date")
	}
	return ts, true, nil
}

// Exists сообщает, записано ли уже сообщение. Дешёвая проверка до полного
// пайплайна: повторная доставка не должна скачивать медиа заново.
func (r *MessageRepo) Exists(ctx context.Context, channelID, telegramMessageID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE channel_id = $1 AND telegram_message_id = $2)`,
		channelID, telegramMessageID).Scan(&exists)
	return exists, errors.Wrap(err, "message exists")
}

func emptyNull(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
