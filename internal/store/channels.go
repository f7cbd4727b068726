package store

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-archiver/internal/domain/model"
)

// ErrChannelNotFound — канала нет в хранилище. Для воркера это фатальная
// ошибка записи (кандидат в DLQ с первой попытки).
var ErrChannelNotFound = errors.New("channel not found")

// ChannelRepo — операции над таблицей channels.
type ChannelRepo struct {
	pool *pgxpool.Pool
}

const channelColumns = `id, telegram_id, access_hash, username, name, description,
	folder, rule, active, removed_at, source_account,
	backfill_status, backfill_from_date, backfill_messages_fetched,
	backfill_completed_at, backfill_error, last_message_at, created_at, updated_at`

func scanChannel(row pgx.Row) (*model.Channel, error) {
	var c model.Channel
	err := row.Scan(
		&c.ID, &c.TelegramID, &c.AccessHash, &c.Username, &c.Name, &c.Desc,
		&c.Folder, &c.Rule, &c.Active, &c.RemovedAt, &c.SourceAccount,
		&c.BackfillStatus, &c.BackfillFromDate, &c.BackfillFetched,
		&c.BackfillCompletedAt, &c.BackfillError, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, errors.Wrap(err, "scan channel")
	}
	return &c, nil
}

// ByTelegramID возвращает канал по telegram id (включая неактивные: сообщения
// ранее отслеживавшихся каналов всё ещё валидны).
func (r *ChannelRepo) ByTelegramID(ctx context.Context, telegramID int64) (*model.Channel, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE telegram_id = $1`, telegramID)
	return scanChannel(row)
}

// Active возвращает все активные каналы — рабочий набор слушателя.
func (r *ChannelRepo) Active(ctx context.Context) ([]*model.Channel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE active ORDER BY telegram_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query active channels")
	}
	defer rows.Close()

	var out []*model.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReconcileOptions — параметры цикла сверки папки.
type ReconcileOptions struct {
	SourceAccount string
	Rule          model.Rule
	// BackfillOnDiscovery переводит новые каналы в pending сразу при вставке.
	BackfillOnDiscovery bool
	BackfillFrom        time.Time
}

// Reconcile приводит множество активных каналов к содержимому папки одной
// транзакцией: все активные гасятся, кандидаты upsert-ятся обратно в active,
// осиротевшие строки получают штамп removed_at. Канал, вернувшийся в папку,
// реактивируется с очисткой removed_at.
func (r *ChannelRepo) Reconcile(ctx context.Context, candidates []model.ChannelCandidate, opts ReconcileOptions) (model.ReconcileStats, error) {
	var stats model.ReconcileStats

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "begin reconcile")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE channels SET active = FALSE, updated_at = now() WHERE active`); err != nil {
		return stats, errors.Wrap(err, "deactivate all")
	}

	initialStatus := model.BackfillNone
	if opts.BackfillOnDiscovery {
		initialStatus = model.BackfillPending
	}

	for _, cand := range candidates {
		var inserted bool
		// xmax = 0 отличает свежую вставку от обновления по конфликту.
		err := tx.QueryRow(ctx, `
			INSERT INTO channels (
				telegram_id, access_hash, username, name, description, folder,
				rule, active, removed_at, source_account,
				backfill_status, backfill_from_date
			) VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NULL, $8, $9, $10)
			ON CONFLICT (telegram_id) DO UPDATE SET
				access_hash = EXCLUDED.access_hash,
				username    = EXCLUDED.username,
				name        = EXCLUDED.name,
				description = EXCLUDED.description,
				folder      = EXCLUDED.folder,
				active      = TRUE,
				removed_at  = NULL,
				updated_at  = now()
			RETURNING (xmax = 0)`,
			cand.TelegramID, cand.AccessHash, cand.Username, cand.Name, cand.Desc,
			cand.Folder, opts.Rule, opts.SourceAccount, initialStatus, nullTime(opts.BackfillFrom),
		).Scan(&inserted)
		if err != nil {
			return stats, errors.Wrapf(err, "upsert channel %d", cand.TelegramID)
		}
		if inserted {
			stats.Added++
		} else {
			stats.Updated++
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE channels SET removed_at = now(), updated_at = now()
		 WHERE NOT active AND removed_at IS NULL`)
	if err != nil {
		return stats, errors.Wrap(err, "stamp removed")
	}
	stats.Removed = int(tag.RowsAffected())

	if err := tx.QueryRow(ctx, `SELECT count(*) FROM channels WHERE active`).Scan(&stats.TotalActive); err != nil {
		return stats, errors.Wrap(err, "count active")
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, errors.Wrap(err, "commit reconcile")
	}
	return stats, nil
}

// MarkBackfillPending ставит канал в очередь бэкфилла с указанной начальной даты.
func (r *ChannelRepo) MarkBackfillPending(ctx context.Context, channelID int64, from time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET backfill_status = $2, backfill_from_date = $3,
			backfill_error = '', updated_at = now()
		WHERE id = $1`,
		channelID, model.BackfillPending, nullTime(from))
	return errors.Wrap(err, "mark backfill pending")
}

// MarkBackfillInProgress фиксирует взятие канала в работу.
func (r *ChannelRepo) MarkBackfillInProgress(ctx context.Context, channelID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET backfill_status = $2, updated_at = now() WHERE id = $1`,
		channelID, model.BackfillInProgress)
	return errors.Wrap(err, "mark backfill in_progress")
}

// MarkBackfillCompleted завершает бэкфилл с итоговым счётчиком сообщений.
func (r *ChannelRepo) MarkBackfillCompleted(ctx context.Context, channelID int64, fetched int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET backfill_status = $2, backfill_messages_fetched = $3,
			backfill_completed_at = now(), backfill_error = '', updated_at = now()
		WHERE id = $1`,
		channelID, model.BackfillCompleted, fetched)
	return errors.Wrap(err, "mark backfill completed")
}

// MarkBackfillPaused останавливает бэкфилл по FLOOD_WAIT; причина сохраняется
// для оператора.
func (r *ChannelRepo) MarkBackfillPaused(ctx context.Context, channelID int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET backfill_status = $2, backfill_error = $3, updated_at = now()
		WHERE id = $1`,
		channelID, model.BackfillPaused, reason)
	return errors.Wrap(err, "mark backfill paused")
}

// MarkBackfillFailed фиксирует необработанную ошибку бэкфилла.
func (r *ChannelRepo) MarkBackfillFailed(ctx context.Context, channelID int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET backfill_status = $2, backfill_error = $3, updated_at = now()
		WHERE id = $1`,
		channelID, model.BackfillFailed, reason)
	return errors.Wrap(err, "mark backfill failed")
}

// CheckpointBackfill сохраняет промежуточный счётчик выкачанных сообщений.
func (r *ChannelRepo) CheckpointBackfill(ctx context.Context, channelID int64, fetched int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET backfill_messages_fetched = $2, updated_at = now() WHERE id = $1`,
		channelID, fetched)
	return errors.Wrap(err, "checkpoint backfill")
}

// PendingBackfill возвращает каналы, ожидающие бэкфилла, не более limit.
func (r *ChannelRepo) PendingBackfill(ctx context.Context, limit int) ([]*model.Channel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels
		 WHERE active AND backfill_status = $1
		 ORDER BY updated_at LIMIT $2`,
		model.BackfillPending, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query pending backfill")
	}
	defer rows.Close()

	var out []*model.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GapCandidates возвращает активные архивируемые каналы, молчащие дольше
// threshold, не более limit за цикл (ограничение нагрузки на API).
func (r *ChannelRepo) GapCandidates(ctx context.Context, threshold time.Duration, limit int) ([]*model.Channel, error) {
	cutoff := time.Now().Add(-threshold)
	rows, err := r.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels
		 WHERE active AND rule = $1
		   AND backfill_status IN ($2, $3)
		   AND last_message_at IS NOT NULL AND last_message_at < $4
		 ORDER BY last_message_at LIMIT $5`,
		model.RuleArchiveAll, model.BackfillNone, model.BackfillCompleted, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query gap candidates")
	}
	defer rows.Close()

	var out []*model.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AdvanceLastMessageAt двигает отметку последнего сообщения только вперёд.
func (r *ChannelRepo) AdvanceLastMessageAt(ctx context.Context, channelID int64, ts time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET last_message_at = GREATEST(COALESCE(last_message_at, $2), $2),
			updated_at = now()
		WHERE id = $1`,
		channelID, ts.UTC())
	return errors.Wrap(err, "advance last_message_at")
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
