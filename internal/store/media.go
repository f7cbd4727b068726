package store

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-archiver/internal/domain/model"
)

// MediaRepo — операции над таблицей media_files.
type MediaRepo struct {
	pool *pgxpool.Pool
}

// InsertIfAbsent регистрирует блоб по контентному хэшу. existed=true — блоб с
// таким хэшем уже был, загрузку байтов можно пропустить. Безопасно к падению
// между загрузкой и вставкой: повторный прогон даёт тот же ключ и тот же id.
func (r *MediaRepo) InsertIfAbsent(ctx context.Context, blob *model.MediaBlob) (id int64, existed bool, err error) {
	err = r.pool.QueryRow(ctx, `
		INSERT INTO media_files (content_hash, s3_key, mime_type, file_size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id`,
		blob.ContentHash, blob.S3Key, blob.MimeType, blob.FileSize).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, errors.Wrap(err, "insert media blob")
	}

	err = r.pool.QueryRow(ctx,
		`SELECT id FROM media_files WHERE content_hash = $1`, blob.ContentHash).Scan(&id)
	if err != nil {
		return 0, false, errors.Wrap(err, "select media blob")
	}
	return id, true, nil
}

// ByHash возвращает блоб по контентному хэшу; nil без ошибки — блоба нет.
func (r *MediaRepo) ByHash(ctx context.Context, contentHash string) (*model.MediaBlob, error) {
	var b model.MediaBlob
	err := r.pool.QueryRow(ctx, `
		SELECT id, content_hash, s3_key, mime_type, file_size, created_at
		FROM media_files WHERE content_hash = $1`,
		contentHash).Scan(&b.ID, &b.ContentHash, &b.S3Key, &b.MimeType, &b.FileSize, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "media by hash")
	}
	return &b, nil
}
