// Пакет archiver скачивает медиа сообщений и складывает байты в
// контентно-адресуемое объектное хранилище. Дедупликация по SHA-256:
// совпадающие байты из разных сообщений дают один блоб и одну загрузку.
package archiver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-archiver/internal/domain/model"
	"telegram-archiver/internal/infra/logger"
	"telegram-archiver/internal/objstore"
	"telegram-archiver/internal/store"
	tgclient "telegram-archiver/internal/telegram"
)

// Archiver связывает скачивание из Telegram, объектное хранилище и
// реестр блобов в реляционной базе.
type Archiver struct {
	tg    *tgclient.Client
	obj   *objstore.Store
	media *store.MediaRepo
}

// New создаёт архиватор медиа.
func New(tg *tgclient.Client, obj *objstore.Store, media *store.MediaRepo) *Archiver {
	return &Archiver{tg: tg, obj: obj, media: media}
}

// ArchiveOne скачивает вложение сообщения, хэшируя поток на лету, и
// возвращает id медиа-блоба. Последовательность безопасна к падению между
// загрузкой и вставкой строки: повторный прогон вычислит тот же ключ,
// перезальёт те же байты и упрётся в insert-if-absent.
func (a *Archiver) ArchiveOne(ctx context.Context, msg *tg.Message) (int64, error) {
	media, ok := msg.GetMedia()
	if !ok {
		return 0, errors.New("message has no media")
	}
	info, ok := tgclient.ClassifyMedia(media)
	if !ok || !info.Downloadable {
		return 0, errors.Errorf("media of message %d is not downloadable", msg.ID)
	}

	// Скачиваем во временный файл, попутно считая SHA-256: ключ хранилища
	// известен только после последнего байта.
	tmp, err := os.CreateTemp("", "tgarchive-*")
	if err != nil {
		return 0, errors.Wrap(err, "create temp file")
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	mime, err := a.tg.DownloadMedia(ctx, media, io.MultiWriter(tmp, hasher))
	if err != nil {
		return 0, errors.Wrapf(err, "download message %d", msg.ID)
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrap(err, "temp file size")
	}

	contentHash := hex.EncodeToString(hasher.Sum(nil))
	key, err := objstore.Key(contentHash, objstore.ExtensionForMIME(mime))
	if err != nil {
		return 0, err
	}

	// Уже известный хэш — байты на месте, загрузка не нужна.
	if existing, err := a.media.ByHash(ctx, contentHash); err != nil {
		return 0, err
	} else if existing != nil {
		return existing.ID, nil
	}

	uploaded, err := a.obj.Exists(ctx, key)
	if err != nil {
		return 0, err
	}
	if !uploaded {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return 0, errors.Wrap(err, "rewind temp file")
		}
		if err := a.obj.Put(ctx, key, tmp, size, mime); err != nil {
			return 0, err
		}
	}

	id, existed, err := a.media.InsertIfAbsent(ctx, &model.MediaBlob{
		ContentHash: contentHash,
		S3Key:       key,
		MimeType:    mime,
		FileSize:    size,
	})
	if err != nil {
		return 0, err
	}
	if existed {
		logger.Debugf("archiver: блоб %s уже зарегистрирован, переиспользуем id=%d", contentHash[:12], id)
	}
	return id, nil
}

// ArchiveAlbum применяет ArchiveOne к каждому участнику альбома, сохраняя
// порядок. Падение отдельного участника не валит альбом: он просто выпадает
// из результата, частичный архив валиден.
func (a *Archiver) ArchiveAlbum(ctx context.Context, channel *tg.InputChannel, messageIDs []int64) ([]int64, error) {
	msgs, err := a.tg.FetchMessages(ctx, channel, messageIDs)
	if err != nil {
		return nil, errors.Wrap(err, "fetch album members")
	}

	ids := make([]int64, 0, len(msgs))
	for _, msg := range msgs {
		if _, ok := msg.GetMedia(); !ok {
			continue
		}
		blobID, err := a.ArchiveOne(ctx, msg)
		if err != nil {
			logger.Warnf("archiver: участник альбома %d пропущен: %v", msg.ID, err)
			continue
		}
		ids = append(ids, blobID)
	}
	return ids, nil
}
