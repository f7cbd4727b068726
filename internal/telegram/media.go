package telegram

import (
	"context"
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"telegram-archiver/internal/domain/model"
)

// MediaInfo — классификация вложения сообщения.
type MediaInfo struct {
	Type model.MediaType
	MIME string
	// Size известен только для документов; для фото 0 (размер узнаём при скачивании).
	Size int64
	// Downloadable: webpage-превью не скачиваются, это не наши байты.
	Downloadable bool
}

// ClassifyMedia определяет тип и MIME вложения. ok=false — вложения нет.
func ClassifyMedia(media tg.MessageMediaClass) (MediaInfo, bool) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		if _, ok := m.Photo.(*tg.Photo); !ok {
			return MediaInfo{}, false
		}
		return MediaInfo{Type: model.MediaPhoto, MIME: "image/jpeg", Downloadable: true}, true

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return MediaInfo{}, false
		}
		info := MediaInfo{MIME: doc.MimeType, Size: doc.Size, Downloadable: true}
		switch {
		case strings.HasPrefix(doc.MimeType, "video/"):
			info.Type = model.MediaVideo
		case strings.HasPrefix(doc.MimeType, "audio/"):
			info.Type = model.MediaAudio
		default:
			info.Type = model.MediaDocument
		}
		return info, true

	case *tg.MessageMediaWebPage:
		return MediaInfo{Type: model.MediaWebPage, Downloadable: false}, true
	}
	return MediaInfo{}, false
}

// MessageMediaType возвращает тип вложения сообщения для записи потока.
func MessageMediaType(msg *tg.Message) model.MediaType {
	media, ok := msg.GetMedia()
	if !ok {
		return model.MediaNone
	}
	info, ok := ClassifyMedia(media)
	if !ok {
		return model.MediaNone
	}
	return info.Type
}

// DownloadMedia потоково скачивает байты вложения в w и возвращает MIME.
// Фото качается в максимальном доступном размере.
func (c *Client) DownloadMedia(ctx context.Context, media tg.MessageMediaClass, w io.Writer) (string, error) {
	info, ok := ClassifyMedia(media)
	if !ok || !info.Downloadable {
		return "", errors.New("media is not downloadable")
	}

	loc, err := fileLocation(media)
	if err != nil {
		return "", err
	}

	if _, err := downloader.NewDownloader().Download(c.api, loc).Stream(ctx, w); err != nil {
		return "", errors.Wrap(err, "download media")
	}
	return info.MIME, nil
}

func fileLocation(media tg.MessageMediaClass) (tg.InputFileLocationClass, error) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, errors.New("empty photo")
		}
		thumb := largestPhotoSize(photo.Sizes)
		if thumb == "" {
			return nil, errors.New("photo has no downloadable sizes")
		}
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumb,
		}, nil

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, errors.New("empty document")
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, nil
	}
	return nil, errors.Errorf("unsupported media %T", media)
}

// largestPhotoSize выбирает тип самого крупного варианта фото.
func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	best := ""
	bestArea := 0
	for _, s := range sizes {
		switch sz := s.(type) {
		case *tg.PhotoSize:
			if area := sz.W * sz.H; area > bestArea {
				bestArea = area
				best = sz.Type
			}
		case *tg.PhotoSizeProgressive:
			if area := sz.W * sz.H; area > bestArea {
				bestArea = area
				best = sz.Type
			}
		}
	}
	return best
}
