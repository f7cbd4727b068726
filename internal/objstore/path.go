// Пакет objstore — контентно-адресуемое объектное хранилище поверх
// S3-совместимого API (self-hosted MinIO). Ключ объекта — функция SHA-256
// содержимого: {hh}/{hh}/{64-hex}[.{ext}], где первые четыре hex-символа
// образуют двухуровневый fanout. Поиск идёт по хэшу, не по имени; объект с
// данным ключом никогда не перезаписывается.
package objstore

import (
	"fmt"
	"mime"
	"strings"
)

// Key строит детерминированный ключ объекта по хэшу и расширению.
// Расширение опционально и добавляется с точкой; hash обязан быть 64-символьным
// SHA-256 hex (проверяется по длине, регистра не меняем — хэши пишем в нижнем).
func Key(hash, ext string) (string, error) {
	if len(hash) != 64 {
		return "", fmt.Errorf("objstore: content hash %q is not sha256 hex", hash)
	}
	key := fmt.Sprintf("%s/%s/%s", hash[0:2], hash[2:4], hash)
	if ext != "" {
		key += "." + strings.TrimPrefix(ext, ".")
	}
	return key, nil
}

// ExtensionForMIME подбирает расширение файла по MIME-типу ответа Telegram.
// Для распространённых типов используется фиксированная таблица: mime.Exts
// платформозависим и для image/jpeg может вернуть ".jpe". Неизвестный тип —
// пустое расширение, ключ остаётся голым хэшем.
func ExtensionForMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	case "audio/mpeg":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "application/pdf":
		return "pdf"
	case "":
		return ""
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return strings.TrimPrefix(exts[0], ".")
}
