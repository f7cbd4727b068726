package telegram

import (
	"time"

	"github.com/gotd/td/tgerr"
)

// AsFloodWait извлекает из ошибки длительность FLOOD_WAIT.
// ok=false — ошибка не про рейт-лимит.
func AsFloodWait(err error) (time.Duration, bool) {
	return tgerr.AsFloodWait(err)
}

// FloodWaitExtractor — экстрактор ожидания для throttle.Do: серверное
// FLOOD_WAIT важнее экспоненциального бэкоффа.
func FloodWaitExtractor(err error) (time.Duration, bool) {
	return tgerr.AsFloodWait(err)
}
