package worker

import (
	"sync/atomic"

	"go.uber.org/zap"

	"telegram-archiver/internal/infra/logger"
)

// Metrics — счётчики воркера. Атомарные: инкременты идут из горутины цикла,
// снимки — из репортёра.
type Metrics struct {
	Processed     atomic.Int64
	Phantom       atomic.Int64
	Duplicates    atomic.Int64
	Translated    atomic.Int64
	MediaArchived atomic.Int64
	Retried       atomic.Int64
	DeadLettered  atomic.Int64
	Panics        atomic.Int64
}

// Report пишет текущий снимок счётчиков в лог.
func (m *Metrics) Report(consumer string) {
	logger.Logger().Info("worker metrics",
		zap.String("consumer", consumer),
		zap.Int64("processed", m.Processed.Load()),
		zap.Int64("phantom", m.Phantom.Load()),
		zap.Int64("duplicates", m.Duplicates.Load()),
		zap.Int64("translated", m.Translated.Load()),
		zap.Int64("media_archived", m.MediaArchived.Load()),
		zap.Int64("retried", m.Retried.Load()),
		zap.Int64("dead_lettered", m.DeadLettered.Load()),
		zap.Int64("panics", m.Panics.Load()),
	)
}
