// Пакет discovery держит множество отслеживаемых каналов синхронным с
// Telegram-папкой: периодически читает include-список папки, сверяет его с
// хранилищем и ставит новые каналы в очередь бэкфилла.
package discovery

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"telegram-archiver/internal/domain/model"
	"telegram-archiver/internal/infra/logger"
	"telegram-archiver/internal/store"
	tgclient "telegram-archiver/internal/telegram"
)

// folderSource — часть Telegram-клиента, нужная дискавери.
type folderSource interface {
	FindFolder(ctx context.Context, title string) (tgclient.Folder, bool, error)
	ChannelCandidates(ctx context.Context, folder tgclient.Folder) ([]model.ChannelCandidate, error)
}

// channelStore — часть репозитория каналов, нужная дискавери.
type channelStore interface {
	Reconcile(ctx context.Context, candidates []model.ChannelCandidate, opts store.ReconcileOptions) (model.ReconcileStats, error)
	GapCandidates(ctx context.Context, threshold time.Duration, limit int) ([]*model.Channel, error)
	MarkBackfillPending(ctx context.Context, channelID int64, from time.Time) error
}

// Options — параметры циклов дискавери и детектора дыр.
type Options struct {
	FolderPattern string
	SourceAccount string
	Interval      time.Duration

	// BackfillOnDiscovery переводит новые каналы в очередь бэкфилла сразу.
	BackfillOnDiscovery bool
	BackfillFrom        time.Time

	GapDetection   bool
	GapThreshold   time.Duration
	GapInterval    time.Duration
	GapMaxChannels int
}

// Discovery — периодическая сверка папки с хранилищем.
type Discovery struct {
	tg    folderSource
	store channelStore
	opts  Options

	// onReconciled дёргается после успешной сверки (обновление рабочего
	// набора слушателя, не дожидаясь его собственного тикера).
	onReconciled func(ctx context.Context)
}

// New собирает дискавери. notify может быть nil.
func New(tg folderSource, st channelStore, opts Options, notify func(ctx context.Context)) *Discovery {
	return &Discovery{tg: tg, store: st, opts: opts, onReconciled: notify}
}

// Run крутит циклы сверки и детекции дыр до отмены контекста. Первая сверка
// выполняется сразу: слушателю нужен рабочий набор с первых секунд.
func (d *Discovery) Run(ctx context.Context) error {
	if err := d.DiscoverOnce(ctx); err != nil {
		logger.Warnf("discovery: первый цикл сверки: %v", err)
	}

	discoverTicker := time.NewTicker(d.opts.Interval)
	defer discoverTicker.Stop()

	// nil-канал в select блокируется навсегда: выключенная детекция дыр
	// просто не тикает.
	var gapCh <-chan time.Time
	if d.opts.GapDetection {
		gapTicker := time.NewTicker(d.opts.GapInterval)
		defer gapTicker.Stop()
		gapCh = gapTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-discoverTicker.C:
			if err := d.DiscoverOnce(ctx); err != nil {
				logger.Warnf("discovery: цикл сверки: %v", err)
			}
		case <-gapCh:
			if err := d.CheckGaps(ctx); err != nil {
				logger.Warnf("discovery: детекция дыр: %v", err)
			}
		}
	}
}

// DiscoverOnce выполняет один цикл сверки: папка → кандидаты → хранилище.
// Отсутствие папки — не ошибка: набор остаётся прежним до её появления.
// FLOOD_WAIT прерывает цикл целиком; следующий тикер попробует заново.
func (d *Discovery) DiscoverOnce(ctx context.Context) error {
	folder, found, err := d.tg.FindFolder(ctx, d.opts.FolderPattern)
	if err != nil {
		if wait, ok := tgclient.AsFloodWait(err); ok {
			return errors.Errorf("flood wait %s while listing folders", wait)
		}
		return errors.Wrap(err, "find folder")
	}
	if !found {
		logger.Warnf("discovery: папка %q не найдена, сверка пропущена", d.opts.FolderPattern)
		return nil
	}

	candidates, err := d.tg.ChannelCandidates(ctx, folder)
	if err != nil {
		if wait, ok := tgclient.AsFloodWait(err); ok {
			return errors.Errorf("flood wait %s while resolving folder peers", wait)
		}
		return errors.Wrap(err, "resolve folder peers")
	}
	candidates = dedupeCandidates(candidates)

	stats, err := d.store.Reconcile(ctx, candidates, store.ReconcileOptions{
		SourceAccount:       d.opts.SourceAccount,
		Rule:                model.RuleArchiveAll,
		BackfillOnDiscovery: d.opts.BackfillOnDiscovery,
		BackfillFrom:        d.opts.BackfillFrom,
	})
	if err != nil {
		return errors.Wrap(err, "reconcile channels")
	}

	logger.Infof("discovery: папка %q сверена: +%d ~%d -%d, активно %d",
		folder.Title, stats.Added, stats.Updated, stats.Removed, stats.TotalActive)

	if d.onReconciled != nil {
		d.onReconciled(ctx)
	}
	return nil
}

// dedupeCandidates убирает дубли по telegram id; при повторе побеждает
// последний дескриптор (у него самые свежие access_hash и название).
func dedupeCandidates(in []model.ChannelCandidate) []model.ChannelCandidate {
	index := make(map[int64]int, len(in))
	out := make([]model.ChannelCandidate, 0, len(in))
	for _, cand := range in {
		if i, ok := index[cand.TelegramID]; ok {
			out[i] = cand
			continue
		}
		index[cand.TelegramID] = len(out)
		out = append(out, cand)
	}
	return out
}
