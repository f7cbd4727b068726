// Пакет backfill выкачивает историю каналов, поставленных в очередь
// дискавери или детектором дыр, и кладёт её в backfill-поток брокера.
// Обход идёт oldest-first: порядок в хранилище совпадает с порядком публикации.
package backfill

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-archiver/internal/broker"
	"telegram-archiver/internal/domain/model"
	"telegram-archiver/internal/infra/logger"
	"telegram-archiver/internal/ingest"
	tgclient "telegram-archiver/internal/telegram"
)

const (
	// Период опроса очереди каналов, ожидающих бэкфилла.
	defaultPollInterval = 30 * time.Second
	// Частота сохранения промежуточного счётчика в хранилище.
	checkpointEvery = 100
	// Сколько каналов берётся в работу за один опрос очереди.
	pendingPerPoll = 5
)

// historySource — часть Telegram-клиента, нужная бэкфиллу.
type historySource interface {
	IterHistory(ctx context.Context, channel *tg.InputChannel, from time.Time, batch int, fn func(*tg.Message) error) error
}

// publisher — часть брокера, нужная бэкфиллу.
type publisher interface {
	Publish(ctx context.Context, stream string, values map[string]any) (string, error)
}

// channelQueue — операции хранилища над жизненным циклом бэкфилла канала.
type channelQueue interface {
	PendingBackfill(ctx context.Context, limit int) ([]*model.Channel, error)
	MarkBackfillInProgress(ctx context.Context, channelID int64) error
	MarkBackfillCompleted(ctx context.Context, channelID int64, fetched int) error
	MarkBackfillPaused(ctx context.Context, channelID int64, reason string) error
	MarkBackfillFailed(ctx context.Context, channelID int64, reason string) error
	MarkBackfillPending(ctx context.Context, channelID int64, from time.Time) error
	CheckpointBackfill(ctx context.Context, channelID int64, fetched int) error
}

// resumeSource — поиск точки возобновления по уже выкачанным сообщениям.
type resumeSource interface {
	LastBackfilledDate(ctx context.Context, channelID int64) (time.Time, bool, error)
}

// Options — параметры темпа бэкфилла.
type Options struct {
	SourceAccount string
	// StartDate — глобальная точка старта, если у канала нет своей.
	StartDate time.Time
	// BatchSize — размер страницы истории; после каждых BatchSize сообщений
	// раннер спит Delay, размазывая нагрузку на API.
	BatchSize    int
	Delay        time.Duration
	PollInterval time.Duration
}

// Runner последовательно выкачивает историю каналов из очереди. Один канал
// за раз: бэкфилл делит бюджет запросов с живым слушателем той же сессии.
type Runner struct {
	tg       historySource
	pub      publisher
	channels channelQueue
	messages resumeSource
	opts     Options
}

// New собирает раннер бэкфилла.
func New(tg historySource, pub publisher, channels channelQueue, messages resumeSource, opts Options) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Runner{tg: tg, pub: pub, channels: channels, messages: messages, opts: opts}
}

// Run опрашивает очередь и обрабатывает ожидающие каналы до отмены контекста.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.RunPending(ctx); err != nil {
			logger.Warnf("backfill: обработка очереди: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunPending берёт из очереди порцию каналов и выкачивает их по одному.
func (r *Runner) RunPending(ctx context.Context) error {
	pending, err := r.channels.PendingBackfill(ctx, pendingPerPoll)
	if err != nil {
		return errors.Wrap(err, "load pending channels")
	}

	for _, ch := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.BackfillChannel(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// BackfillChannel выкачивает историю одного канала от точки возобновления.
// FLOOD_WAIT ставит канал на паузу до вмешательства оператора; отмена
// контекста возвращает канал в очередь, прогресс сохраняется чекпоинтами.
func (r *Runner) BackfillChannel(ctx context.Context, ch *model.Channel) error {
	from, err := r.resumePoint(ctx, ch)
	if err != nil {
		return err
	}
	if err := r.channels.MarkBackfillInProgress(ctx, ch.ID); err != nil {
		return err
	}
	logger.Infof("backfill: канал %d (%s), история с %s",
		ch.TelegramID, ch.Name, from.Format(time.RFC3339))

	input := tgclient.InputChannel(ch.TelegramID, ch.AccessHash)
	walk := &historyWalk{runner: r, channel: ch, ctx: ctx}

	iterErr := r.tg.IterHistory(ctx, input, from, r.opts.BatchSize, walk.visit)
	if iterErr == nil {
		iterErr = walk.flushAlbum(ctx)
	}

	if iterErr != nil {
		return r.settle(ctx, ch, from, iterErr)
	}

	if err := r.channels.MarkBackfillCompleted(ctx, ch.ID, walk.fetched); err != nil {
		return err
	}
	logger.Infof("backfill: канал %d завершён, выкачано %d сообщений", ch.TelegramID, walk.fetched)
	return nil
}

// settle разбирает ошибку обхода: flood wait — пауза, отмена — возврат в
// очередь, остальное — отказ с сохранением причины. Статус пишется в обход
// отменённого контекста, иначе прогресс потеряется.
func (r *Runner) settle(ctx context.Context, ch *model.Channel, from time.Time, iterErr error) error {
	bg := context.WithoutCancel(ctx)

	if wait, ok := tgclient.AsFloodWait(iterErr); ok {
		reason := errors.Wrapf(iterErr, "flood wait %s", wait).Error()
		if err := r.channels.MarkBackfillPaused(bg, ch.ID, reason); err != nil {
			return err
		}
		logger.Warnf("backfill: канал %d поставлен на паузу: %s", ch.TelegramID, reason)
		return nil
	}

	if errors.Is(iterErr, context.Canceled) || errors.Is(iterErr, context.DeadlineExceeded) {
		if err := r.channels.MarkBackfillPending(bg, ch.ID, from); err != nil {
			return err
		}
		return iterErr
	}

	if err := r.channels.MarkBackfillFailed(bg, ch.ID, iterErr.Error()); err != nil {
		return err
	}
	logger.Errorf("backfill: канал %d: %v", ch.TelegramID, iterErr)
	return nil
}

// resumePoint выбирает точку старта. Вотермарка уже выкачанных сообщений
// возобновляет прерванный проход, но дата канала может быть свежее: детектор
// дыр ставит from позади last_message_at, сильно впереди исторического
// бэкфилла. Побеждает поздняя из двух, иначе каждый гэп-цикл заново шёл бы
// всю историю. Пагинация отдаёт сообщения строго новее точки отсчёта,
// поэтому дата последнего сообщения не даёт дублей.
func (r *Runner) resumePoint(ctx context.Context, ch *model.Channel) (time.Time, error) {
	last, ok, err := r.messages.LastBackfilledDate(ctx, ch.ID)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "resume point")
	}
	var chanFrom time.Time
	if ch.BackfillFromDate != nil {
		chanFrom = *ch.BackfillFromDate
	}
	if ok {
		if chanFrom.After(last) {
			return chanFrom, nil
		}
		return last, nil
	}
	if !chanFrom.IsZero() {
		return chanFrom, nil
	}
	if !r.opts.StartDate.IsZero() {
		return r.opts.StartDate, nil
	}
	// Вся история: точка отсчёта раньше любого сообщения.
	return time.Unix(1, 0), nil
}

// historyWalk — состояние обхода одного канала: буфер текущего альбома и
// счётчик опубликованных записей.
type historyWalk struct {
	runner  *Runner
	channel *model.Channel

	albumGID     int64
	albumMembers []*tg.Message
	fetched      int
	// IterHistory не передаёт контекст в колбэк; раннер кладёт его сюда.
	ctx context.Context
}

// visit обрабатывает очередное сообщение хронологического обхода. История
// отсортирована, участники альбома идут подряд: смена grouped-id или одиночное
// сообщение закрывают накопленный альбом.
func (w *historyWalk) visit(msg *tg.Message) error {
	ctx := w.ctx

	gid, grouped := msg.GetGroupedID()
	if grouped {
		if w.albumGID != gid {
			if err := w.flushAlbum(ctx); err != nil {
				return err
			}
			w.albumGID = gid
		}
		w.albumMembers = append(w.albumMembers, msg)
		return nil
	}

	if err := w.flushAlbum(ctx); err != nil {
		return err
	}
	return w.publish(ctx, ingest.EntryFromMessage(w.channel, msg, w.runner.opts.SourceAccount))
}

// flushAlbum публикует накопленный альбом одной записью.
func (w *historyWalk) flushAlbum(ctx context.Context) error {
	if len(w.albumMembers) == 0 {
		return nil
	}
	entry := ingest.EntryFromAlbum(w.channel, w.albumMembers, w.runner.opts.SourceAccount)
	w.albumGID = 0
	w.albumMembers = nil
	return w.publish(ctx, entry)
}

func (w *historyWalk) publish(ctx context.Context, entry *model.StreamEntry) error {
	entry.IsBackfilled = true
	if _, err := w.runner.pub.Publish(ctx, broker.StreamBackfill, entry.ToMap()); err != nil {
		return errors.Wrapf(err, "publish message %d", entry.MessageID)
	}
	w.fetched++

	if w.fetched%checkpointEvery == 0 {
		if err := w.runner.channels.CheckpointBackfill(ctx, w.channel.ID, w.fetched); err != nil {
			logger.Warnf("backfill: чекпоинт канала %d: %v", w.channel.TelegramID, err)
		}
	}
	if w.runner.opts.Delay > 0 && w.fetched%w.runner.opts.BatchSize == 0 {
		if err := sleepCtx(ctx, w.runner.opts.Delay); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
