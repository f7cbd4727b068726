package worker

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"telegram-archiver/internal/archiver"
	"telegram-archiver/internal/broker"
	"telegram-archiver/internal/domain/entities"
	"telegram-archiver/internal/domain/hashing"
	"telegram-archiver/internal/domain/model"
	"telegram-archiver/internal/infra/logger"
	"telegram-archiver/internal/store"
	tgclient "telegram-archiver/internal/telegram"
	"telegram-archiver/internal/translate"
)

const (
	// Верхняя граница уважения FLOOD_WAIT внутри цикла: более длинные паузы
	// оставляем авто-переподхвату брокера.
	maxFloodSleep = time.Minute
	// Период отчёта метрик в лог.
	metricsInterval = time.Minute
	// Пауза цикла после ошибки брокера.
	brokerErrorPause = time.Second
)

// Worker — один обработчик записей потока.
type Worker struct {
	broker    *broker.Client
	consumer  *broker.Consumer
	st        *store.Store
	extractor *entities.Extractor
	// translator nil — перевод выключен конфигурацией.
	translator *translate.Translator
	archiver   *archiver.Archiver
	Metrics    Metrics
}

// New собирает воркер из готовых зависимостей; никаких глобальных синглтонов.
func New(br *broker.Client, batchSize int, st *store.Store, arch *archiver.Archiver, translator *translate.Translator) *Worker {
	return &Worker{
		broker:     br,
		consumer:   broker.NewConsumer(br, batchSize),
		st:         st,
		extractor:  entities.New(),
		translator: translator,
		archiver:   arch,
	}
}

// Run крутит приоритетный цикл потребления до отмены контекста.
// Паника при обработке одной записи гасится и считается временной ошибкой —
// цикл переживает любой сбой стадии.
func (w *Worker) Run(ctx context.Context) error {
	w.broker.CleanupConsumers(ctx)

	reportTicker := time.NewTicker(metricsInterval)
	defer reportTicker.Stop()

	logger.Infof("worker %s запущен", w.broker.Consumer())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reportTicker.C:
			w.Metrics.Report(w.broker.Consumer())
		default:
		}

		deliveries, err := w.consumer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("worker: чтение брокера: %v", err)
			sleepCtx(ctx, brokerErrorPause)
			continue
		}

		for _, d := range deliveries {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome := w.processSafe(ctx, d)
			w.settle(ctx, d, outcome)
			if wait := outcome.Wait(); wait > 0 {
				sleepCtx(ctx, minDuration(wait, maxFloodSleep))
			}
		}
	}
}

// processSafe оборачивает пайплайн защитой от паник.
func (w *Worker) processSafe(ctx context.Context, d broker.Delivery) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.Metrics.Panics.Add(1)
			logger.Errorf("worker: паника при обработке %s/%s: %v", d.Stream, d.ID, r)
			out = Transient(errors.Errorf("panic: %v", r))
		}
	}()
	return w.process(ctx, d)
}

// process ведёт запись через стадии пайплайна и возвращает типизированный исход.
func (w *Worker) process(ctx context.Context, d broker.Delivery) Outcome {
	entry, err := model.EntryFromMap(d.Values)
	if err != nil {
		return Permanent(err)
	}

	// 1. Фантом: ни текста, ни медиа — архивировать нечего.
	if strings.TrimSpace(entry.Content) == "" && !entry.HasMedia() {
		w.Metrics.Phantom.Add(1)
		logger.Debugf("worker[%s]: фантомная запись %d/%d пропущена", entry.TraceID, entry.ChannelID, entry.MessageID)
		return Ok()
	}

	// 2. Канал. Отсутствие строки — постоянная ошибка записи.
	channel, err := w.st.Channels.ByTelegramID(ctx, entry.ChannelID)
	if err != nil {
		if errors.Is(err, store.ErrChannelNotFound) {
			return Permanent(errors.Wrapf(err, "channel %d", entry.ChannelID))
		}
		return Transient(err)
	}

	// 3. Дедупликация до дорогих стадий: повторная доставка не должна заново
	// качать медиа. Счётчики вовлечённости при этом освежаем.
	exists, err := w.st.Messages.Exists(ctx, channel.ID, entry.MessageID)
	if err != nil {
		return Transient(err)
	}
	if exists {
		w.Metrics.Duplicates.Add(1)
		if entry.Views > 0 || entry.Forwards > 0 {
			if err := w.st.Messages.UpdateEngagement(ctx, channel.ID, entry.MessageID, entry.Views, entry.Forwards); err != nil {
				logger.Warnf("worker[%s]: обновление счётчиков %d/%d: %v", entry.TraceID, channel.ID, entry.MessageID, err)
			}
		}
		return Ok()
	}

	msg := messageFromEntry(entry, channel)

	// 4. Сущности: чистые regex-проходы, без I/O.
	msg.Entities = w.extractor.ExtractJSON(entry.Content, channel.Username)

	// 5. Перевод — опционален и нефатален.
	w.translateInto(ctx, msg, channel, entry)

	// 6. Медиа. Полный отказ выборки — временная ошибка; отказ отдельного
	// участника альбома терпим, частичный архив валиден.
	mediaIDs, outcome := w.archiveMedia(ctx, entry, channel)
	if !outcome.IsOk() {
		return outcome
	}

	// 7. Хэши подлинности по неизменяемым полям.
	now := time.Now().UTC()
	msg.ContentHash = hashing.ContentHash(channel.ID, entry.MessageID, entry.Date, entry.Content)
	msg.MetadataHash = hashing.MetadataHash(entry.AuthorUserID, entry.ForwardFromChannelID, entry.ForwardFromMessageID, nullableTime(entry.ForwardDate))
	msg.HashAlgorithm = hashing.Algorithm
	msg.HashVersion = hashing.Version
	msg.HashAt = &now

	// 8. Атомарная запись: сообщение, связи медиа и водяной знак канала.
	res, err := w.st.Messages.Persist(ctx, msg, mediaIDs)
	if err != nil {
		return Transient(err)
	}
	if !res.Inserted {
		w.Metrics.Duplicates.Add(1)
	} else {
		w.Metrics.Processed.Add(1)
	}
	logger.Debugf("worker[%s]: запись %d/%d сохранена (id=%d, медиа=%d)",
		entry.TraceID, entry.ChannelID, entry.MessageID, res.MessageID, len(mediaIDs))
	return Ok()
}

// translateInto заполняет поля перевода сообщения. Любая ошибка — warning,
// сообщение архивируется без перевода.
func (w *Worker) translateInto(ctx context.Context, msg *model.Message, channel *model.Channel, entry *model.StreamEntry) {
	if strings.TrimSpace(entry.Content) == "" {
		return
	}

	lang := translate.DetectLanguage(entry.Content)
	msg.LanguageDetected = lang

	if w.translator == nil || !channel.Rule.ArchiveOriented() || !w.translator.ShouldTranslate(lang) {
		return
	}

	res, err := w.translator.Translate(ctx, entry.Content, lang)
	if err != nil {
		logger.Warnf("worker[%s]: перевод %d/%d не удался: %v", entry.TraceID, entry.ChannelID, entry.MessageID, err)
		return
	}

	now := time.Now().UTC()
	msg.ContentTranslated = res.Text
	msg.LanguageDetected = res.SourceLang
	msg.TranslationProv = res.Provider
	msg.TranslationCost = res.CostUSD
	msg.TranslationAt = &now
	w.Metrics.Translated.Add(1)
}

// archiveMedia скачивает и регистрирует вложения записи.
func (w *Worker) archiveMedia(ctx context.Context, entry *model.StreamEntry, channel *model.Channel) ([]int64, Outcome) {
	if !entry.HasMedia() || w.archiver == nil {
		return nil, Ok()
	}

	input := tgclient.InputChannel(channel.TelegramID, channel.AccessHash)

	ids := entry.AlbumMessageIDs
	if len(ids) == 0 {
		ids = []int64{entry.MessageID}
	}

	blobIDs, err := w.archiver.ArchiveAlbum(ctx, input, ids)
	if err != nil {
		if wait, ok := tgclient.AsFloodWait(err); ok {
			return nil, FloodWait(wait)
		}
		return nil, Transient(err)
	}
	w.Metrics.MediaArchived.Add(int64(len(blobIDs)))
	return blobIDs, Ok()
}

// settle превращает исход в операцию на брокере.
func (w *Worker) settle(ctx context.Context, d broker.Delivery, o Outcome) {
	switch decide(d.Exhausted(), o) {
	case actionAck:
		if err := w.broker.Ack(ctx, d.Stream, d.ID); err != nil {
			logger.Errorf("worker: ack %s/%s: %v", d.Stream, d.ID, err)
		}
	case actionDeadLetter:
		w.Metrics.DeadLettered.Add(1)
		if err := w.broker.DeadLetter(ctx, d, o.Err()); err != nil {
			logger.Errorf("worker: dead letter %s/%s: %v", d.Stream, d.ID, err)
		}
	case actionRetry:
		w.Metrics.Retried.Add(1)
		logger.Warnf("worker: запись %s/%s будет доставлена повторно (попытка %d): %v",
			d.Stream, d.ID, d.RetryCount, o.Err())
	}
}

func messageFromEntry(entry *model.StreamEntry, channel *model.Channel) *model.Message {
	return &model.Message{
		ChannelID:            channel.ID,
		TelegramMessageID:    entry.MessageID,
		Content:              entry.Content,
		TelegramDate:         entry.Date,
		Views:                entry.Views,
		Forwards:             entry.Forwards,
		GroupedID:            entry.GroupedID,
		MediaType:            entry.MediaType,
		AuthorUserID:         entry.AuthorUserID,
		RepliedToMessageID:   entry.RepliedToMessageID,
		ForwardFromChannelID: entry.ForwardFromChannelID,
		ForwardFromMessageID: entry.ForwardFromMessageID,
		ForwardDate:          nullableTime(entry.ForwardDate),
		HasComments:          entry.HasComments,
		CommentsCount:        entry.CommentsCount,
		LinkedChatID:         entry.LinkedChatID,
		IsBackfilled:         entry.IsBackfilled,
	}
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
