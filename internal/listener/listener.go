// Пакет listener владеет живой Telegram-сессией: принимает события новых
// сообщений, собирает альбомы в логические посты и кладёт нормализованные
// записи в realtime-поток брокера.
package listener

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-archiver/internal/broker"
	"telegram-archiver/internal/domain/model"
	"telegram-archiver/internal/infra/logger"
	"telegram-archiver/internal/ingest"
	"telegram-archiver/internal/store"
	tgclient "telegram-archiver/internal/telegram"
)

// Период самостоятельного обновления рабочего набора каналов. Дискавери
// дёргает Refresh сразу после сверки; тикер — страховка от пропуска.
const channelRefreshInterval = 5 * time.Minute

// Listener слушает события новых сообщений отслеживаемых каналов и кладёт
// нормализованные записи в realtime-поток. Единственный владелец живой сессии.
type Listener struct {
	client        *tgclient.Client
	broker        *broker.Client
	channels      *store.ChannelRepo
	sourceAccount string

	collector *Collector

	mu        sync.RWMutex
	monitored map[int64]*model.Channel
}

// New собирает слушатель и регистрирует обработчики на диспетчере клиента.
// Смена набора каналов не требует перерегистрации: обработчик фильтрует
// события по актуальному снимку рабочего набора.
func New(client *tgclient.Client, br *broker.Client, channels *store.ChannelRepo, sourceAccount string) *Listener {
	l := &Listener{
		client:        client,
		broker:        br,
		channels:      channels,
		sourceAccount: sourceAccount,
		monitored:     make(map[int64]*model.Channel),
	}
	l.collector = NewCollector(l.flushAlbum, l.completeAlbum)

	client.Dispatcher.OnNewChannelMessage(l.onNewChannelMessage)
	return l
}

// Run обновляет рабочий набор и крутит свипер альбомов до отмены контекста.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.Refresh(ctx); err != nil {
		return errors.Wrap(err, "initial channel set")
	}

	go l.collector.Run(ctx)

	ticker := time.NewTicker(channelRefreshInterval)
	defer ticker.Stop()

	logger.Infof("listener: запущен, отслеживается %d каналов", l.monitoredCount())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				logger.Warnf("listener: обновление набора каналов: %v", err)
			}
		}
	}
}

// Refresh перечитывает активные каналы из хранилища и заменяет рабочий набор.
func (l *Listener) Refresh(ctx context.Context) error {
	active, err := l.channels.Active(ctx)
	if err != nil {
		return errors.Wrap(err, "load active channels")
	}

	next := make(map[int64]*model.Channel, len(active))
	for _, ch := range active {
		next[ch.TelegramID] = ch
	}

	l.mu.Lock()
	prev := len(l.monitored)
	l.monitored = next
	l.mu.Unlock()

	if prev != len(next) {
		logger.Infof("listener: рабочий набор обновлён: %d → %d каналов", prev, len(next))
	}
	return nil
}

func (l *Listener) monitoredCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.monitored)
}

func (l *Listener) lookup(markedID int64) (*model.Channel, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ch, ok := l.monitored[markedID]
	return ch, ok
}

// onNewChannelMessage — обработчик событий диспетчера. Сообщения каналов вне
// рабочего набора игнорируются; участники альбомов уходят в сборщик.
func (l *Listener) onNewChannelMessage(ctx context.Context, _ tg.Entities, u *tg.UpdateNewChannelMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return nil
	}

	markedID := tgclient.MarkChannelID(peer.ChannelID)
	channel, ok := l.lookup(markedID)
	if !ok {
		return nil
	}

	if _, grouped := msg.GetGroupedID(); grouped {
		l.collector.Add(ctx, markedID, msg)
		return nil
	}

	entry := ingest.EntryFromMessage(channel, msg, l.sourceAccount)
	l.publish(ctx, entry)
	return nil
}

// flushAlbum — колбэк сборщика: собранный альбом уходит одной записью.
func (l *Listener) flushAlbum(ctx context.Context, channelID int64, members []*tg.Message) {
	channel, ok := l.lookup(channelID)
	if !ok {
		return
	}
	entry := ingest.EntryFromAlbum(channel, members, l.sourceAccount)
	if entry == nil {
		return
	}
	l.publish(ctx, entry)
}

// completeAlbum — колбэк дочитывания неполной группы у сервера.
func (l *Listener) completeAlbum(ctx context.Context, channelID, anchorID, groupedID int64) ([]*tg.Message, error) {
	channel, ok := l.lookup(channelID)
	if !ok {
		return nil, errors.Errorf("channel %d is not monitored", channelID)
	}
	input := tgclient.InputChannel(channel.TelegramID, channel.AccessHash)
	return l.client.FetchAlbum(ctx, input, anchorID, groupedID)
}

// publish кладёт запись в realtime-поток. Долговечность обеспечивает XADD;
// ошибка публикации означает потерю живого события и логируется как ошибка.
func (l *Listener) publish(ctx context.Context, entry *model.StreamEntry) {
	id, err := l.broker.Publish(ctx, broker.StreamRealtime, entry.ToMap())
	if err != nil {
		logger.Errorf("listener[%s]: публикация %d/%d: %v", entry.TraceID, entry.ChannelID, entry.MessageID, err)
		return
	}
	logger.Debugf("listener[%s]: запись %d/%d опубликована (%s, медиа=%d)",
		entry.TraceID, entry.ChannelID, entry.MessageID, id, entry.MediaCount)
}
