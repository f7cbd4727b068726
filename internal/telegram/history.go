package telegram

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
)

// InputChannel строит MTProto-ссылку на канал из marked-id и access hash.
func InputChannel(markedID, accessHash int64) *tg.InputChannel {
	return &tg.InputChannel{
		ChannelID:  UnmarkChannelID(markedID),
		AccessHash: accessHash,
	}
}

// IterHistory обходит историю канала от from вперёд во времени (oldest-first)
// и зовёт fn для каждого несервисного сообщения. Ошибка fn останавливает обход.
// Пагинация: отрицательный add_offset возвращает окно сообщений строго новее
// точки отсчёта; точкой следующей страницы служит самое новое обработанное id.
func (c *Client) IterHistory(ctx context.Context, channel *tg.InputChannel, from time.Time, batch int, fn func(*tg.Message) error) error {
	if batch <= 0 {
		batch = 100
	}
	peer := &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash}

	req := &tg.MessagesGetHistoryRequest{
		Peer:       peer,
		OffsetDate: int(from.Unix()),
		AddOffset:  -batch,
		Limit:      batch,
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := c.api.MessagesGetHistory(ctx, req)
		if err != nil {
			return errors.Wrap(err, "get history")
		}

		page := historyMessages(res)
		if len(page) == 0 {
			return nil
		}

		// Окно приходит newest-first; обрабатываем в хронологическом порядке.
		sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
		for _, msg := range page {
			if err := fn(msg); err != nil {
				return err
			}
		}

		if len(page) < batch {
			return nil
		}
		// Следующая страница отсчитывается от самого нового обработанного id.
		req.OffsetID = page[len(page)-1].ID
		req.OffsetDate = 0
	}
}

// FetchMessages забирает сообщения канала по списку id. Порядок результата
// соответствует порядку запрошенных id; отсутствующие пропускаются.
func (c *Client) FetchMessages(ctx context.Context, channel *tg.InputChannel, ids []int64) ([]*tg.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	reqIDs := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		reqIDs = append(reqIDs, &tg.InputMessageID{ID: int(id)})
	}

	res, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: channel,
		ID:      reqIDs,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get messages")
	}

	byID := make(map[int64]*tg.Message)
	for _, m := range historyMessages(res) {
		byID[int64(m.ID)] = m
	}

	out := make([]*tg.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// FetchAlbum возвращает всех участников альбома вокруг сообщения anchor:
// диапазонное чтение id [anchor-9, anchor+9] с фильтром по grouped-id.
// Telegram ограничивает альбом десятью элементами, окна в 19 id достаточно.
func (c *Client) FetchAlbum(ctx context.Context, channel *tg.InputChannel, anchorID, groupedID int64) ([]*tg.Message, error) {
	ids := make([]int64, 0, 19)
	for id := anchorID - 9; id <= anchorID+9; id++ {
		if id > 0 {
			ids = append(ids, id)
		}
	}

	msgs, err := c.FetchMessages(ctx, channel, ids)
	if err != nil {
		return nil, err
	}

	var album []*tg.Message
	for _, m := range msgs {
		gid, ok := m.GetGroupedID()
		if ok && gid == groupedID {
			album = append(album, m)
		}
	}
	sort.Slice(album, func(i, j int) bool { return album[i].ID < album[j].ID })
	return album, nil
}

// historyMessages достаёт несервисные сообщения из любого варианта ответа
// messages.Messages.
func historyMessages(res tg.MessagesMessagesClass) []*tg.Message {
	var raw []tg.MessageClass
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = v.Messages
	case *tg.MessagesMessages:
		raw = v.Messages
	case *tg.MessagesMessagesSlice:
		raw = v.Messages
	default:
		return nil
	}

	out := make([]*tg.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg)
		}
	}
	return out
}
