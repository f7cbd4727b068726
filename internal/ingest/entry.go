// Пакет ingest нормализует сообщения Telegram в записи потока. Одни и те же
// правила (первичный участник альбома, подпись, счётчики вовлечённости)
// применяются и к живым событиям, и к историческим страницам бэкфилла.
package ingest

import (
	"sort"
	"time"

	"github.com/gotd/td/tg"

	"telegram-archiver/internal/domain/model"
	tgclient "telegram-archiver/internal/telegram"
)

// EntryFromMessage нормализует одиночное сообщение в запись потока.
func EntryFromMessage(channel *model.Channel, msg *tg.Message, sourceAccount string) *model.StreamEntry {
	e := &model.StreamEntry{
		MessageID:     int64(msg.ID),
		ChannelID:     channel.TelegramID,
		Content:       msg.Message,
		MediaType:     tgclient.MessageMediaType(msg),
		Date:          time.Unix(int64(msg.Date), 0).UTC(),
		IngestedAt:    time.Now().UTC(),
		MediaCount:    0,
		SourceAccount: sourceAccount,
		TraceID:       model.NewTraceID(),
	}
	if e.MediaType != model.MediaNone && e.MediaType != model.MediaWebPage {
		e.MediaCount = 1
	}

	if gid, ok := msg.GetGroupedID(); ok {
		e.GroupedID = gid
	}
	if views, ok := msg.GetViews(); ok {
		e.Views = views
	}
	if forwards, ok := msg.GetForwards(); ok {
		e.Forwards = forwards
	}
	if from, ok := msg.GetFromID(); ok {
		if u, ok := from.(*tg.PeerUser); ok {
			e.AuthorUserID = u.UserID
		}
	}
	if reply, ok := msg.GetReplyTo(); ok {
		if hdr, ok := reply.(*tg.MessageReplyHeader); ok {
			if id, ok := hdr.GetReplyToMsgID(); ok {
				e.RepliedToMessageID = int64(id)
			}
		}
	}
	if fwd, ok := msg.GetFwdFrom(); ok {
		if from, ok := fwd.GetFromID(); ok {
			if ch, ok := from.(*tg.PeerChannel); ok {
				e.ForwardFromChannelID = tgclient.MarkChannelID(ch.ChannelID)
			}
		}
		if post, ok := fwd.GetChannelPost(); ok {
			e.ForwardFromMessageID = int64(post)
		}
		if fwd.Date > 0 {
			e.ForwardDate = time.Unix(int64(fwd.Date), 0).UTC()
		}
	}
	if replies, ok := msg.GetReplies(); ok {
		e.HasComments = replies.Comments
		e.CommentsCount = replies.Replies
		if replies.ChannelID != 0 {
			e.LinkedChatID = tgclient.MarkChannelID(replies.ChannelID)
		}
	}
	return e
}

// EntryFromAlbum собирает участников альбома в одну запись потока.
// Первичный участник — первый с непустой подписью, иначе первый по порядку;
// его id и дата представляют альбом, подпись становится контентом.
func EntryFromAlbum(channel *model.Channel, members []*tg.Message, sourceAccount string) *model.StreamEntry {
	if len(members) == 0 {
		return nil
	}

	sorted := make([]*tg.Message, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	primary := sorted[0]
	for _, m := range sorted {
		if m.Message != "" {
			primary = m
			break
		}
	}

	e := EntryFromMessage(channel, primary, sourceAccount)
	e.Content = primary.Message
	e.MediaCount = len(sorted)
	e.AlbumMessageIDs = make([]int64, 0, len(sorted))
	for _, m := range sorted {
		e.AlbumMessageIDs = append(e.AlbumMessageIDs, int64(m.ID))
	}
	return e
}
