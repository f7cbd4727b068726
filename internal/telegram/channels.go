package telegram

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"
	"github.com/gotd/td/tg"
)

// ErrNotAChannel — username резолвится, но это не канал и не супергруппа.
var ErrNotAChannel = errors.New("peer is not a channel")

// ResolveChannel резолвит @username или t.me-ссылку в канал.
func (c *Client) ResolveChannel(ctx context.Context, ref string) (*tg.Channel, error) {
	username := normalizeChannelRef(ref)
	if username == "" {
		return nil, errors.Errorf("cannot extract username from %q", ref)
	}

	res, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %q", username)
	}

	for _, chat := range res.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return ch, nil
		}
	}
	return nil, ErrNotAChannel
}

// JoinChannel вступает в канал. Уже состоящий аккаунт не считается ошибкой.
func (c *Client) JoinChannel(ctx context.Context, ch *tg.Channel) (already bool, err error) {
	if !ch.Left {
		return true, nil
	}

	_, err = c.api.ChannelsJoinChannel(ctx, &tg.InputChannel{
		ChannelID:  ch.ID,
		AccessHash: ch.AccessHash,
	})
	if err != nil {
		if tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
			return true, nil
		}
		return false, errors.Wrapf(err, "join channel %q", ch.Username)
	}
	return false, nil
}

// normalizeChannelRef срезает с username схемы и префиксы:
// @name, t.me/name, https://t.me/s/name — всё приводится к name.
func normalizeChannelRef(ref string) string {
	s := strings.TrimSpace(ref)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "telegram.me/")
	s = strings.TrimPrefix(s, "s/")
	s = strings.TrimPrefix(s, "@")
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	return s
}
