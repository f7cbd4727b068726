package discovery

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"telegram-archiver/internal/domain/model"
	"telegram-archiver/internal/infra/logger"
)

// gapOverlap — запас, на который бэкфилл дыры заезжает назад от последнего
// известного сообщения, чтобы не потерять пост на самой границе.
const gapOverlap = 5 * time.Minute

// CheckGaps находит активные каналы, молчащие дольше порога, и ставит их в
// очередь бэкфилла от последнего известного сообщения. Молчание может быть
// и естественным: бэкфилл от свежей отметки в этом случае дёшев и безвреден.
func (d *Discovery) CheckGaps(ctx context.Context) error {
	candidates, err := d.store.GapCandidates(ctx, d.opts.GapThreshold, d.opts.GapMaxChannels)
	if err != nil {
		return errors.Wrap(err, "gap candidates")
	}
	if len(candidates) == 0 {
		return nil
	}

	for _, ch := range candidates {
		from := gapBackfillFrom(ch)
		if err := d.store.MarkBackfillPending(ctx, ch.ID, from); err != nil {
			return errors.Wrapf(err, "queue gap backfill for channel %d", ch.TelegramID)
		}
		logger.Infof("discovery: канал %d молчит с %s, бэкфилл дыры с %s",
			ch.TelegramID, ch.LastMessageAt.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return nil
}

// gapBackfillFrom — точка старта бэкфилла дыры: чуть раньше последнего
// известного сообщения канала.
func gapBackfillFrom(ch *model.Channel) time.Time {
	if ch.LastMessageAt == nil {
		return time.Time{}
	}
	return ch.LastMessageAt.Add(-gapOverlap)
}
