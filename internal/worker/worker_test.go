package worker

import (
	"testing"
	"time"

	"telegram-archiver/internal/domain/model"
)

func TestMessageFromEntry(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fwdDate := date.Add(-time.Hour)
	entry := &model.StreamEntry{
		MessageID:            42,
		ChannelID:            -1001,
		Content:              "текст",
		MediaType:            model.MediaPhoto,
		Date:                 date,
		GroupedID:            7,
		Views:                100,
		Forwards:             5,
		AuthorUserID:         777,
		ForwardFromChannelID: -1002,
		ForwardFromMessageID: 9,
		ForwardDate:          fwdDate,
		HasComments:          true,
		CommentsCount:        3,
		IsBackfilled:         true,
	}
	channel := &model.Channel{ID: 15, TelegramID: -1001}

	msg := messageFromEntry(entry, channel)

	// ChannelID сообщения — реляционный id, не telegram id.
	if msg.ChannelID != 15 || msg.TelegramMessageID != 42 {
		t.Errorf("ids = %d/%d", msg.ChannelID, msg.TelegramMessageID)
	}
	if msg.Content != "текст" || msg.MediaType != model.MediaPhoto || !msg.IsBackfilled {
		t.Errorf("msg = %+v", msg)
	}
	if msg.ForwardDate == nil || !msg.ForwardDate.Equal(fwdDate) {
		t.Errorf("ForwardDate = %v", msg.ForwardDate)
	}
	if msg.Views != 100 || msg.Forwards != 5 || msg.CommentsCount != 3 {
		t.Errorf("counters = %d/%d/%d", msg.Views, msg.Forwards, msg.CommentsCount)
	}
}

func TestNullableTime(t *testing.T) {
	t.Parallel()

	if nullableTime(time.Time{}) != nil {
		t.Error("zero time must map to nil")
	}
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	got := nullableTime(ts)
	if got == nil || got.Location() != time.UTC {
		t.Errorf("nullableTime = %v, want UTC pointer", got)
	}
}
