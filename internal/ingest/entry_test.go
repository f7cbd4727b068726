package ingest

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"telegram-archiver/internal/domain/model"
)

func albumMsg(id int, gid int64, caption string) *tg.Message {
	msg := &tg.Message{ID: id, Message: caption, Date: 1717243200}
	msg.SetGroupedID(gid)
	return msg
}

func TestEntryFromAlbumPicksCaptionBearer(t *testing.T) {
	t.Parallel()

	channel := &model.Channel{ID: 1, TelegramID: -1001}
	members := []*tg.Message{
		albumMsg(103, 7, ""),
		albumMsg(101, 7, ""),
		albumMsg(102, 7, "trio"),
	}

	e := EntryFromAlbum(channel, members, "acc")
	if e == nil {
		t.Fatal("EntryFromAlbum returned nil")
	}
	if e.MessageID != 102 || e.Content != "trio" {
		t.Errorf("primary = %d %q, want caption bearer 102 \"trio\"", e.MessageID, e.Content)
	}
	if e.MediaCount != 3 {
		t.Errorf("MediaCount = %d, want 3", e.MediaCount)
	}
	wantIDs := []int64{101, 102, 103}
	for i, id := range wantIDs {
		if e.AlbumMessageIDs[i] != id {
			t.Errorf("AlbumMessageIDs = %v, want %v", e.AlbumMessageIDs, wantIDs)
			break
		}
	}
}

func TestEntryFromAlbumWithoutCaptionKeepsFirst(t *testing.T) {
	t.Parallel()

	channel := &model.Channel{ID: 1, TelegramID: -1001}
	e := EntryFromAlbum(channel, []*tg.Message{
		albumMsg(202, 9, ""),
		albumMsg(201, 9, ""),
	}, "acc")

	if e.MessageID != 201 || e.Content != "" {
		t.Errorf("primary = %d %q, want first member 201 with empty content", e.MessageID, e.Content)
	}
}

func TestEntryFromAlbumEmpty(t *testing.T) {
	t.Parallel()

	if e := EntryFromAlbum(&model.Channel{}, nil, "acc"); e != nil {
		t.Errorf("EntryFromAlbum(empty) = %+v, want nil", e)
	}
}

func TestEntryFromMessageFields(t *testing.T) {
	t.Parallel()

	channel := &model.Channel{ID: 1, TelegramID: -1001}
	msg := &tg.Message{ID: 42, Message: "hello world", Date: 1717243200}
	msg.SetViews(10)
	msg.SetForwards(3)
	msg.SetFromID(&tg.PeerUser{UserID: 777})

	fwd := tg.MessageFwdHeader{Date: 1717000000}
	fwd.SetFromID(&tg.PeerChannel{ChannelID: 555})
	fwd.SetChannelPost(9)
	msg.SetFwdFrom(fwd)

	e := EntryFromMessage(channel, msg, "acc")

	if e.MessageID != 42 || e.ChannelID != -1001 || e.Content != "hello world" {
		t.Errorf("entry = %+v", e)
	}
	if !e.Date.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", e.Date)
	}
	if e.Views != 10 || e.Forwards != 3 || e.AuthorUserID != 777 {
		t.Errorf("engagement/author = %d/%d/%d", e.Views, e.Forwards, e.AuthorUserID)
	}
	if e.ForwardFromChannelID != -1000000000555 || e.ForwardFromMessageID != 9 {
		t.Errorf("forward refs = %d/%d", e.ForwardFromChannelID, e.ForwardFromMessageID)
	}
	if e.TraceID == "" || e.GroupedID != 0 || e.MediaCount != 0 {
		t.Errorf("trace/grouped/media = %q/%d/%d", e.TraceID, e.GroupedID, e.MediaCount)
	}
}
