package model_test

import (
	"testing"
	"time"

	"telegram-archiver/internal/domain/model"
)

func TestStreamEntryRoundTrip(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := &model.StreamEntry{
		MessageID:       102,
		ChannelID:       -1001234567890,
		Content:         "trio",
		MediaType:       model.MediaPhoto,
		Date:            date,
		IngestedAt:      date.Add(2 * time.Second),
		GroupedID:       777,
		MediaCount:      3,
		AlbumMessageIDs: []int64{101, 102, 103},
		Views:           42,
		Forwards:        7,
		ForwardDate:     date.Add(-time.Hour),
		HasComments:     true,
		CommentsCount:   5,
		SourceAccount:   "+10000000000",
		IsBackfilled:    true,
		TraceID:         model.NewTraceID(),
	}

	got, err := model.EntryFromMap(entry.ToMap())
	if err != nil {
		t.Fatalf("EntryFromMap() error = %v", err)
	}

	if got.MessageID != entry.MessageID || got.ChannelID != entry.ChannelID {
		t.Errorf("ids = (%d,%d), want (%d,%d)", got.MessageID, got.ChannelID, entry.MessageID, entry.ChannelID)
	}
	if got.Content != "trio" || got.MediaType != model.MediaPhoto {
		t.Errorf("content/media = (%q,%q)", got.Content, got.MediaType)
	}
	if !got.Date.Equal(date) {
		t.Errorf("Date = %v, want %v", got.Date, date)
	}
	if len(got.AlbumMessageIDs) != 3 || got.AlbumMessageIDs[1] != 102 {
		t.Errorf("AlbumMessageIDs = %v, want [101 102 103]", got.AlbumMessageIDs)
	}
	if !got.IsBackfilled || !got.HasComments {
		t.Errorf("flags lost: backfilled=%v hasComments=%v", got.IsBackfilled, got.HasComments)
	}
	if !got.ForwardDate.Equal(entry.ForwardDate) {
		t.Errorf("ForwardDate = %v, want %v", got.ForwardDate, entry.ForwardDate)
	}
	if got.TraceID != entry.TraceID {
		t.Errorf("TraceID = %q, want %q", got.TraceID, entry.TraceID)
	}
}

func TestEntryFromMapRejectsUnaddressable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		values map[string]any
	}{
		{name: "empty", values: map[string]any{}},
		{name: "badMessageID", values: map[string]any{"message_id": "abc", "channel_id": "1"}},
		{name: "missingChannel", values: map[string]any{"message_id": "1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := model.EntryFromMap(tc.values); err == nil {
				t.Error("EntryFromMap() expected error, got nil")
			}
		})
	}
}

func TestHasMedia(t *testing.T) {
	t.Parallel()

	if (&model.StreamEntry{MediaType: model.MediaNone}).HasMedia() {
		t.Error("MediaNone reported as media")
	}
	if (&model.StreamEntry{MediaType: model.MediaWebPage}).HasMedia() {
		t.Error("webpage preview reported as media")
	}
	if !(&model.StreamEntry{MediaType: model.MediaVideo}).HasMedia() {
		t.Error("video not reported as media")
	}
}

func TestNewTraceIDShape(t *testing.T) {
	t.Parallel()

	a, b := model.NewTraceID(), model.NewTraceID()
	if len(a) != 8 || len(b) != 8 {
		t.Errorf("trace id length = %d/%d, want 8", len(a), len(b))
	}
	if a == b {
		t.Error("trace ids collided")
	}
}
