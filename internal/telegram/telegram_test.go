package telegram

import (
	"testing"

	"github.com/gotd/td/tg"

	"telegram-archiver/internal/domain/model"
)

func TestChannelIDMarking(t *testing.T) {
	t.Parallel()

	raw := int64(1234567890)
	marked := MarkChannelID(raw)
	if marked != -1001234567890 {
		t.Errorf("MarkChannelID(%d) = %d", raw, marked)
	}
	if got := UnmarkChannelID(marked); got != raw {
		t.Errorf("UnmarkChannelID(%d) = %d, want %d", marked, got, raw)
	}
	// Уже отрицательный id не маркируется повторно.
	if got := MarkChannelID(marked); got != marked {
		t.Errorf("MarkChannelID(marked) = %d, want unchanged", got)
	}
}

func TestNormalizeChannelRef(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"@milinfolive":                  "milinfolive",
		"https://t.me/milinfolive":      "milinfolive",
		"https://t.me/s/milinfolive":    "milinfolive",
		"t.me/milinfolive/123":          "milinfolive",
		"  https://t.me/name?start=x  ": "name",
		"plainname":                     "plainname",
	}
	for in, want := range cases {
		if got := normalizeChannelRef(in); got != want {
			t.Errorf("normalizeChannelRef(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNextFolderID(t *testing.T) {
	t.Parallel()

	id, err := NextFolderID([]Folder{{ID: 2}, {ID: 3}, {ID: 5}})
	if err != nil {
		t.Fatalf("NextFolderID() error: %v", err)
	}
	if id != 4 {
		t.Errorf("NextFolderID() = %d, want 4", id)
	}

	var full []Folder
	for i := 2; i <= 255; i++ {
		full = append(full, Folder{ID: i})
	}
	if _, err := NextFolderID(full); err == nil {
		t.Error("NextFolderID() with full range must fail")
	}
}

func TestClassifyMedia(t *testing.T) {
	t.Parallel()

	photo := &tg.MessageMediaPhoto{}
	photo.SetPhoto(&tg.Photo{ID: 1})
	info, ok := ClassifyMedia(photo)
	if !ok || info.Type != model.MediaPhoto || !info.Downloadable {
		t.Errorf("photo classified as %+v", info)
	}

	video := &tg.MessageMediaDocument{}
	video.SetDocument(&tg.Document{ID: 2, MimeType: "video/mp4", Size: 1024})
	info, ok = ClassifyMedia(video)
	if !ok || info.Type != model.MediaVideo || info.Size != 1024 {
		t.Errorf("video classified as %+v", info)
	}

	page := &tg.MessageMediaWebPage{}
	info, ok = ClassifyMedia(page)
	if !ok || info.Type != model.MediaWebPage || info.Downloadable {
		t.Errorf("webpage classified as %+v", info)
	}
}

func TestLargestPhotoSize(t *testing.T) {
	t.Parallel()

	got := largestPhotoSize([]tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "m", W: 320, H: 240},
		&tg.PhotoSize{Type: "x", W: 1280, H: 960},
		&tg.PhotoSizeProgressive{Type: "y", W: 800, H: 600},
	})
	if got != "x" {
		t.Errorf("largestPhotoSize() = %q, want x", got)
	}

	if got := largestPhotoSize(nil); got != "" {
		t.Errorf("largestPhotoSize(nil) = %q, want empty", got)
	}
}
