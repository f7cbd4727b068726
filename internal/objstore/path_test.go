package objstore_test

import (
	"strings"
	"testing"

	"telegram-archiver/internal/objstore"
)

func TestKeyLayout(t *testing.T) {
	t.Parallel()

	hash := strings.Repeat("ab", 32)

	key, err := objstore.Key(hash, "jpg")
	if err != nil {
		t.Fatalf("Key() error: %v", err)
	}
	want := "ab/ab/" + hash + ".jpg"
	if key != want {
		t.Errorf("Key() = %q, want %q", key, want)
	}

	bare, err := objstore.Key(hash, "")
	if err != nil {
		t.Fatalf("Key() error: %v", err)
	}
	if bare != "ab/ab/"+hash {
		t.Errorf("Key() without ext = %q", bare)
	}

	dotted, _ := objstore.Key(hash, ".mp4")
	if !strings.HasSuffix(dotted, hash+".mp4") {
		t.Errorf("Key() with dotted ext = %q", dotted)
	}
}

func TestKeyRejectsBadHash(t *testing.T) {
	t.Parallel()

	if _, err := objstore.Key("deadbeef", "jpg"); err == nil {
		t.Error("Key() accepted short hash")
	}
}

func TestExtensionForMIME(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"image/jpeg":               "jpg",
		"IMAGE/JPEG":               "jpg",
		"video/mp4":                "mp4",
		"application/octet-stream": "",
		"":                         "",
	}
	for mime, want := range cases {
		if got := objstore.ExtensionForMIME(mime); got != want {
			t.Errorf("ExtensionForMIME(%q) = %q, want %q", mime, got, want)
		}
	}
}
