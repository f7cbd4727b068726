package hashing_test

import (
	"testing"
	"time"

	"telegram-archiver/internal/domain/hashing"
)

func TestContentHashDeterministic(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := hashing.ContentHash(-1001, 42, date, "hello world")
	b := hashing.ContentHash(-1001, 42, date, "hello world")
	if a != b {
		t.Errorf("same input produced different hashes: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestContentHashNormalizesWhitespace(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := hashing.ContentHash(-1001, 42, date, "  hello \n\t world ")
	b := hashing.ContentHash(-1001, 42, date, "hello world")
	if a != b {
		t.Error("whitespace variants produced different hashes")
	}
}

func TestContentHashTimezoneIndependent(t *testing.T) {
	t.Parallel()

	utc := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	kyiv := utc.In(time.FixedZone("EEST", 3*3600))
	if hashing.ContentHash(1, 1, utc, "x") != hashing.ContentHash(1, 1, kyiv, "x") {
		t.Error("hash depends on timezone representation")
	}
}

func TestContentHashSensitivity(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	base := hashing.ContentHash(-1001, 42, date, "hello")

	if base == hashing.ContentHash(-1002, 42, date, "hello") {
		t.Error("channel id change not reflected")
	}
	if base == hashing.ContentHash(-1001, 43, date, "hello") {
		t.Error("message id change not reflected")
	}
	if base == hashing.ContentHash(-1001, 42, date.Add(time.Second), "hello") {
		t.Error("date change not reflected")
	}
	if base == hashing.ContentHash(-1001, 42, date, "hello!") {
		t.Error("content change not reflected")
	}
}

func TestMetadataHash(t *testing.T) {
	t.Parallel()

	fd := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	withForward := hashing.MetadataHash(7, -1009, 55, &fd)
	noForward := hashing.MetadataHash(7, 0, 0, nil)

	if withForward == noForward {
		t.Error("forward provenance not reflected in hash")
	}
	if noForward != hashing.MetadataHash(7, 0, 0, nil) {
		t.Error("metadata hash not deterministic")
	}
}
