package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestResolveLogLevel(t *testing.T) {
	t.Setenv(envLogLevel, "warn")

	if level, err := resolveLogLevel(""); err != nil || level != zerolog.WarnLevel {
		t.Fatalf("env level = %v, %v; want warn", level, err)
	}
	if level, err := resolveLogLevel("DEBUG"); err != nil || level != zerolog.DebugLevel {
		t.Fatalf("flag level = %v, %v; want debug", level, err)
	}
	if _, err := resolveLogLevel("loud"); err == nil {
		t.Fatalf("expected an error for an unknown level")
	}
}

func TestLoadImagesDetectsContentType(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "cover.png")
	// PNG signature followed by an IHDR chunk header is enough for sniffing.
	if err := os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o600); err != nil {
		t.Fatal(err)
	}
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	images, err := loadImages([]string{png, notes})
	if err != nil {
		t.Fatalf("loadImages failed: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(images))
	}
	if images[0].Name != "cover.png" || images[0].ContentType != "image/png" {
		t.Fatalf("unexpected png entry %+v", images[0])
	}
	if images[1].ContentType == "image/png" {
		t.Fatalf("text file sniffed as image")
	}

	if _, err := loadImages([]string{filepath.Join(dir, "missing.jpg")}); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
