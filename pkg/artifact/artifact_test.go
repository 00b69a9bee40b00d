package artifact

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestFromBytesSniffsMIME(t *testing.T) {
	a, err := FromBytes(testPNG(t), "")
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if a.MIMEType != "image/png" {
		t.Fatalf("expected image/png, got %q", a.MIMEType)
	}
	if a.Hash == "" || a.ID == "" {
		t.Fatalf("expected hash and id to be set")
	}
	if a.Extension() != ".png" {
		t.Fatalf("unexpected extension %q", a.Extension())
	}
}

func TestFromBytesRejectsEmpty(t *testing.T) {
	if _, err := FromBytes(nil, "image/png"); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}

func TestFromBytesRejectsNonImage(t *testing.T) {
	_, err := FromBytes([]byte("hello world"), "text/plain")
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
}

func TestValidateRejectsCorruptPNG(t *testing.T) {
	err := Validate([]byte("not really a png"), "image/png")
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
}

func TestValidateNormalizesMIME(t *testing.T) {
	if err := Validate(testPNG(t), "IMAGE/PNG; charset=binary"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestFromFileRecordsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hero.png")
	if err := os.WriteFile(path, testPNG(t), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a, err := FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if a.Metadata["path"] != path {
		t.Fatalf("expected path metadata, got %v", a.Metadata)
	}
}

func TestDataURL(t *testing.T) {
	a := New([]byte{1, 2, 3}, "image/png", "mock", "mock-1", "p")
	if !strings.HasPrefix(a.DataURL(), "data:image/png;base64,") {
		t.Fatalf("unexpected data url %q", a.DataURL())
	}
}

func TestWithMetadataDoesNotMutateOriginal(t *testing.T) {
	a := New([]byte{1}, "image/png", "mock", "", "")
	b := a.WithMetadata("k", "v")
	if _, ok := a.Metadata["k"]; ok {
		t.Fatalf("original metadata mutated")
	}
	if b.Metadata["k"] != "v" || b.Hash != a.Hash {
		t.Fatalf("unexpected copy %+v", b)
	}
}

func TestValidateRejectsGarbageWebP(t *testing.T) {
	if err := Validate([]byte("definitely not an image"), "image/webp"); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
	if _, err := FromBytes([]byte("garbage"), "image/webp"); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected FromBytes to reject garbage webp, got %v", err)
	}
}

func TestValidateRejectsMislabelledPayload(t *testing.T) {
	if err := Validate(testPNG(t), "image/webp"); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected a PNG labelled webp to be rejected, got %v", err)
	}
}
