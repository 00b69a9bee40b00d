package artifact

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"strings"

	_ "golang.org/x/image/webp"
)

var (
	// ErrEmptyImage is returned when an image payload has no bytes.
	ErrEmptyImage = errors.New("image payload is empty")
	// ErrUnsupportedImage is returned for payloads that are not a known image encoding.
	ErrUnsupportedImage = errors.New("unsupported image type")
)

var supportedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// FromBytes wraps an uploaded image as a source artifact. An empty mimeType is
// sniffed from the payload.
func FromBytes(data []byte, mimeType string) (*Artifact, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	mimeType = normalizeMIME(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMIME(http.DetectContentType(data))
	}
	if err := Validate(data, mimeType); err != nil {
		return nil, err
	}
	return New(data, mimeType, "upload", "", ""), nil
}

// FromFile reads an image from disk.
func FromFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	a, err := FromBytes(data, "")
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", path, err)
	}
	return a.WithMetadata("path", path), nil
}

// Validate checks that data is a decodable image of the declared type.
func Validate(data []byte, mimeType string) error {
	if len(data) == 0 {
		return ErrEmptyImage
	}
	mimeType = normalizeMIME(mimeType)
	if !supportedTypes[mimeType] {
		return fmt.Errorf("%w: %q", ErrUnsupportedImage, mimeType)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnsupportedImage, mimeType, err)
	}
	if "image/"+format != mimeType {
		return fmt.Errorf("%w: declared %s but payload is %s", ErrUnsupportedImage, mimeType, format)
	}
	return nil
}

func normalizeMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if mimeType == "image/jpg" {
		return "image/jpeg"
	}
	return mimeType
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
