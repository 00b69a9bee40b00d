package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Artifact represents an immutable image, either the user's source image or a
// view produced by a generator.
type Artifact struct {
	ID        string            `json:"id"`
	Data      []byte            `json:"-"`
	MIMEType  string            `json:"mime_type"`
	Adapter   string            `json:"adapter,omitempty"`
	Model     string            `json:"model,omitempty"`
	Prompt    string            `json:"prompt,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Hash      string            `json:"hash"`
}

// New creates a new Artifact with computed hash.
func New(data []byte, mimeType, adapter, model, prompt string) *Artifact {
	a := &Artifact{
		ID:        uuid.NewString(),
		Data:      data,
		MIMEType:  mimeType,
		Adapter:   adapter,
		Model:     model,
		Prompt:    prompt,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
	a.Hash = a.computeHash()
	return a
}

// Size returns the payload length in bytes.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Extension returns the file extension (with dot) for the artifact's mime type.
func (a *Artifact) Extension() string {
	if a == nil {
		return ".bin"
	}
	return ExtensionFor(a.MIMEType)
}

// WithMetadata returns a new artifact with additional metadata.
func (a *Artifact) WithMetadata(key, value string) *Artifact {
	newArtifact := &Artifact{
		ID:        a.ID,
		Data:      a.Data,
		MIMEType:  a.MIMEType,
		Adapter:   a.Adapter,
		Model:     a.Model,
		Prompt:    a.Prompt,
		Metadata:  copyMetadata(a.Metadata),
		CreatedAt: a.CreatedAt,
		Hash:      a.Hash,
	}
	newArtifact.Metadata[key] = value
	return newArtifact
}

// DataURL renders the artifact as a data: URL, the form a browser can show directly.
func (a *Artifact) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", a.MIMEType, encodeBase64(a.Data))
}

func (a *Artifact) computeHash() string {
	h := sha256.New()
	h.Write(a.Data)
	h.Write([]byte(a.MIMEType))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func copyMetadata(m map[string]string) map[string]string {
	newM := make(map[string]string, len(m))
	for k, v := range m {
		newM[k] = v
	}
	return newM
}

// ExtensionFor maps an image mime type to a file extension.
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
