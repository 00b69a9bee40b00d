package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zen-systems/viewforge/pkg/artifact"
	"github.com/zen-systems/viewforge/pkg/pipeline"
)

// Kit selects how the bundle is labelled. The model kits carry the same
// images as the image kit under a different extension; no real mesh is built.
type Kit string

const (
	KitImages Kit = "images"
	KitSTL    Kit = "stl"
	KitOBJ    Kit = "obj"
	KitFBX    Kit = "fbx"
)

// OriginalTitle is the entry title used for the user's source image.
const OriginalTitle = pipeline.OriginalTitle

// ParseKit validates a kit name.
func ParseKit(name string) (Kit, error) {
	switch k := Kit(strings.ToLower(strings.TrimSpace(name))); k {
	case KitImages, KitSTL, KitOBJ, KitFBX:
		return k, nil
	case "":
		return KitImages, nil
	default:
		return "", fmt.Errorf("unknown kit %q (want images, stl, obj or fbx)", name)
	}
}

// Filename returns the download name for the kit.
func (k Kit) Filename() string {
	if k == KitImages || k == "" {
		return "modeling_kit.zip"
	}
	return fmt.Sprintf("modeling_kit_%s.zip", k)
}

// Entry is one titled image in a bundle.
type Entry struct {
	Title string
	Image *artifact.Artifact
}

// Options controls bundle metadata.
type Options struct {
	Kit           Kit
	CharacterName string
	Now           time.Time
}

// Slug converts a title to a file stem.
func Slug(title string) string {
	return pipeline.Slug(title)
}

// Entries builds the ordered bundle contents from a completed run: the source
// image first, then every step in registry order.
func Entries(source *artifact.Artifact, snap pipeline.Snapshot) ([]Entry, error) {
	if !snap.AllCompleted() {
		return nil, fmt.Errorf("run is not complete: %d of %d steps completed",
			snap.Count(pipeline.StatusCompleted), len(snap.Steps))
	}

	entries := make([]Entry, 0, len(snap.Steps)+1)
	if source != nil && len(source.Data) > 0 {
		entries = append(entries, Entry{Title: OriginalTitle, Image: source})
	}
	for _, st := range snap.Steps {
		entries = append(entries, Entry{Title: st.Step.Title, Image: st.Result})
	}
	return entries, nil
}

// FileName returns the name an entry gets inside a kit.
func FileName(entry Entry, kit Kit) string {
	ext := entry.Image.Extension()
	if kit != KitImages && kit != "" {
		ext = "." + string(kit)
	}
	return Slug(entry.Title) + ext
}

// Bundle writes a zip containing readme.txt followed by every entry.
func Bundle(w io.Writer, entries []Entry, opts Options) error {
	if len(entries) == 0 {
		return fmt.Errorf("bundle requires at least one image")
	}
	if opts.Kit == "" {
		opts.Kit = KitImages
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.CharacterName == "" {
		opts.CharacterName = "Character Concept"
	}

	names := make([]string, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		if entry.Image == nil || len(entry.Image.Data) == 0 {
			return fmt.Errorf("entry %q has no image data", entry.Title)
		}
		name := FileName(entry, opts.Kit)
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate bundle entry %s", name)
		}
		seen[name] = struct{}{}
		names[i] = name
	}

	zw := zip.NewWriter(w)
	if err := writeFile(zw, "readme.txt", []byte(readme(names, opts)), opts.Now); err != nil {
		return err
	}
	for i, entry := range entries {
		if err := writeFile(zw, names[i], entry.Image.Data, opts.Now); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

func writeFile(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func readme(names []string, opts Options) string {
	var sb strings.Builder
	sb.WriteString("// CHARACTER SHEET GENERATED BY VIEWFORGE //\n\n")
	fmt.Fprintf(&sb, "CHARACTER: %s\n", opts.CharacterName)
	fmt.Fprintf(&sb, "GENERATED ON: %s\n", opts.Now.Format("2006-01-02"))
	fmt.Fprintf(&sb, "KIT: %s\n\n", opts.Kit)
	sb.WriteString("INCLUDED ASSETS:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "- %s\n", name)
	}
	sb.WriteString("\nINITIAL PROMPT: (User-provided image)\n")
	return sb.String()
}
