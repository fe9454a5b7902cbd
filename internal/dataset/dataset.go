package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies an annotation format understood by the library.
type Format string

const (
	// FormatAuto resolves the format from the annotation file extension.
	FormatAuto Format = "auto"

	FormatCOCO Format = "coco_instances"
)

// Format names accepted by the upstream toolkit but not parsed by this
// library. Requests for these fail with a clearer message than a plain
// unknown-format error.
var externalFormats = map[Format]bool{
	"voc":        true,
	"cityscapes": true,
	"ade20k":     true,
}

var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// Item is one annotated unit (an image plus its annotations) within a subset.
// Categories lists the distinct category names annotated on the item, in
// annotation order.
type Item struct {
	ID         string
	Categories []string
}

// Handle is a loaded, possibly multi-subset dataset. Items are reported in
// the order they appear in the source annotation file, which callers rely on
// for reproducible splits.
type Handle interface {
	Format() Format

	Subsets() []string

	Items(subset string) []Item

	Categories() []string

	// Resubset returns a new handle with every item moved to the subset named
	// in assign (keyed by item id). Every item must be assigned.
	Resubset(assign map[string]string) (Handle, error)

	// Export writes the dataset under dir: one annotation file per subset plus
	// the media files.
	Export(dir string) error
}

// Library loads raw annotation payloads, keyed by subset name, into a Handle.
// The images map holds uploaded media content keyed by file name.
type Library interface {
	Load(format Format, annotations map[string][]byte, images map[string][]byte) (Handle, error)
}

// DetectFormat infers the annotation format from a file name.
func DetectFormat(annotationName string) (Format, error) {
	switch strings.ToLower(filepath.Ext(annotationName)) {
	case ".json":
		return FormatCOCO, nil
	}
	return "", fmt.Errorf("%w: cannot infer format of %q", ErrUnsupportedFormat, annotationName)
}

func normalizeFormat(format Format) (Format, error) {
	switch format {
	case FormatCOCO, "coco":
		return FormatCOCO, nil
	}
	if externalFormats[format] {
		return "", fmt.Errorf("%w: %q requires the external toolkit", ErrUnsupportedFormat, format)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}
