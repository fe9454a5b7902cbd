package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

type cocoImage struct {
	Id       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

type cocoAnnotation struct {
	Id           int             `json:"id"`
	ImageId      int             `json:"image_id"`
	CategoryId   int             `json:"category_id"`
	Bbox         []float64       `json:"bbox,omitempty"`
	Area         float64         `json:"area,omitempty"`
	Segmentation json.RawMessage `json:"segmentation,omitempty"`
	IsCrowd      int             `json:"iscrowd"`
}

type cocoCategory struct {
	Id            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

type cocoFile struct {
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []cocoCategory   `json:"categories"`
}

type cocoHandle struct {
	subsetOrder []string
	subsets     map[string]*cocoFile
	media       map[string][]byte
}

var _ Handle = (*cocoHandle)(nil)

type cocoLibrary struct{}

// NewLibrary returns the built-in dataset library. It currently parses COCO
// instances JSON; other formats are delegated to the external toolkit.
func NewLibrary() Library {
	return &cocoLibrary{}
}

func (l *cocoLibrary) Load(format Format, annotations map[string][]byte, images map[string][]byte) (Handle, error) {
	if format == FormatAuto {
		format = FormatCOCO
	}
	if _, err := normalizeFormat(format); err != nil {
		return nil, err
	}

	handle := &cocoHandle{
		subsets: make(map[string]*cocoFile, len(annotations)),
		media:   images,
	}

	for subset := range annotations {
		handle.subsetOrder = append(handle.subsetOrder, subset)
	}
	sort.Strings(handle.subsetOrder)

	for _, subset := range handle.subsetOrder {
		var file cocoFile
		if err := json.Unmarshal(annotations[subset], &file); err != nil {
			return nil, fmt.Errorf("parsing %q annotations: %w", subset, err)
		}

		for _, img := range file.Images {
			if _, ok := images[filepath.Base(img.FileName)]; !ok {
				return nil, fmt.Errorf("subset %q references missing image %q", subset, img.FileName)
			}
		}

		handle.subsets[subset] = &file
	}

	return handle, nil
}

func (h *cocoHandle) Format() Format { return FormatCOCO }

func (h *cocoHandle) Subsets() []string {
	return append([]string(nil), h.subsetOrder...)
}

func (h *cocoHandle) Items(subset string) []Item {
	file, ok := h.subsets[subset]
	if !ok {
		return nil
	}

	categoryNames := make(map[int]string, len(file.Categories))
	for _, cat := range file.Categories {
		categoryNames[cat.Id] = cat.Name
	}

	byImage := make(map[int][]string)
	for _, ann := range file.Annotations {
		name, ok := categoryNames[ann.CategoryId]
		if !ok {
			continue
		}
		if !contains(byImage[ann.ImageId], name) {
			byImage[ann.ImageId] = append(byImage[ann.ImageId], name)
		}
	}

	items := make([]Item, len(file.Images))
	for i, img := range file.Images {
		items[i] = Item{ID: strconv.Itoa(img.Id), Categories: byImage[img.Id]}
	}
	return items
}

func (h *cocoHandle) Categories() []string {
	seen := make(map[string]bool)
	var names []string
	for _, subset := range h.subsetOrder {
		for _, cat := range h.subsets[subset].Categories {
			if !seen[cat.Name] {
				seen[cat.Name] = true
				names = append(names, cat.Name)
			}
		}
	}
	return names
}

func (h *cocoHandle) Resubset(assign map[string]string) (Handle, error) {
	out := &cocoHandle{
		subsets: make(map[string]*cocoFile),
		media:   h.media,
	}

	for _, subset := range h.subsetOrder {
		src := h.subsets[subset]
		for _, img := range src.Images {
			target, ok := assign[strconv.Itoa(img.Id)]
			if !ok {
				return nil, fmt.Errorf("item %d in subset %q has no target subset", img.Id, subset)
			}

			dst, ok := out.subsets[target]
			if !ok {
				dst = &cocoFile{Categories: src.Categories}
				out.subsets[target] = dst
				out.subsetOrder = append(out.subsetOrder, target)
			}
			dst.Images = append(dst.Images, img)
			for _, ann := range src.Annotations {
				if ann.ImageId == img.Id {
					dst.Annotations = append(dst.Annotations, ann)
				}
			}
		}
	}

	sort.Strings(out.subsetOrder)
	return out, nil
}

func (h *cocoHandle) Export(dir string) error {
	annotationsDir := filepath.Join(dir, "annotations")
	if err := os.MkdirAll(annotationsDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create %s: %w", annotationsDir, err)
	}

	for _, subset := range h.subsetOrder {
		file := h.subsets[subset]

		data, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize %q annotations: %w", subset, err)
		}

		path := filepath.Join(annotationsDir, fmt.Sprintf("instances_%s.json", subset))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}

		imagesDir := filepath.Join(dir, "images", subset)
		if err := os.MkdirAll(imagesDir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create %s: %w", imagesDir, err)
		}
		for _, img := range file.Images {
			name := filepath.Base(img.FileName)
			content, ok := h.media[name]
			if !ok {
				return fmt.Errorf("subset %q references missing image %q", subset, img.FileName)
			}
			if err := os.WriteFile(filepath.Join(imagesDir, name), content, 0o644); err != nil {
				return fmt.Errorf("failed to write image %s: %w", name, err)
			}
		}
	}

	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
