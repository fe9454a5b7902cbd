package planner

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"

	"dataset-backend/internal/dataset"
)

const (
	SubsetTrain   = "train"
	SubsetVal     = "val"
	SubsetDefault = "default"
)

var (
	// ErrUnrecognizedLayout means an annotation file name matches neither the
	// train/val pair layout nor the single default layout.
	ErrUnrecognizedLayout = errors.New("unrecognized annotation layout")

	// ErrMixedLayout means the upload contains both a pre-split pair and a
	// default file, or names the same subset twice.
	ErrMixedLayout = errors.New("mixed annotation layouts")

	// ErrLoadFailure wraps any error the dataset library reports while
	// parsing annotations or resolving image references.
	ErrLoadFailure = errors.New("dataset load failed")

	// ErrInsufficientItems means a split cannot produce two non-empty subsets.
	ErrInsufficientItems = errors.New("not enough items to split")

	ErrInvalidRatio = errors.New("train ratio must be in (0, 1)")
)

// UploadedFile is one uploaded file, name plus content.
type UploadedFile struct {
	Name string
	Data []byte
}

// UploadedFileSet holds the files of one registration attempt.
type UploadedFileSet struct {
	Images      []UploadedFile
	Annotations []UploadedFile
}

// SubsetMap maps a subset name derived from annotation file names to the raw
// annotation payload for that subset.
type SubsetMap map[string][]byte

// CategoryStats maps category names to annotated item counts.
type CategoryStats map[string]int

// SplitConfig controls the deterministic train/val split applied to datasets
// uploaded without a validation subset.
type SplitConfig struct {
	// TrainRatio is the fraction of items assigned to train. Default 0.8.
	TrainRatio float64

	// SplitTrainOnly extends auto-splitting to uploads that carry only a
	// train subset (no val, no default). When false such uploads pass
	// through unchanged.
	SplitTrainOnly bool
}

const DefaultTrainRatio = 0.8

func DefaultSplitConfig() SplitConfig {
	return SplitConfig{TrainRatio: DefaultTrainRatio}
}

func (c SplitConfig) Validate() error {
	if c.TrainRatio <= 0 || c.TrainRatio >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidRatio, c.TrainRatio)
	}
	return nil
}

// Annotation files follow the COCO convention <task>_<subset>.<ext>, e.g.
// instances_train.json or keypoints_default.json.
var annotationNamePattern = regexp.MustCompile(`^[A-Za-z][\w-]*_(train|val|validation|default)\.[A-Za-z0-9]+$`)

// ClassifySubsets derives the subset structure of an upload from its
// annotation file names. It returns either a train/val pair (layout a), a
// single default subset (layout b), or a lone train subset, whose handling
// is decided later by SplitConfig.SplitTrainOnly.
func ClassifySubsets(annotations []UploadedFile) (SubsetMap, error) {
	if len(annotations) == 0 {
		return nil, fmt.Errorf("%w: no annotation files uploaded", ErrUnrecognizedLayout)
	}

	subsets := make(SubsetMap, len(annotations))
	for _, file := range annotations {
		name := filepath.Base(file.Name)
		match := annotationNamePattern.FindStringSubmatch(name)
		if match == nil {
			return nil, fmt.Errorf("%w: %q does not match <task>_{train,val,default}.<ext>", ErrUnrecognizedLayout, name)
		}

		subset := match[1]
		if subset == "validation" {
			subset = SubsetVal
		}
		if _, ok := subsets[subset]; ok {
			return nil, fmt.Errorf("%w: subset %q appears more than once", ErrMixedLayout, subset)
		}
		subsets[subset] = file.Data
	}

	_, hasDefault := subsets[SubsetDefault]
	_, hasTrain := subsets[SubsetTrain]
	_, hasVal := subsets[SubsetVal]
	if hasDefault && (hasTrain || hasVal) {
		return nil, fmt.Errorf("%w: default subset uploaded alongside a train/val pair", ErrMixedLayout)
	}
	if hasVal && !hasTrain {
		return nil, fmt.Errorf("%w: val subset uploaded without a train subset", ErrUnrecognizedLayout)
	}

	return subsets, nil
}

// LoadDataset builds a dataset handle from a classified subset map. Any
// error the library reports is wrapped in ErrLoadFailure with its cause
// preserved.
func LoadDataset(lib dataset.Library, format dataset.Format, subsets SubsetMap, images map[string][]byte) (dataset.Handle, error) {
	handle, err := lib.Load(format, subsets, images)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailure, err)
	}
	return handle, nil
}

// EnsureSplit guarantees the handle carries a train/val pair. A handle that
// already has both subsets is returned unchanged; an explicit validation
// subset is never discarded or re-split. Otherwise items are partitioned in
// library order: the first round(ratio*N) go to train, the rest to val.
func EnsureSplit(handle dataset.Handle, cfg SplitConfig) (dataset.Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	subsets := handle.Subsets()
	hasTrain, hasVal := false, false
	for _, subset := range subsets {
		switch subset {
		case SubsetTrain:
			hasTrain = true
		case SubsetVal:
			hasVal = true
		}
	}

	if hasTrain && hasVal {
		return handle, nil
	}
	if hasTrain && !cfg.SplitTrainOnly {
		return handle, nil
	}

	var ids []string
	for _, subset := range subsets {
		for _, item := range handle.Items(subset) {
			ids = append(ids, item.ID)
		}
	}

	total := len(ids)
	if total < 2 {
		return nil, fmt.Errorf("%w: have %d item(s), need at least 2", ErrInsufficientItems, total)
	}

	trainCount := int(math.Round(cfg.TrainRatio * float64(total)))
	if trainCount == 0 || trainCount == total {
		return nil, fmt.Errorf("%w: ratio %v leaves an empty subset for %d items", ErrInsufficientItems, cfg.TrainRatio, total)
	}

	assign := make(map[string]string, total)
	for i, id := range ids {
		if i < trainCount {
			assign[id] = SubsetTrain
		} else {
			assign[id] = SubsetVal
		}
	}

	split, err := handle.Resubset(assign)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailure, err)
	}
	return split, nil
}

// ComputeCategoryStats counts annotated items per category across all
// subsets. A dataset with no categories yields an empty map.
func ComputeCategoryStats(handle dataset.Handle) CategoryStats {
	stats := make(CategoryStats)
	for _, subset := range handle.Subsets() {
		for _, item := range handle.Items(subset) {
			for _, category := range item.Categories {
				stats[category]++
			}
		}
	}
	return stats
}

// SubsetCounts reports the item count of every subset, for display.
func SubsetCounts(handle dataset.Handle) map[string]int {
	counts := make(map[string]int)
	for _, subset := range handle.Subsets() {
		counts[subset] = len(handle.Items(subset))
	}
	return counts
}

// DetectFormat resolves the requested format, falling back to extension
// based detection on the first annotation file.
func DetectFormat(requested string, annotations []UploadedFile) (dataset.Format, error) {
	format := dataset.Format(strings.TrimSpace(requested))
	if format != "" && format != dataset.FormatAuto {
		return format, nil
	}
	if len(annotations) == 0 {
		return "", fmt.Errorf("%w: no annotation files uploaded", ErrUnrecognizedLayout)
	}
	detected, err := dataset.DetectFormat(annotations[0].Name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoadFailure, err)
	}
	return detected, nil
}
