package planner

import (
	"dataset-backend/internal/dataset"
)

// Session carries the state of one registration attempt through the
// pipeline. It is created per interaction and discarded afterwards; nothing
// in this package holds state between requests.
type Session struct {
	lib dataset.Library
	cfg SplitConfig

	Format   dataset.Format
	Subsets  SubsetMap
	Handle   dataset.Handle
	Stats    CategoryStats
	WasSplit bool
}

func NewSession(lib dataset.Library, cfg SplitConfig) *Session {
	return &Session{lib: lib, cfg: cfg}
}

// Register runs the full pipeline: classify the uploaded annotation files,
// load them through the dataset library, apply the train/val split if the
// upload does not already carry one, and aggregate category statistics.
// On error the session keeps no partial handle.
func (s *Session) Register(files UploadedFileSet, format string) error {
	resolved, err := DetectFormat(format, files.Annotations)
	if err != nil {
		return err
	}
	s.Format = resolved

	subsets, err := ClassifySubsets(files.Annotations)
	if err != nil {
		return err
	}
	s.Subsets = subsets

	images := make(map[string][]byte, len(files.Images))
	for _, img := range files.Images {
		images[img.Name] = img.Data
	}

	handle, err := LoadDataset(s.lib, resolved, subsets, images)
	if err != nil {
		return err
	}

	split, err := EnsureSplit(handle, s.cfg)
	if err != nil {
		return err
	}
	s.WasSplit = split != handle

	s.Handle = split
	s.Stats = ComputeCategoryStats(split)
	return nil
}
