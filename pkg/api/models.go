package api

import (
	"time"

	"github.com/google/uuid"
)

type Dataset struct {
	Id     uuid.UUID
	Name   string
	Format string
	Status string

	TrainRatio float64
	WasSplit   bool

	SubsetCounts map[string]int
	Categories   map[string]int `json:"Categories,omitempty"`

	S3Uri   string `json:"S3Uri,omitempty"`
	Comment string `json:"Comment,omitempty"`

	CreationTime time.Time
}

type RegisterDatasetResponse struct {
	DatasetId uuid.UUID

	WasSplit     bool
	SubsetCounts map[string]int
	Categories   map[string]int
}

type ListDatasetsRequest struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

type PushToS3Request struct {
	S3Uri   string
	Comment string
}

type PushToS3Response struct {
	S3Uri string
}
