package api

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"dataset-backend/internal/database"
	"dataset-backend/internal/dataset"
	"dataset-backend/internal/planner"
	"dataset-backend/internal/storage"
	"dataset-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cap on the in-memory portion of a multipart upload; larger parts spill to
// temp files.
const maxUploadMemory = 64 << 20

type BackendService struct {
	db        *gorm.DB
	store     storage.ObjectStore
	lib       dataset.Library
	exportDir string
	splitCfg  planner.SplitConfig
}

func NewBackendService(db *gorm.DB, store storage.ObjectStore, lib dataset.Library, exportDir string, splitCfg planner.SplitConfig) *BackendService {
	return &BackendService{db: db, store: store, lib: lib, exportDir: exportDir, splitCfg: splitCfg}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", RestHandler(s.RegisterDataset))
		r.Get("/", RestHandler(s.ListDatasets))
		r.Get("/{dataset_id}", RestHandler(s.GetDataset))
		r.Post("/{dataset_id}/s3", RestHandler(s.PushDatasetToS3))
	})
}

// RegisterDataset runs one registration interaction: classify the uploaded
// annotation files, load them, split train/val if needed, export the result
// under the export root, and persist the registration record. Nothing is
// persisted if any step fails.
func (s *BackendService) RegisterDataset(r *http.Request) (any, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart upload: %v", err)
	}

	name := r.FormValue("name")
	if name == "" {
		name = "dataset"
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	cfg, err := s.splitConfigFromForm(r)
	if err != nil {
		return nil, err
	}

	files, err := uploadedFiles(r)
	if err != nil {
		return nil, err
	}
	if len(files.Annotations) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "at least one annotation file is required")
	}

	session := planner.NewSession(s.lib, cfg)
	if err := session.Register(files, r.FormValue("format")); err != nil {
		return nil, plannerError(err)
	}

	ctx := r.Context()
	id := uuid.New()

	exportPath := filepath.Join(s.exportDir, id.String())
	if err := session.Handle.Export(exportPath); err != nil {
		slog.Error("error exporting dataset", "dataset_id", id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to export dataset")
	}

	subsetCounts := planner.SubsetCounts(session.Handle)

	record := &database.Dataset{
		Id:           id,
		Name:         name,
		Format:       string(session.Format),
		Status:       database.DatasetRegistered,
		TrainRatio:   cfg.TrainRatio,
		WasSplit:     session.WasSplit,
		SubsetCounts: marshalCounts(subsetCounts),
		ExportPath:   exportPath,
		CreationTime: time.Now().UTC(),
	}
	for category, count := range session.Stats {
		record.Categories = append(record.Categories, database.DatasetCategory{
			DatasetId: id,
			Category:  category,
			ItemCount: count,
		})
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		slog.Error("error creating dataset record", "dataset_id", id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create dataset record")
	}

	slog.Info("Registered dataset", "dataset_id", id, "name", name, "was_split", session.WasSplit)

	return api.RegisterDatasetResponse{
		DatasetId:    id,
		WasSplit:     session.WasSplit,
		SubsetCounts: subsetCounts,
		Categories:   session.Stats,
	}, nil
}

func (s *BackendService) ListDatasets(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListDatasetsRequest](r)
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}

	var records []database.Dataset
	if err := s.db.WithContext(r.Context()).
		Order("creation_time DESC").
		Offset(params.Offset).
		Limit(params.Limit).
		Find(&records).Error; err != nil {
		slog.Error("error listing datasets", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset records")
	}

	datasets := make([]api.Dataset, len(records))
	for i, record := range records {
		datasets[i] = convertDataset(record)
	}
	return datasets, nil
}

func (s *BackendService) GetDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	var record database.Dataset
	if err := s.db.WithContext(r.Context()).
		Preload("Categories").
		First(&record, "id = ?", datasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		slog.Error("error getting dataset", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}

	return convertDataset(record), nil
}

// PushDatasetToS3 copies a registered dataset's export directory to a user
// supplied s3://bucket/prefix destination.
func (s *BackendService) PushDatasetToS3(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.PushToS3Request](r)
	if err != nil {
		return nil, err
	}

	bucket, prefix, err := storage.ParseS3URI(req.S3Uri)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	ctx := r.Context()

	var record database.Dataset
	if err := s.db.WithContext(ctx).First(&record, "id = ?", datasetId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "dataset not found")
		}
		slog.Error("error getting dataset", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving dataset record")
	}

	if err := s.store.UploadDir(ctx, bucket, prefix, record.ExportPath); err != nil {
		slog.Error("error uploading dataset to s3", "dataset_id", datasetId, "s3_uri", req.S3Uri, "error", err)
		return nil, CodedErrorf(http.StatusBadGateway, "failed to upload dataset to %s: %v", req.S3Uri, err)
	}

	updates := map[string]any{
		"s3_uri":      req.S3Uri,
		"comment":     sql.NullString{String: req.Comment, Valid: req.Comment != ""},
		"status":      database.DatasetUploaded,
		"upload_time": time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Model(&database.Dataset{Id: datasetId}).Updates(updates).Error; err != nil {
		slog.Error("error updating dataset record after upload", "dataset_id", datasetId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to update dataset record")
	}

	slog.Info("Uploaded dataset to s3", "dataset_id", datasetId, "s3_uri", req.S3Uri)

	return api.PushToS3Response{S3Uri: req.S3Uri}, nil
}

func (s *BackendService) splitConfigFromForm(r *http.Request) (planner.SplitConfig, error) {
	cfg := s.splitCfg

	if v := r.FormValue("train_ratio"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, CodedErrorf(http.StatusBadRequest, "invalid train_ratio %q", v)
		}
		cfg.TrainRatio = ratio
	}
	if v := r.FormValue("split_train_only"); v != "" {
		splitTrainOnly, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, CodedErrorf(http.StatusBadRequest, "invalid split_train_only %q", v)
		}
		cfg.SplitTrainOnly = splitTrainOnly
	}

	if err := cfg.Validate(); err != nil {
		return cfg, CodedError(http.StatusUnprocessableEntity, err)
	}
	return cfg, nil
}

func uploadedFiles(r *http.Request) (planner.UploadedFileSet, error) {
	images, err := readFormFiles(r, "images")
	if err != nil {
		return planner.UploadedFileSet{}, err
	}
	annotations, err := readFormFiles(r, "annotations")
	if err != nil {
		return planner.UploadedFileSet{}, err
	}
	return planner.UploadedFileSet{Images: images, Annotations: annotations}, nil
}

func readFormFiles(r *http.Request, field string) ([]planner.UploadedFile, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}

	var files []planner.UploadedFile
	for _, header := range r.MultipartForm.File[field] {
		file, err := header.Open()
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "unable to open uploaded file %q: %v", header.Filename, err)
		}

		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "unable to read uploaded file %q: %v", header.Filename, err)
		}

		files = append(files, planner.UploadedFile{Name: filepath.Base(header.Filename), Data: data})
	}
	return files, nil
}

func plannerError(err error) error {
	switch {
	case errors.Is(err, planner.ErrUnrecognizedLayout),
		errors.Is(err, planner.ErrMixedLayout),
		errors.Is(err, planner.ErrInsufficientItems),
		errors.Is(err, planner.ErrInvalidRatio):
		return CodedError(http.StatusUnprocessableEntity, err)
	case errors.Is(err, planner.ErrLoadFailure):
		return CodedError(http.StatusBadRequest, err)
	}
	return CodedError(http.StatusInternalServerError, err)
}
