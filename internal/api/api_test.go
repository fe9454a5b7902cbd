package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	backend "dataset-backend/internal/api"
	"dataset-backend/internal/database"
	"dataset-backend/internal/dataset"
	"dataset-backend/internal/planner"
	"dataset-backend/internal/storage"
	"dataset-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type mockStore struct {
	storage.ObjectStore

	uploadedDirs []string
	err          error
}

func (m *mockStore) UploadDir(ctx context.Context, bucket, prefix, src string) error {
	if m.err != nil {
		return m.err
	}
	m.uploadedDirs = append(m.uploadedDirs, fmt.Sprintf("%s/%s <- %s", bucket, prefix, src))
	return nil
}

func newTestService(t *testing.T, db *gorm.DB, store storage.ObjectStore) (chi.Router, string) {
	exportDir := t.TempDir()
	service := backend.NewBackendService(db, store, dataset.NewLibrary(), exportDir, planner.DefaultSplitConfig())
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router, exportDir
}

func cocoJSON(t *testing.T, numItems int) []byte {
	t.Helper()

	payload := map[string]any{
		"images":      []map[string]any{},
		"annotations": []map[string]any{},
		"categories":  []map[string]any{{"id": 1, "name": "plant"}},
	}
	images := payload["images"].([]map[string]any)
	annotations := payload["annotations"].([]map[string]any)
	for i := 1; i <= numItems; i++ {
		images = append(images, map[string]any{"id": i, "file_name": fmt.Sprintf("img_%03d.jpg", i)})
		annotations = append(annotations, map[string]any{"id": i, "image_id": i, "category_id": 1})
	}
	payload["images"] = images
	payload["annotations"] = annotations

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

func registerRequest(t *testing.T, fields map[string]string, annotations map[string][]byte, imageCount int) *http.Request {
	t.Helper()

	buf := new(bytes.Buffer)
	writer := multipart.NewWriter(buf)

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}

	for name, data := range annotations {
		part, err := writer.CreateFormFile("annotations", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}

	for i := 1; i <= imageCount; i++ {
		part, err := writer.CreateFormFile("images", fmt.Sprintf("img_%03d.jpg", i))
		require.NoError(t, err)
		_, err = part.Write([]byte("jpeg"))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/datasets", buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestRegisterDataset(t *testing.T) {
	db := createDB(t)
	router, exportDir := newTestService(t, db, &mockStore{})

	req := registerRequest(t,
		map[string]string{"name": "tomatoes"},
		map[string][]byte{"instances_default.json": cocoJSON(t, 10)},
		10,
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.RegisterDatasetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	assert.True(t, response.WasSplit)
	assert.Equal(t, map[string]int{"train": 8, "val": 2}, response.SubsetCounts)
	assert.Equal(t, map[string]int{"plant": 10}, response.Categories)

	// split dataset was exported
	_, err := os.Stat(filepath.Join(exportDir, response.DatasetId.String(), "annotations", "instances_train.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(exportDir, response.DatasetId.String(), "annotations", "instances_val.json"))
	assert.NoError(t, err)

	var record database.Dataset
	require.NoError(t, db.Preload("Categories").First(&record, "id = ?", response.DatasetId).Error)
	assert.Equal(t, "tomatoes", record.Name)
	assert.Equal(t, database.DatasetRegistered, record.Status)
	assert.True(t, record.WasSplit)
	require.Len(t, record.Categories, 1)
	assert.Equal(t, 10, record.Categories[0].ItemCount)
}

func TestRegisterDatasetPreSplit(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &mockStore{})

	req := registerRequest(t,
		map[string]string{"name": "presplit"},
		map[string][]byte{
			"instances_train.json": cocoJSON(t, 7),
			"instances_val.json":   cocoJSON(t, 3),
		},
		7,
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.RegisterDatasetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	assert.False(t, response.WasSplit)
	assert.Equal(t, map[string]int{"train": 7, "val": 3}, response.SubsetCounts)
	assert.Equal(t, map[string]int{"plant": 10}, response.Categories)
}

func TestRegisterDatasetMixedLayout(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &mockStore{})

	req := registerRequest(t,
		map[string]string{"name": "mixed"},
		map[string][]byte{
			"instances_default.json": cocoJSON(t, 2),
			"instances_train.json":   cocoJSON(t, 2),
			"instances_val.json":     cocoJSON(t, 2),
		},
		2,
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "mixed annotation layouts")
}

func TestRegisterDatasetUnrecognizedLayout(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &mockStore{})

	req := registerRequest(t,
		map[string]string{"name": "bad"},
		map[string][]byte{"annotations.json": cocoJSON(t, 2)},
		2,
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "annotations.json")
}

func TestRegisterDatasetParseFailure(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &mockStore{})

	req := registerRequest(t,
		map[string]string{"name": "broken"},
		map[string][]byte{"instances_default.json": []byte("{invalid json")},
		0,
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "dataset load failed")

	// no record persisted on failure
	var count int64
	require.NoError(t, db.Model(&database.Dataset{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRegisterDatasetTooFewItems(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &mockStore{})

	req := registerRequest(t,
		map[string]string{"name": "tiny"},
		map[string][]byte{"instances_default.json": cocoJSON(t, 1)},
		1,
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "not enough items")
}

func TestRegisterDatasetCustomRatio(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &mockStore{})

	req := registerRequest(t,
		map[string]string{"name": "halves", "train_ratio": "0.5"},
		map[string][]byte{"instances_default.json": cocoJSON(t, 10)},
		10,
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.RegisterDatasetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, map[string]int{"train": 5, "val": 5}, response.SubsetCounts)
}

func TestRegisterDatasetInvalidRatio(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &mockStore{})

	req := registerRequest(t,
		map[string]string{"name": "bad-ratio", "train_ratio": "1.5"},
		map[string][]byte{"instances_default.json": cocoJSON(t, 10)},
		10,
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListDatasets(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	db := createDB(t,
		&database.Dataset{Id: id1, Name: "first", Format: "coco_instances", Status: database.DatasetRegistered, CreationTime: time.Now().Add(-time.Hour)},
		&database.Dataset{Id: id2, Name: "second", Format: "coco_instances", Status: database.DatasetUploaded, CreationTime: time.Now()},
	)
	router, _ := newTestService(t, db, &mockStore{})

	req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response []api.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response, 2)
	assert.Equal(t, id2, response[0].Id)
	assert.Equal(t, id1, response[1].Id)
}

func TestGetDataset(t *testing.T) {
	datasetId := uuid.New()
	db := createDB(t,
		&database.Dataset{Id: datasetId, Name: "greenhouse", Format: "coco_instances", Status: database.DatasetRegistered, TrainRatio: 0.8, CreationTime: time.Now()},
		&database.DatasetCategory{DatasetId: datasetId, Category: "plant", ItemCount: 12},
		&database.DatasetCategory{DatasetId: datasetId, Category: "fruit", ItemCount: 4},
	)
	router, _ := newTestService(t, db, &mockStore{})

	req := httptest.NewRequest(http.MethodGet, "/datasets/"+datasetId.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response api.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "greenhouse", response.Name)
	assert.Equal(t, map[string]int{"plant": 12, "fruit": 4}, response.Categories)
}

func TestGetDatasetNotFound(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &mockStore{})

	req := httptest.NewRequest(http.MethodGet, "/datasets/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPushDatasetToS3(t *testing.T) {
	store := &mockStore{}
	db := createDB(t)
	router, _ := newTestService(t, db, store)

	req := registerRequest(t,
		map[string]string{"name": "to-upload"},
		map[string][]byte{"instances_default.json": cocoJSON(t, 4)},
		4,
	)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var registered api.RegisterDatasetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))

	body, err := json.Marshal(api.PushToS3Request{S3Uri: "s3://cv-datasets/tomatoes/", Comment: "cross_validation"})
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/datasets/"+registered.DatasetId.String()+"/s3", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, store.uploadedDirs, 1)
	assert.Contains(t, store.uploadedDirs[0], "cv-datasets/tomatoes")

	var record database.Dataset
	require.NoError(t, db.First(&record, "id = ?", registered.DatasetId).Error)
	assert.Equal(t, database.DatasetUploaded, record.Status)
	assert.Equal(t, "s3://cv-datasets/tomatoes/", record.S3Uri.String)
	assert.Equal(t, "cross_validation", record.Comment.String)
	assert.True(t, record.UploadTime.Valid)
}

func TestPushDatasetToS3InvalidURI(t *testing.T) {
	db := createDB(t,
		&database.Dataset{Id: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Name: "d", Format: "coco_instances", Status: database.DatasetRegistered, CreationTime: time.Now()},
	)
	router, _ := newTestService(t, db, &mockStore{})

	body, err := json.Marshal(api.PushToS3Request{S3Uri: "not-an-s3-uri"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/datasets/11111111-1111-1111-1111-111111111111/s3", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushDatasetToS3NotFound(t *testing.T) {
	db := createDB(t)
	router, _ := newTestService(t, db, &mockStore{})

	body, err := json.Marshal(api.PushToS3Request{S3Uri: "s3://bucket/prefix"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/datasets/"+uuid.NewString()+"/s3", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
