package api

import (
	"encoding/json"
	"log/slog"

	"dataset-backend/internal/database"
	"dataset-backend/pkg/api"

	"gorm.io/datatypes"
)

func convertDataset(record database.Dataset) api.Dataset {
	out := api.Dataset{
		Id:           record.Id,
		Name:         record.Name,
		Format:       record.Format,
		Status:       record.Status,
		TrainRatio:   record.TrainRatio,
		WasSplit:     record.WasSplit,
		S3Uri:        record.S3Uri.String,
		Comment:      record.Comment.String,
		CreationTime: record.CreationTime,
	}

	if len(record.SubsetCounts) > 0 {
		if err := json.Unmarshal(record.SubsetCounts, &out.SubsetCounts); err != nil {
			slog.Error("error decoding subset counts", "dataset_id", record.Id, "error", err)
		}
	}

	if len(record.Categories) > 0 {
		out.Categories = make(map[string]int, len(record.Categories))
		for _, category := range record.Categories {
			out.Categories[category.Category] = category.ItemCount
		}
	}

	return out
}

func marshalCounts(counts map[string]int) datatypes.JSON {
	data, err := json.Marshal(counts)
	if err != nil {
		slog.Error("error encoding subset counts", "error", err)
		return nil
	}
	return datatypes.JSON(data)
}
