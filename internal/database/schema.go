package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DatasetRegistered string = "REGISTERED"
	DatasetUploaded   string = "UPLOADED"
	DatasetFailed     string = "FAILED"
)

type Dataset struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name   string `gorm:"not null"`
	Format string `gorm:"size:40;not null"`
	Status string `gorm:"size:20;not null"`

	TrainRatio float64
	WasSplit   bool `gorm:"default:false"`

	// {"train": n, "val": m}
	SubsetCounts datatypes.JSON `gorm:"type:jsonb"`

	ExportPath string
	S3Uri      sql.NullString
	Comment    sql.NullString

	CreationTime time.Time
	UploadTime   sql.NullTime

	Categories []DatasetCategory `gorm:"foreignKey:DatasetId;constraint:OnDelete:CASCADE"`
}

type DatasetCategory struct {
	DatasetId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Category  string    `gorm:"primaryKey"`
	ItemCount int       `gorm:"default:0"`
}
