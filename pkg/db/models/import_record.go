package models

import (
	"encoding/json"
	"time"
)

// ImportKind identifies the shape of the committed source.
type ImportKind string

const (
	ImportKindExcel ImportKind = "excel"
	ImportKindCSV   ImportKind = "csv"
	// ImportKindRows is used when an already-normalized row list is committed
	// directly (e.g. after human edits in a front end).
	ImportKindRows ImportKind = "rows"
)

// ImportRecord is the append-only log of committed imports. SourceHash is the
// SHA-256 of the uploaded bytes and is unique: a second commit of the same
// file is refused while this record exists un-reverted.
type ImportRecord struct {
	ID            uint            `gorm:"column:id;primaryKey;autoIncrement"`
	SourceHash    string          `gorm:"column:source_hash;uniqueIndex;not null"`
	OriginalName  string          `gorm:"column:original_name;not null"`
	StoredPath    string          `gorm:"column:stored_path"`
	ImportKind    ImportKind      `gorm:"column:import_kind;not null"`
	ItemsCount    int             `gorm:"column:items_count;not null"`
	ItemsJSON     json.RawMessage `gorm:"column:items_json"`
	NormalizedCSV string          `gorm:"column:normalized_csv"`
	Supplier      *string         `gorm:"column:supplier"`
	Invoice       *string         `gorm:"column:invoice"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	RevertedAt    *time.Time      `gorm:"column:reverted_at"`
}

func (ImportRecord) TableName() string {
	return "import_records"
}

// ImportItem is one committed row as serialized into ItemsJSON.
type ImportItem struct {
	Article string  `json:"article"`
	Name    string  `json:"name"`
	Qty     float64 `json:"qty"`
}
