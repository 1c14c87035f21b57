package models

import "time"

// StockEventType labels stock event ledger entries.
type StockEventType string

const (
	// StockEventHubCredit marks a positive credit at a hub location, used to
	// un-archive dormant products and drive downstream notifications.
	StockEventHubCredit StockEventType = "hub_credit"
	// StockEventThreshold marks a stock level crossing a notification
	// threshold (zero, last pack).
	StockEventThreshold StockEventType = "threshold"
)

// StockEvent is an append-only record of a stock movement of interest to
// reporting and notification collaborators.
type StockEvent struct {
	ID           uint           `gorm:"column:id;primaryKey;autoIncrement"`
	Type         StockEventType `gorm:"column:type;not null"`
	ProductID    uint           `gorm:"column:product_id;not null;index"`
	LocationCode string         `gorm:"column:location_code"`
	Delta        float64        `gorm:"column:delta"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (StockEvent) TableName() string {
	return "stock_events"
}
