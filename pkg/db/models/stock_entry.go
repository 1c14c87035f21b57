package models

// StockEntry is the quantity of one product at one location. The quantity is
// always positive: entries that reach zero or below are deleted, never kept.
// Name and LocalName are denormalized from the product for fast listings.
type StockEntry struct {
	ProductID    uint    `gorm:"column:product_id;primaryKey"`
	LocationCode string  `gorm:"column:location_code;primaryKey"`
	Qty          float64 `gorm:"column:qty;not null;default:0"`
	Name         *string `gorm:"column:name"`
	LocalName    *string `gorm:"column:local_name"`
}

func (StockEntry) TableName() string {
	return "stock_entries"
}
