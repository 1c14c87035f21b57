package models

// LocationKind classifies a stock location.
type LocationKind string

const (
	// LocationKindHub is the central stockroom imports credit.
	LocationKindHub LocationKind = "hub"
	// LocationKindSatellite is a secondary storage or shelf location.
	LocationKindSatellite LocationKind = "satellite"
	// LocationKindSalesFloor is the write-off sink: stock moved there is
	// decremented at the source and not tracked further.
	LocationKindSalesFloor LocationKind = "salesfloor"
)

// Location is a place stock can sit, keyed by a short human code.
type Location struct {
	Code  string       `gorm:"column:code;primaryKey"`
	Kind  LocationKind `gorm:"column:kind;not null"`
	Title string       `gorm:"column:title;not null"`
}

func (Location) TableName() string {
	return "locations"
}
