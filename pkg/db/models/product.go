package models

import "time"

// Product is a catalog entry keyed by its supplier article code. The article
// is unique and immutable once an import assigns it; repeat imports merge
// into the same row instead of overwriting it.
type Product struct {
	ID            uint       `gorm:"column:id;primaryKey;autoIncrement"`
	Article       string     `gorm:"column:article;uniqueIndex;not null"`
	Name          string     `gorm:"column:name;not null"`
	BrandCountry  *string    `gorm:"column:brand_country"`
	LocalName     *string    `gorm:"column:local_name"`
	IsNew         bool       `gorm:"column:is_new;not null;default:false"`
	Archived      bool       `gorm:"column:archived;not null;default:false"`
	ArchivedAt    *time.Time `gorm:"column:archived_at"`
	LastRestockAt *time.Time `gorm:"column:last_restock_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Product) TableName() string {
	return "products"
}

// DisplayName prefers the local override over the imported name.
func (p Product) DisplayName() string {
	if p.LocalName != nil && *p.LocalName != "" {
		return *p.LocalName
	}
	return p.Name
}
