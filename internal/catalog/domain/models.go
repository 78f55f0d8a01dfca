// Package domain contains the product identity models owned by the catalog.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Product is the internal identity an external SKU/EAN resolves to. The
// engine only needs the key; name and brand ride along for reporting.
type Product struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	ExternalRef string       `gorm:"type:text;not null;uniqueIndex"`
	Name        string       `gorm:"type:text"`
	Brand       string       `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Product) TableName() string { return "products" }
