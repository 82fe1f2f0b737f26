package models

import (
	"time"

	"gorm.io/datatypes"
)

// StatusActive is the only lifecycle status products are created with.
const StatusActive = "active"

// Product represents a listing owned by a single vendor.
// Images are self-contained data URIs kept in display order.
type Product struct {
	ID          string                      `json:"id" gorm:"primaryKey;type:varchar(36)" bson:"_id"`
	Title       string                      `json:"title" gorm:"not null" bson:"title"`
	Description string                      `json:"description" bson:"description"`
	Price       float64                     `json:"price" gorm:"not null" bson:"price"`
	Images      datatypes.JSONSlice[string] `json:"images" gorm:"type:json" bson:"images"`
	Contacts    datatypes.JSONSlice[string] `json:"contacts" gorm:"type:json" bson:"contacts"`
	VendorID    string                      `json:"vendorId" gorm:"index;not null;type:varchar(36)" bson:"vendorId"`
	VendorEmail string                      `json:"vendorEmail" bson:"vendorEmail"`
	Status      string                      `json:"status" gorm:"type:varchar(16);default:'active'" bson:"status"`
	CreatedAt   time.Time                   `json:"createdAt" gorm:"index" bson:"createdAt"`
	UpdatedAt   time.Time                   `json:"updatedAt" bson:"updatedAt"`
}
