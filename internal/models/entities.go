package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Location is a fuel station.
type Location struct {
	ID                      uint      `gorm:"primary_key" json:"id"`
	Name                    string    `gorm:"size:100;not null" json:"name"`
	ConsolidatedPaymentMode bool      `gorm:"not null;default:false" json:"consolidated_payment_mode"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Product is a catalog item. SalePrice is quoted per Unit.
type Product struct {
	ID           uint            `gorm:"primary_key" json:"id"`
	Code         string          `gorm:"size:50;not null;uniqueIndex" json:"code"`
	Name         string          `gorm:"size:100;not null" json:"name"`
	Unit         string          `gorm:"size:20;not null" json:"unit"`
	IsFuel       bool            `gorm:"not null;default:false" json:"is_fuel"`
	SalePrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sale_price"`
	CurrentStock decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_stock"`
	MinStock     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"min_stock"`
	Active       bool            `gorm:"not null;default:true" json:"active"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CalibrationPoint maps a fluid height to a volume in gallons.
type CalibrationPoint struct {
	Height decimal.Decimal `json:"height"`
	Volume decimal.Decimal `json:"volume"`
}

// Tank stores one fuel product at one location. Levels and capacity are in gallons.
type Tank struct {
	ID           uint               `gorm:"primary_key" json:"id"`
	LocationID   uint               `gorm:"index;not null" json:"location_id"`
	ProductID    uint               `gorm:"index;not null" json:"product_id"`
	Code         string             `gorm:"size:50" json:"code"`
	Capacity     decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"capacity"`
	MaxHeight    decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"max_height"`
	MinLevel     decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"min_level"`
	CurrentLevel decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"current_level"`
	Occupancy    decimal.Decimal    `gorm:"type:decimal(10,2);default:0" json:"occupancy"`
	Calibration  []CalibrationPoint `gorm:"serializer:json;type:text" json:"calibration,omitempty"`
	Active       bool               `gorm:"not null;default:true" json:"active"`
	UpdatedAt    time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// PaymentBucket is the reporting group of a payment method.
type PaymentBucket string

const (
	BucketCash     PaymentBucket = "cash"
	BucketCard     PaymentBucket = "card"
	BucketTransfer PaymentBucket = "transfer"
	BucketVoucher  PaymentBucket = "voucher"
	BucketLoyalty  PaymentBucket = "loyalty"
	BucketOther    PaymentBucket = "other"
)

// ParseBucket returns the bucket named by s, or BucketOther.
func ParseBucket(s string) (PaymentBucket, bool) {
	switch b := PaymentBucket(s); b {
	case BucketCash, BucketCard, BucketTransfer, BucketVoucher, BucketLoyalty, BucketOther:
		return b, true
	}
	return BucketOther, false
}

// PaymentMethod is a registered way of paying.
type PaymentMethod struct {
	ID     uint   `gorm:"primary_key" json:"id"`
	Code   string `gorm:"size:50;not null;uniqueIndex" json:"code"`
	Name   string `gorm:"size:100" json:"name"`
	Bucket string `gorm:"size:20" json:"bucket"`
	Active bool   `gorm:"not null;default:true" json:"active"`
}

// CashLedger is the running cash balance of a location.
type CashLedger struct {
	ID         uint            `gorm:"primary_key" json:"id"`
	LocationID uint            `gorm:"not null;uniqueIndex" json:"location_id"`
	Balance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
