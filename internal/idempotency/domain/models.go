package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	// TTLDefault applies to ordinary mutating operations.
	TTLDefault = 7 * 24 * time.Hour
	// TTLPayment applies to payment-type operations such as invoicing.
	TTLPayment = 30 * 24 * time.Hour
)

// Record is the stored outcome of one logical operation. Never updated.
type Record struct {
	Key       string         `gorm:"column:idempotency_key;primaryKey;type:varchar(128)" json:"key"`
	CompanyID snowflake.ID   `gorm:"not null;index" json:"company_id"`
	Operation string         `gorm:"type:varchar(64);not null" json:"operation"`
	Result    datatypes.JSON `gorm:"type:json" json:"result"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	ExpiresAt time.Time      `gorm:"not null;index" json:"expires_at"`
}

func (Record) TableName() string { return "idempotency_records" }

func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Decode unmarshals the stored result into out.
func (r *Record) Decode(out any) error {
	if r == nil || len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, out)
}
