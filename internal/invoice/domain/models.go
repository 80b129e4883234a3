// Package domain contains persistence models for time-based invoicing.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Invoice is created once from approved time and never updated by this
// service. Amounts are in minor currency units.
type Invoice struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	CompanyID     snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_invoices_company_sequence,priority:1" json:"company_id"`
	Sequence      int64          `gorm:"not null;uniqueIndex:ux_invoices_company_sequence,priority:2" json:"-"`
	InvoiceNumber string         `gorm:"type:varchar(64);not null" json:"invoice_number"`
	CustomerID    snowflake.ID   `gorm:"not null;index" json:"customer_id"`
	JobID         *snowflake.ID  `gorm:"index" json:"job_id,omitempty"`
	Currency      string         `gorm:"type:varchar(3);not null" json:"currency"`
	HourlyRate    int64          `gorm:"not null" json:"hourly_rate"`
	TotalSeconds  int64          `gorm:"not null" json:"-"`
	TotalHours    float64        `gorm:"not null" json:"total_hours"`
	Amount        int64          `gorm:"not null" json:"amount"`
	DueAt         time.Time      `gorm:"not null" json:"due_at"`
	TimeEntryIDs  datatypes.JSON `gorm:"type:json;not null" json:"time_entry_ids"`
	CreatedBy     snowflake.ID   `gorm:"not null" json:"created_by"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`

	Items []InvoiceItem `gorm:"-" json:"items,omitempty"`
}

func (Invoice) TableName() string { return "invoices" }

// EntryIDs decodes the stored time entry id list.
func (i Invoice) EntryIDs() ([]snowflake.ID, error) {
	var raw []string
	if len(i.TimeEntryIDs) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(i.TimeEntryIDs, &raw); err != nil {
		return nil, err
	}
	out := make([]snowflake.ID, 0, len(raw))
	for _, v := range raw {
		id, err := snowflake.ParseString(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// InvoiceItem is one billed time entry.
type InvoiceItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID   snowflake.ID `gorm:"not null;index" json:"company_id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	TimeEntryID snowflake.ID `gorm:"not null;uniqueIndex" json:"time_entry_id"`
	Description string       `gorm:"type:text" json:"description"`
	Seconds     int64        `gorm:"not null" json:"-"`
	Hours       float64      `gorm:"not null" json:"hours"`
	UnitAmount  int64        `gorm:"not null" json:"unit_amount"`
	Amount      int64        `gorm:"not null" json:"amount"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

func (InvoiceItem) TableName() string { return "invoice_items" }
