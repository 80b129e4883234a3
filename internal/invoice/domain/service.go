package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	MaxEntriesPerInvoice = 100
	DefaultCurrency      = "USD"
)

type CreateInvoiceFromTimeRequest struct {
	EntryIDs   []snowflake.ID `json:"entry_ids" validate:"required,min=1,max=100,dive,required"`
	HourlyRate int64          `json:"hourly_rate" validate:"gt=0,lte=1000000000"`
	CustomerID snowflake.ID   `json:"customer_id" validate:"required"`
	DueDate    string         `json:"due_date" validate:"required,datetime=2006-01-02"`
	Currency   string         `json:"currency,omitempty" validate:"omitempty,iso4217"`
	// IdempotencyKey is optional; a key is derived from the request otherwise.
	IdempotencyKey string `json:"-"`
}

type CreateInvoiceFromTimeResponse struct {
	InvoiceID     snowflake.ID `json:"invoice_id"`
	InvoiceNumber string       `json:"invoice_number"`
	TotalHours    float64      `json:"total_hours"`
	TotalAmount   int64        `json:"total_amount"`
	Currency      string       `json:"currency"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	CustomerID string `form:"customer_id"`
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type ListFilter struct {
	CompanyID  snowflake.ID
	CustomerID snowflake.ID
	Cursor     *InvoiceCursor
	Limit      int
}

type InvoiceCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Repository interface {
	NextSequence(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (int64, error)
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertItems(ctx context.Context, db *gorm.DB, items []InvoiceItem) error
	FindByID(ctx context.Context, db *gorm.DB, companyID, id snowflake.ID) (*Invoice, error)
	ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
}

type Service interface {
	CreateInvoiceFromTime(ctx context.Context, req CreateInvoiceFromTimeRequest) (CreateInvoiceFromTimeResponse, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
}

var (
	ErrInvalidRequest       = apperr.New(apperr.KindInvalidArgument, "invalid_invoice_request")
	ErrInvalidInvoiceID     = apperr.New(apperr.KindInvalidArgument, "invalid_invoice_id")
	ErrInvalidPageToken     = apperr.New(apperr.KindInvalidArgument, "invalid_page_token")
	ErrInvoiceNotFound      = apperr.New(apperr.KindNotFound, "invoice_not_found")
	ErrEntryNotFound        = apperr.New(apperr.KindNotFound, "entry_not_found")
	ErrEntryNotApproved     = apperr.New(apperr.KindFailedPrecondition, "entry_not_approved")
	ErrEntryAlreadyInvoiced = apperr.New(apperr.KindFailedPrecondition, "entry_already_invoiced")
	ErrEntryNotClosed       = apperr.New(apperr.KindFailedPrecondition, "entry_not_closed")
	ErrEntriesChanged       = apperr.New(apperr.KindFailedPrecondition, "entries_changed")
)
