// Package domain defines the review workflow for closed time entries.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db"
)

const (
	MaxBulkEntries = 500

	// opsPerEntry counts the entry update and its audit row.
	opsPerEntry = 2

	// ChunkSize keeps each bulk commit within db.MaxBatchOps writes.
	ChunkSize = db.MaxBatchOps / opsPerEntry
)

// Per-item messages reported by bulk operations.
const (
	MsgNotFound         = "not found"
	MsgDifferentCompany = "different company"
	MsgAlreadyProcessed = "already processed"
	MsgStillActive      = "entry still active"
	MsgLocked           = "entry locked"
	MsgModified         = "entry modified"
	MsgInternal         = "internal error"
)

type ApproveRequest struct {
	EntryID snowflake.ID `json:"-" validate:"required"`
}

type RejectRequest struct {
	EntryID snowflake.ID `json:"-" validate:"required"`
	Reason  string       `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

type Result struct {
	Success bool `json:"success"`
}

type BulkApproveRequest struct {
	EntryIDs []snowflake.ID `json:"entry_ids" validate:"required,min=1,max=500,dive,required"`
}

type BulkRejectRequest struct {
	EntryIDs []snowflake.ID `json:"entry_ids" validate:"required,min=1,max=500,dive,required"`
	Reason   string         `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

type ItemError struct {
	EntryID snowflake.ID `json:"entry_id"`
	Error   string       `json:"error"`
}

type BulkApproveResponse struct {
	Approved int         `json:"approved"`
	Failed   int         `json:"failed"`
	Errors   []ItemError `json:"errors"`
}

type BulkRejectResponse struct {
	Rejected int         `json:"rejected"`
	Failed   int         `json:"failed"`
	Errors   []ItemError `json:"errors"`
}

type Service interface {
	ApproveEntry(ctx context.Context, req ApproveRequest) (Result, error)
	RejectEntry(ctx context.Context, req RejectRequest) (Result, error)
	BulkApprove(ctx context.Context, req BulkApproveRequest) (BulkApproveResponse, error)
	BulkReject(ctx context.Context, req BulkRejectRequest) (BulkRejectResponse, error)

	// AutoApprove approves clean pending entries older than each company's
	// auto_approve_days and returns how many were approved.
	AutoApprove(ctx context.Context, limit int) (int, error)
}

var (
	ErrInvalidRequest        = apperr.New(apperr.KindInvalidArgument, "invalid_approval_request")
	ErrEntryAlreadyProcessed = apperr.New(apperr.KindFailedPrecondition, "entry_already_processed")
)
