package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// forUpdate adds SELECT ... FOR UPDATE on dialects with row locks.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.TimeEntry) error {
	return repository.ProvideStore[domain.TimeEntry](db).Create(ctx, entry)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.TimeEntry, error) {
	return repository.ProvideStore[domain.TimeEntry](db).FindOne(ctx, &domain.TimeEntry{ID: id})
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.TimeEntry, error) {
	return repository.ProvideStore[domain.TimeEntry](db).FindOne(ctx, &domain.TimeEntry{ID: id}, forUpdate)
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID, lock bool) ([]*domain.TimeEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	scopes := []repository.Scope{
		repository.Where("id IN ?", ids),
		repository.OrderBy("id asc"),
	}
	if lock {
		scopes = append(scopes, forUpdate)
	}
	return repository.ProvideStore[domain.TimeEntry](db).Find(ctx, nil, scopes...)
}

func (r *repo) FindByClientEvent(ctx context.Context, db *gorm.DB, companyID, userID snowflake.ID, clientEventID string) (*domain.TimeEntry, error) {
	return repository.ProvideStore[domain.TimeEntry](db).FindOne(ctx,
		&domain.TimeEntry{CompanyID: companyID, UserID: userID},
		repository.Where("client_event_id = ?", clientEventID),
	)
}

func (r *repo) FindActiveForUser(ctx context.Context, db *gorm.DB, companyID, userID snowflake.ID, lock bool) ([]*domain.TimeEntry, error) {
	scopes := []repository.Scope{
		repository.Where("status = ?", domain.StatusActive),
		repository.OrderBy("clock_in_at asc"),
	}
	if lock {
		scopes = append(scopes, forUpdate)
	}
	return repository.ProvideStore[domain.TimeEntry](db).Find(ctx,
		&domain.TimeEntry{CompanyID: companyID, UserID: userID},
		scopes...,
	)
}

func (r *repo) ListClosedForUser(ctx context.Context, db *gorm.DB, companyID, userID snowflake.ID, from, to time.Time) ([]*domain.TimeEntry, error) {
	return repository.ProvideStore[domain.TimeEntry](db).Find(ctx,
		&domain.TimeEntry{CompanyID: companyID, UserID: userID},
		repository.Where("clock_out_at IS NOT NULL"),
		repository.Where("clock_in_at >= ? AND clock_in_at < ?", from, to),
		repository.OrderBy("clock_in_at asc, id asc"),
	)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.TimeEntry, error) {
	var entries []*domain.TimeEntry
	stmt := db.WithContext(ctx).Model(&domain.TimeEntry{}).
		Where("company_id = ?", filter.CompanyID)

	if filter.UserID != nil {
		stmt = stmt.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.Tag != nil {
		stmt = stmt.Where("exception_tags LIKE ?", domain.TagPattern(*filter.Tag))
	}
	if filter.NeedsReview != nil {
		stmt = stmt.Where("needs_review = ?", *filter.NeedsReview)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(clock_in_at < ?) OR (clock_in_at = ? AND id < ?)",
			filter.Cursor.ClockInAt,
			filter.Cursor.ClockInAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("clock_in_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListActiveStartedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, after *domain.EntryCursor, limit int) ([]*domain.TimeEntry, error) {
	scopes := []repository.Scope{
		repository.Where("status = ?", domain.StatusActive),
		repository.Where("clock_in_at <= ?", cutoff),
	}
	if after != nil {
		scopes = append(scopes, repository.Where("(clock_in_at > ?) OR (clock_in_at = ? AND id > ?)",
			after.ClockInAt,
			after.ClockInAt,
			after.ID,
		))
	}
	scopes = append(scopes,
		repository.OrderBy("clock_in_at asc, id asc"),
		repository.Limit(limit),
	)
	return repository.ProvideStore[domain.TimeEntry](db).Find(ctx, nil, scopes...)
}

func (r *repo) ListPendingClosedBefore(ctx context.Context, db *gorm.DB, companyID snowflake.ID, cutoff time.Time, limit int) ([]*domain.TimeEntry, error) {
	return repository.ProvideStore[domain.TimeEntry](db).Find(ctx,
		&domain.TimeEntry{CompanyID: companyID},
		repository.Where("status = ?", domain.StatusPending),
		repository.Where("needs_review = ?", false),
		repository.Where("invoice_id IS NULL"),
		repository.Where("clock_out_at IS NOT NULL AND clock_out_at <= ?", cutoff),
		repository.OrderBy("clock_out_at asc, id asc"),
		repository.Limit(limit),
	)
}

func (r *repo) UpdateIfStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, expected []domain.Status, fields domain.Fields) (int64, error) {
	if len(expected) == 0 {
		return 0, errors.New("timeentry: expected statuses required")
	}
	result := db.WithContext(ctx).Model(&domain.TimeEntry{}).
		Where("id = ? AND status IN ? AND invoice_id IS NULL", id, expected).
		Updates(map[string]any(fields))
	return result.RowsAffected, result.Error
}

func (r *repo) LockForInvoice(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Model(&domain.TimeEntry{}).
		Where("id IN ? AND status = ? AND invoice_id IS NULL", ids, domain.StatusApproved).
		Updates(map[string]any{
			"invoice_id":  invoiceID,
			"invoiced_at": at,
			"updated_at":  at,
		})
	return result.RowsAffected, result.Error
}
