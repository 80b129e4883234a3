package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStore struct {
	db *gorm.DB
}

// NewGormStore keeps records in the idempotency_records table.
func NewGormStore(db *gorm.DB) domain.Store {
	return &gormStore{db: db}
}

func (s *gormStore) Get(ctx context.Context, key string) (*domain.Record, error) {
	var record domain.Record
	err := s.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (s *gormStore) PutIfAbsent(ctx context.Context, record *domain.Record) (bool, error) {
	if record == nil {
		return false, errors.New("missing_idempotency_record")
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *gormStore) PurgeExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	var keys []string
	if err := s.db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("expires_at <= ?", now.UTC()).
		Order("expires_at asc").
		Limit(limit).
		Pluck("idempotency_key", &keys).Error; err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Where("idempotency_key IN ? AND expires_at <= ?", keys, now.UTC()).
		Delete(&domain.Record{})
	return result.RowsAffected, result.Error
}
