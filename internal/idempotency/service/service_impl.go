package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/smallbiznis/fieldclock/internal/clock"
	"github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	"github.com/smallbiznis/fieldclock/internal/observability/metrics"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Store   domain.Store
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	store   domain.Store
	log     *zap.Logger
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		store:   p.Store,
		log:     p.Log.Named("idempotency.service"),
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Check(ctx context.Context, key string, opts ...domain.CheckOption) (*domain.Record, bool, error) {
	var options domain.CheckOptions
	for _, opt := range opts {
		opt(&options)
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, domain.ErrInvalidKey
	}
	operation := operationOf(key)

	record, err := s.store.Get(ctx, key)
	if err != nil {
		s.metrics.RecordIdempotency(operation, metrics.IdempotencyLookupFail)
		if options.FailClosed {
			ctxlogger.WithContext(ctx, s.log).Error("idempotency lookup failed, refusing operation",
				zap.String("operation", operation),
				zap.Error(err),
			)
			return nil, false, domain.ErrUnavailable
		}
		ctxlogger.WithContext(ctx, s.log).Warn("idempotency lookup failed, proceeding",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return nil, false, nil
	}
	if record == nil || record.Expired(s.clock.Now()) {
		s.metrics.RecordIdempotency(operation, metrics.IdempotencyMiss)
		return nil, false, nil
	}

	s.metrics.RecordIdempotency(operation, metrics.IdempotencyHit)
	return record, true, nil
}

func (s *Service) Record(ctx context.Context, req domain.RecordRequest) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = domain.TTLDefault
	}

	payload, err := json.Marshal(req.Result)
	if err != nil {
		s.log.Warn("idempotency result not serializable", zap.String("operation", req.Operation), zap.Error(err))
		return
	}

	now := s.clock.Now()
	record := &domain.Record{
		Key:       key,
		CompanyID: req.CompanyID,
		Operation: req.Operation,
		Result:    datatypes.JSON(payload),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if _, err := s.store.PutIfAbsent(ctx, record); err != nil {
		s.metrics.RecordIdempotency(req.Operation, metrics.IdempotencyRecordFail)
		ctxlogger.WithContext(ctx, s.log).Warn("failed to record idempotency key",
			zap.String("operation", req.Operation),
			zap.Error(err),
		)
	}
}

func (s *Service) PurgeExpired(ctx context.Context, limit int) (int64, error) {
	return s.store.PurgeExpired(ctx, s.clock.Now(), limit)
}

// operationOf reads the operation prefix of a derived key.
func operationOf(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return "client"
}
