package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
)

// Store persists idempotency records. Implementations must make PutIfAbsent
// atomic so concurrent writers cannot both succeed.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	PutIfAbsent(ctx context.Context, record *Record) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

type CheckOption func(*CheckOptions)

type CheckOptions struct {
	FailClosed bool
}

// FailClosed makes lookup failures surface as ErrUnavailable instead of a miss.
func FailClosed(enabled bool) CheckOption {
	return func(o *CheckOptions) { o.FailClosed = enabled }
}

type RecordRequest struct {
	CompanyID snowflake.ID
	Operation string
	Key       string
	Result    any
	TTL       time.Duration
}

type Service interface {
	// Check reports whether key was already processed. A returned record is
	// only non-nil on a hit.
	Check(ctx context.Context, key string, opts ...CheckOption) (*Record, bool, error)
	// Record stores the outcome after the mutation committed. Failures are
	// logged, never returned.
	Record(ctx context.Context, req RecordRequest)
	PurgeExpired(ctx context.Context, limit int) (int64, error)
}

var (
	ErrInvalidKey  = apperr.New(apperr.KindInvalidArgument, "invalid_idempotency_key")
	ErrUnavailable = apperr.New(apperr.KindInternal, "idempotency_unavailable")
)
