package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/clock"
	"github.com/smallbiznis/fieldclock/internal/config"
	"github.com/smallbiznis/fieldclock/internal/conflict"
	idempotencydomain "github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	jobsitedomain "github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	"github.com/smallbiznis/fieldclock/internal/observability/metrics"
	"github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db/pagination"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opClockIn  = "clock_in"
	opClockOut = "clock_out"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.PolicyHolder
	Repo        domain.Repository
	Jobs        jobsitedomain.Service
	Idempotency idempotencydomain.Service
	AuditSvc    auditdomain.Service
	Limiter     domain.ClockEventLimiter `optional:"true"`
	Metrics     *metrics.Metrics         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.PolicyHolder
	repo     domain.Repository
	jobs     jobsitedomain.Service
	idem     idempotencydomain.Service
	auditSvc auditdomain.Service
	limiter  domain.ClockEventLimiter
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("timeentry.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		repo:     p.Repo,
		jobs:     p.Jobs,
		idem:     p.Idempotency,
		auditSvc: p.AuditSvc,
		limiter:  p.Limiter,
		metrics:  p.Metrics,
	}
}

func (s *Service) GetEntry(ctx context.Context, entryID snowflake.ID) (*domain.TimeEntry, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	entry, err := s.visibleEntry(ctx, claims, entryID)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) ListEntries(ctx context.Context, req domain.ListEntriesRequest) (domain.ListEntriesResponse, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return domain.ListEntriesResponse{}, apperr.ErrUnauthenticated
	}

	filter := domain.ListFilter{
		CompanyID:   claims.CompanyID,
		NeedsReview: req.NeedsReview,
		Limit:       pagination.NormalizePageSize(req.PageSize),
	}

	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := domain.Status(raw)
		if !status.Valid() {
			return domain.ListEntriesResponse{}, domain.ErrInvalidRequest.WithMessage("unknown status %q", raw)
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(req.Tag); raw != "" {
		tag := domain.Tag(raw)
		if !tag.Valid() {
			return domain.ListEntriesResponse{}, domain.ErrInvalidRequest.WithMessage("unknown tag %q", raw)
		}
		filter.Tag = &tag
	}
	if raw := strings.TrimSpace(req.UserID); raw != "" {
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			return domain.ListEntriesResponse{}, domain.ErrInvalidRequest.WithMessage("invalid user_id")
		}
		filter.UserID = &userID
	}
	if !claims.Role.CanApprove() {
		if filter.UserID != nil && *filter.UserID != claims.UserID {
			return domain.ListEntriesResponse{}, apperr.ErrPermissionDenied
		}
		self := claims.UserID
		filter.UserID = &self
	}

	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
		clockInAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListEntriesResponse{}, domain.ErrInvalidPageToken
		}
		filter.Cursor = &domain.EntryCursor{ID: id, ClockInAt: clockInAt}
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListEntriesResponse{}, apperr.Internal(err)
	}

	pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *domain.TimeEntry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.ClockInAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > filter.Limit {
		items = items[:filter.Limit]
	}

	resp := domain.ListEntriesResponse{Entries: items}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// visibleEntry loads an entry the caller may read. Entries of other
// companies are reported as missing.
func (s *Service) visibleEntry(ctx context.Context, claims actor.Claims, entryID snowflake.ID) (*domain.TimeEntry, error) {
	if entryID == 0 {
		return nil, domain.ErrEntryNotFound
	}
	entry, err := s.repo.FindByID(ctx, s.db, entryID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if entry == nil || entry.CompanyID != claims.CompanyID {
		return nil, domain.ErrEntryNotFound
	}
	if !claims.Role.CanApprove() && entry.UserID != claims.UserID {
		return nil, apperr.ErrPermissionDenied
	}
	return entry, nil
}

func (s *Service) detector(settings jobsitedomain.CompanySettings) *conflict.Detector {
	policy := s.policy.Get()
	return conflict.NewDetector(conflict.Config{
		MissingBreakThreshold: policy.MissingBreakThreshold,
		MaxShift:              policy.ExcessiveHoursThreshold,
		BackdateWindow:        policy.BackdateWindow,
		Location:              settings.Location(),
	})
}

func (s *Service) recordConflicts(conflicts []conflict.Conflict) {
	for _, c := range conflicts {
		s.metrics.RecordConflict(c.Kind.String())
	}
}

func toConflictEntry(e *domain.TimeEntry) conflict.Entry {
	return conflict.Entry{
		ID:           e.ID,
		ClockIn:      e.ClockInAt,
		ClockOut:     e.ClockOutAt,
		BreakMinutes: e.BreakMinutes,
		CreatedAt:    e.CreatedAt,
	}
}

func toConflictEntries(entries []*domain.TimeEntry) []conflict.Entry {
	out := make([]conflict.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, toConflictEntry(e))
	}
	return out
}

// replay returns the stored response for key, if any.
func replay[T any](ctx context.Context, idem idempotencydomain.Service, key string) (T, bool, error) {
	var out T
	record, hit, err := idem.Check(ctx, key)
	if err != nil || !hit {
		return out, false, err
	}
	if err := record.Decode(&out); err != nil {
		return out, false, apperr.Internal(err)
	}
	return out, true, nil
}

func (s *Service) allow(ctx context.Context, action string, claims actor.Claims, userID snowflake.ID) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, claims.CompanyID, userID)
	if err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("clock event limiter unavailable",
			zap.String("action", action),
			zap.Error(err),
		)
		return nil
	}
	if !allowed {
		s.metrics.RecordRateLimitDenied(action)
		return domain.ErrClockEventThrottle
	}
	return nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actorID snowflake.ID, action string, before, after *domain.TimeEntry) error {
	entry := auditdomain.Entry{
		CompanyID:  after.CompanyID,
		ActorID:    actorID,
		Action:     action,
		TargetType: auditdomain.TargetTimeEntry,
		TargetID:   after.ID,
		After:      after,
	}
	if before != nil {
		entry.Before = before
	}
	return s.auditSvc.Write(ctx, tx, entry)
}

func resultOf(err error) string {
	if err == nil {
		return metrics.ResultAccepted
	}
	if apperr.KindOf(err) == apperr.KindInternal {
		return metrics.ResultFailed
	}
	return metrics.ResultRejected
}
