package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/actor"
	"github.com/smallbiznis/fieldclock/internal/approval/domain"
	"github.com/smallbiznis/fieldclock/internal/observability/metrics"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"github.com/smallbiznis/fieldclock/pkg/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type chunkResult struct {
	succeeded int
	errors    []domain.ItemError
}

func (r *chunkResult) fail(id snowflake.ID, err error) {
	r.errors = append(r.errors, domain.ItemError{EntryID: id, Error: messageOf(err)})
}

func (s *Service) BulkApprove(ctx context.Context, req domain.BulkApproveRequest) (domain.BulkApproveResponse, error) {
	if err := validation.Struct(req, domain.ErrInvalidRequest); err != nil {
		return domain.BulkApproveResponse{}, err
	}
	succeeded, itemErrors, err := s.bulk(ctx, req.EntryIDs, approveDecision())
	if err != nil {
		return domain.BulkApproveResponse{}, err
	}
	return domain.BulkApproveResponse{Approved: succeeded, Failed: len(itemErrors), Errors: itemErrors}, nil
}

func (s *Service) BulkReject(ctx context.Context, req domain.BulkRejectRequest) (domain.BulkRejectResponse, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validation.Struct(req, domain.ErrInvalidRequest); err != nil {
		return domain.BulkRejectResponse{}, err
	}
	succeeded, itemErrors, err := s.bulk(ctx, req.EntryIDs, rejectDecision(req.Reason))
	if err != nil {
		return domain.BulkRejectResponse{}, err
	}
	return domain.BulkRejectResponse{Rejected: succeeded, Failed: len(itemErrors), Errors: itemErrors}, nil
}

// bulk applies d to every id. Each chunk commits on its own; a chunk that
// fails to commit reports all of its items as internal errors.
func (s *Service) bulk(ctx context.Context, ids []snowflake.ID, d decision) (int, []domain.ItemError, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return 0, nil, apperr.ErrUnauthenticated
	}
	if !claims.Role.CanApprove() {
		return 0, nil, apperr.ErrPermissionDenied
	}

	chunks := db.Chunk(dedupe(ids), domain.ChunkSize)
	results := make([]chunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = s.runChunk(gctx, claims, chunk, d)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	itemErrors := make([]domain.ItemError, 0)
	for _, r := range results {
		succeeded += r.succeeded
		itemErrors = append(itemErrors, r.errors...)
	}

	s.metrics.RecordApproval("bulk_"+d.name, metrics.ResultAccepted, succeeded)
	s.metrics.RecordApproval("bulk_"+d.name, metrics.ResultRejected, len(itemErrors))
	ctxlogger.WithContext(ctx, s.log).Info("bulk review finished",
		zap.String("decision", d.name),
		zap.Int("chunks", len(chunks)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(itemErrors)),
	)
	return succeeded, itemErrors, nil
}

func (s *Service) runChunk(ctx context.Context, claims actor.Claims, chunk []snowflake.ID, d decision) chunkResult {
	now := s.clock.Now()
	var res chunkResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res = chunkResult{}
		entries, err := s.entries.FindByIDs(ctx, tx, chunk, true)
		if err != nil {
			return err
		}
		byID := make(map[snowflake.ID]*timeentrydomain.TimeEntry, len(entries))
		for _, entry := range entries {
			byID[entry.ID] = entry
		}

		for _, id := range chunk {
			noop, err := check(claims.CompanyID, byID[id], d)
			if err != nil {
				res.fail(id, err)
				continue
			}
			if noop {
				res.succeeded++
				continue
			}
			if err := s.apply(ctx, tx, claims.UserID, byID[id], d, d.auditAction, now); err != nil {
				if errors.Is(err, timeentrydomain.ErrEntryModified) {
					res.fail(id, err)
					continue
				}
				return err
			}
			res.succeeded++
		}
		return nil
	})
	if err != nil {
		ctxlogger.WithContext(ctx, s.log).Error("bulk review chunk failed",
			zap.String("decision", d.name),
			zap.Int("size", len(chunk)),
			zap.Error(err),
		)
		res = chunkResult{errors: make([]domain.ItemError, 0, len(chunk))}
		for _, id := range chunk {
			res.errors = append(res.errors, domain.ItemError{EntryID: id, Error: domain.MsgInternal})
		}
	}
	return res
}

func messageOf(err error) string {
	switch {
	case errors.Is(err, timeentrydomain.ErrEntryNotFound):
		return domain.MsgNotFound
	case errors.Is(err, apperr.ErrPermissionDenied):
		return domain.MsgDifferentCompany
	case errors.Is(err, domain.ErrEntryAlreadyProcessed):
		return domain.MsgAlreadyProcessed
	case errors.Is(err, timeentrydomain.ErrEntryNotClosed):
		return domain.MsgStillActive
	case errors.Is(err, timeentrydomain.ErrEntryLocked):
		return domain.MsgLocked
	case errors.Is(err, timeentrydomain.ErrEntryModified):
		return domain.MsgModified
	default:
		return domain.MsgInternal
	}
}

func dedupe(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
