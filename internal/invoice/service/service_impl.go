package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	"github.com/smallbiznis/fieldclock/internal/clock"
	"github.com/smallbiznis/fieldclock/internal/config"
	idempotencydomain "github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	invoicedomain "github.com/smallbiznis/fieldclock/internal/invoice/domain"
	"github.com/smallbiznis/fieldclock/internal/invoice/format"
	"github.com/smallbiznis/fieldclock/internal/observability/metrics"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/smallbiznis/fieldclock/pkg/db"
	"github.com/smallbiznis/fieldclock/pkg/db/pagination"
	"github.com/smallbiznis/fieldclock/pkg/log/ctxlogger"
	"github.com/smallbiznis/fieldclock/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opInvoiceFromTime = "invoice_from_time"

	maxTxAttempts = 3
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        invoicedomain.Repository
	Entries     timeentrydomain.Repository
	Idempotency idempotencydomain.Service
	AuditSvc    auditdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	failClosed bool
	repo       invoicedomain.Repository
	entries    timeentrydomain.Repository
	idem       idempotencydomain.Service
	auditSvc   auditdomain.Service
	metrics    *metrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		failClosed: p.Config.IdempotencyFailClosedBilling,
		repo:       p.Repo,
		entries:    p.Entries,
		idem:       p.Idempotency,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,
	}
}

// CreateInvoiceFromTime bills approved, closed entries. Every precondition is
// checked for every entry before anything is written; the invoice, the entry
// locks and the audit record commit together or not at all.
func (s *Service) CreateInvoiceFromTime(ctx context.Context, req invoicedomain.CreateInvoiceFromTimeRequest) (invoicedomain.CreateInvoiceFromTimeResponse, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return invoicedomain.CreateInvoiceFromTimeResponse{}, apperr.ErrUnauthenticated
	}
	if !claims.Role.CanApprove() {
		return invoicedomain.CreateInvoiceFromTimeResponse{}, apperr.ErrPermissionDenied
	}

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := validation.Struct(req, invoicedomain.ErrInvalidRequest); err != nil {
		return invoicedomain.CreateInvoiceFromTimeResponse{}, err
	}
	if req.Currency == "" {
		req.Currency = invoicedomain.DefaultCurrency
	}
	dueAt, err := time.Parse(time.DateOnly, req.DueDate)
	if err != nil {
		return invoicedomain.CreateInvoiceFromTimeResponse{}, invoicedomain.ErrInvalidRequest.WithMessage("invalid due_date")
	}
	entryIDs := uniqueSorted(req.EntryIDs)

	key, err := s.idempotencyKey(claims, req, entryIDs)
	if err != nil {
		return invoicedomain.CreateInvoiceFromTimeResponse{}, err
	}
	record, hit, err := s.idem.Check(ctx, key, idempotencydomain.FailClosed(s.failClosed))
	if err != nil {
		return invoicedomain.CreateInvoiceFromTimeResponse{}, err
	}
	if hit {
		var prior invoicedomain.CreateInvoiceFromTimeResponse
		if err := record.Decode(&prior); err != nil {
			return invoicedomain.CreateInvoiceFromTimeResponse{}, apperr.Internal(err)
		}
		return prior, nil
	}

	now := s.clock.Now()
	var (
		resp     invoicedomain.CreateInvoiceFromTimeResponse
		replayed bool
	)
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		replayed = false
		entries, err := s.entries.FindByIDs(ctx, tx, entryIDs, true)
		if err != nil {
			return err
		}
		byID := make(map[snowflake.ID]*timeentrydomain.TimeEntry, len(entries))
		for _, entry := range entries {
			byID[entry.ID] = entry
		}

		ordered := make([]*timeentrydomain.TimeEntry, 0, len(entryIDs))
		for _, id := range entryIDs {
			entry, ok := byID[id]
			if !ok {
				return invoicedomain.ErrEntryNotFound.WithMessage("entry %s not found", id)
			}
			if entry.CompanyID != claims.CompanyID {
				return apperr.ErrPermissionDenied.WithMessage("entry %s belongs to another company", id)
			}
			ordered = append(ordered, entry)
		}

		if existing, err := s.alreadyBilled(ctx, tx, claims.CompanyID, req.CustomerID, ordered); err != nil {
			return err
		} else if existing != nil {
			resp = responseOf(existing)
			replayed = true
			return nil
		}

		for _, entry := range ordered {
			switch {
			case entry.InvoiceID != nil:
				return invoicedomain.ErrEntryAlreadyInvoiced.WithMessage("entry %s is already invoiced", entry.ID)
			case entry.Status != timeentrydomain.StatusApproved:
				return invoicedomain.ErrEntryNotApproved.WithMessage("entry %s is %s", entry.ID, entry.Status)
			case entry.ClockOutAt == nil || !entry.ClockOutAt.After(entry.ClockInAt):
				return invoicedomain.ErrEntryNotClosed.WithMessage("entry %s is not closed", entry.ID)
			}
		}

		seconds := make([]int64, len(ordered))
		var totalSeconds int64
		for i, entry := range ordered {
			seconds[i] = int64(entry.Duration() / time.Second)
			totalSeconds += seconds[i]
		}
		amount := amountFor(totalSeconds, req.HourlyRate)
		itemAmounts := allocate(amount, seconds, req.HourlyRate)

		sequence, err := s.repo.NextSequence(ctx, tx, claims.CompanyID)
		if err != nil {
			return err
		}
		number, err := format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, now, sequence)
		if err != nil {
			return err
		}

		ids := make([]string, len(entryIDs))
		for i, id := range entryIDs {
			ids[i] = id.String()
		}
		idsJSON, err := json.Marshal(ids)
		if err != nil {
			return err
		}

		invoice := &invoicedomain.Invoice{
			ID:            s.genID.Generate(),
			CompanyID:     claims.CompanyID,
			Sequence:      sequence,
			InvoiceNumber: number,
			CustomerID:    req.CustomerID,
			JobID:         commonJob(ordered),
			Currency:      req.Currency,
			HourlyRate:    req.HourlyRate,
			TotalSeconds:  totalSeconds,
			TotalHours:    timeentrydomain.DurationHours(time.Duration(totalSeconds) * time.Second),
			Amount:        amount,
			DueAt:         dueAt,
			TimeEntryIDs:  datatypes.JSON(idsJSON),
			CreatedBy:     claims.UserID,
			CreatedAt:     now,
		}
		if err := s.repo.Insert(ctx, tx, invoice); err != nil {
			return err
		}

		items := make([]invoicedomain.InvoiceItem, len(ordered))
		for i, entry := range ordered {
			items[i] = invoicedomain.InvoiceItem{
				ID:          s.genID.Generate(),
				CompanyID:   claims.CompanyID,
				InvoiceID:   invoice.ID,
				TimeEntryID: entry.ID,
				Description: fmt.Sprintf("Labor %s to %s",
					entry.ClockInAt.UTC().Format(time.RFC3339),
					entry.ClockOutAt.UTC().Format(time.RFC3339),
				),
				Seconds:    seconds[i],
				Hours:      timeentrydomain.DurationHours(time.Duration(seconds[i]) * time.Second),
				UnitAmount: req.HourlyRate,
				Amount:     itemAmounts[i],
				CreatedAt:  now,
			}
		}
		if err := s.repo.InsertItems(ctx, tx, items); err != nil {
			return err
		}

		locked, err := s.entries.LockForInvoice(ctx, tx, entryIDs, invoice.ID, now)
		if err != nil {
			return err
		}
		if locked != int64(len(entryIDs)) {
			return invoicedomain.ErrEntriesChanged.WithMessage("locked %d of %d entries", locked, len(entryIDs))
		}

		invoice.Items = items
		resp = responseOf(invoice)
		return s.auditSvc.Write(ctx, tx, auditdomain.Entry{
			CompanyID:  claims.CompanyID,
			ActorID:    claims.UserID,
			Action:     auditdomain.ActionInvoiceFromTime,
			TargetType: auditdomain.TargetInvoice,
			TargetID:   invoice.ID,
			After:      invoice,
		})
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return invoicedomain.CreateInvoiceFromTimeResponse{}, err
		}
		return invoicedomain.CreateInvoiceFromTimeResponse{}, apperr.Internal(err)
	}

	s.idem.Record(ctx, idempotencydomain.RecordRequest{
		CompanyID: claims.CompanyID,
		Operation: opInvoiceFromTime,
		Key:       key,
		Result:    resp,
		TTL:       idempotencydomain.TTLPayment,
	})
	if !replayed {
		s.metrics.AddInvoicedEntries(len(entryIDs))
	}

	ctxlogger.WithContext(ctx, s.log).Info("invoice created from time",
		zap.String("invoice_id", resp.InvoiceID.String()),
		zap.Int("entries", len(entryIDs)),
		zap.Int64("amount", resp.TotalAmount),
		zap.Bool("replayed", replayed),
	)
	return resp, nil
}

// inTx retries the whole transaction on serialization failures and
// deadlocks. Any other error is returned on the first attempt.
func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if !db.IsRetryableTxErr(err) || ctx.Err() != nil {
			return err
		}
		ctxlogger.WithContext(ctx, s.log).Warn("invoice transaction conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return err
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return invoicedomain.Invoice{}, apperr.ErrUnauthenticated
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}

	invoice, err := s.repo.FindByID(ctx, s.db, claims.CompanyID, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, apperr.Internal(err)
	}
	if invoice == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, invoice.ID)
	if err != nil {
		return invoicedomain.Invoice{}, apperr.Internal(err)
	}
	invoice.Items = items
	return *invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	claims, ok := actor.FromContext(ctx)
	if !ok {
		return invoicedomain.ListInvoiceResponse{}, apperr.ErrUnauthenticated
	}

	filter := invoicedomain.ListFilter{
		CompanyID: claims.CompanyID,
		Limit:     pagination.NormalizePageSize(req.PageSize),
	}
	if raw := strings.TrimSpace(req.CustomerID); raw != "" {
		customerID, err := snowflake.ParseString(raw)
		if err != nil || customerID == 0 {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidRequest.WithMessage("invalid customer_id")
		}
		filter.CustomerID = customerID
	}
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidPageToken
		}
		filter.Cursor = &invoicedomain.InvoiceCursor{ID: id, CreatedAt: createdAt}
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, apperr.Internal(err)
	}
	pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > filter.Limit {
		items = items[:filter.Limit]
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}
	resp := invoicedomain.ListInvoiceResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) idempotencyKey(claims actor.Claims, req invoicedomain.CreateInvoiceFromTimeRequest, entryIDs []snowflake.ID) (string, error) {
	company := claims.CompanyID.String()
	if req.IdempotencyKey != "" {
		if err := idempotencydomain.ValidateClientKey(req.IdempotencyKey); err != nil {
			return "", err
		}
		return idempotencydomain.DeriveKey(opInvoiceFromTime, company, "client:"+req.IdempotencyKey), nil
	}
	parts := make([]string, len(entryIDs))
	for i, id := range entryIDs {
		parts[i] = id.String()
	}
	return idempotencydomain.DeriveKey(opInvoiceFromTime, company+":"+req.CustomerID.String(), strings.Join(parts, ",")), nil
}

// alreadyBilled finds the invoice when every entry already points at the same
// invoice for this customer, which happens when a retry lost its
// idempotency record.
func (s *Service) alreadyBilled(ctx context.Context, tx *gorm.DB, companyID, customerID snowflake.ID, entries []*timeentrydomain.TimeEntry) (*invoicedomain.Invoice, error) {
	if len(entries) == 0 || entries[0].InvoiceID == nil {
		return nil, nil
	}
	invoiceID := *entries[0].InvoiceID
	for _, entry := range entries[1:] {
		if entry.InvoiceID == nil || *entry.InvoiceID != invoiceID {
			return nil, nil
		}
	}

	invoice, err := s.repo.FindByID(ctx, tx, companyID, invoiceID)
	if err != nil || invoice == nil {
		return nil, err
	}
	if invoice.CustomerID != customerID {
		return nil, nil
	}
	billed, err := invoice.EntryIDs()
	if err != nil {
		return nil, err
	}
	if len(billed) != len(entries) {
		return nil, nil
	}
	return invoice, nil
}

func responseOf(invoice *invoicedomain.Invoice) invoicedomain.CreateInvoiceFromTimeResponse {
	return invoicedomain.CreateInvoiceFromTimeResponse{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		TotalHours:    invoice.TotalHours,
		TotalAmount:   invoice.Amount,
		Currency:      invoice.Currency,
	}
}

func commonJob(entries []*timeentrydomain.TimeEntry) *snowflake.ID {
	if len(entries) == 0 {
		return nil
	}
	jobID := entries[0].JobID
	for _, entry := range entries[1:] {
		if entry.JobID != jobID {
			return nil
		}
	}
	return &jobID
}

func uniqueSorted(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
