package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/actor"
	auditdomain "github.com/smallbiznis/fieldclock/internal/audit/domain"
	idempotencydomain "github.com/smallbiznis/fieldclock/internal/idempotency/domain"
	invoicedomain "github.com/smallbiznis/fieldclock/internal/invoice/domain"
	"github.com/smallbiznis/fieldclock/internal/invoice/repository"
	"github.com/smallbiznis/fieldclock/internal/testkit"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	timeentryrepository "github.com/smallbiznis/fieldclock/internal/timeentry/repository"
	"github.com/smallbiznis/fieldclock/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	worker   = snowflake.ID(42)
	customer = snowflake.ID(700)
)

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	env   *testkit.Env
	svc   invoicedomain.Service
	jobID snowflake.ID
}

func setup(t *testing.T) fixture {
	t.Helper()
	env := testkit.New(t, now)
	svc := NewService(ServiceParam{
		DB:          env.DB,
		Log:         env.Log,
		GenID:       env.Node,
		Clock:       env.Clock,
		Config:      env.Config,
		Repo:        repository.Provide(),
		Entries:     timeentryrepository.Provide(),
		Idempotency: env.Idempotency,
		AuditSvc:    env.Audit,
	})
	job := env.CreateJob(t, testkit.CompanyID, 100)
	return fixture{env: env, svc: svc, jobID: job.ID}
}

// seedThree returns approved entries of 8h, 4h30m and 1h20m.
func (f fixture) seedThree(t *testing.T, third timeentrydomain.Status) []*timeentrydomain.TimeEntry {
	t.Helper()
	day := time.Date(2026, 2, 23, 8, 0, 0, 0, time.UTC)
	return []*timeentrydomain.TimeEntry{
		f.env.SeedEntry(t, testkit.CompanyID, worker, f.jobID, day, 8*time.Hour, timeentrydomain.StatusApproved),
		f.env.SeedEntry(t, testkit.CompanyID, worker, f.jobID, day.AddDate(0, 0, 1), 4*time.Hour+30*time.Minute, timeentrydomain.StatusApproved),
		f.env.SeedEntry(t, testkit.CompanyID, worker, f.jobID, day.AddDate(0, 0, 2), time.Hour+20*time.Minute, third),
	}
}

func idsOf(entries []*timeentrydomain.TimeEntry) []snowflake.ID {
	out := make([]snowflake.ID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func request(ids []snowflake.ID) invoicedomain.CreateInvoiceFromTimeRequest {
	return invoicedomain.CreateInvoiceFromTimeRequest{
		EntryIDs:   ids,
		HourlyRate: 3333,
		CustomerID: customer,
		DueDate:    "2026-04-01",
	}
}

func countRows(t *testing.T, f fixture, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.env.DB.Model(model).Count(&n).Error)
	return n
}

func TestCreateInvoiceFromTime(t *testing.T) {
	f := setup(t)
	entries := f.seedThree(t, timeentrydomain.StatusApproved)
	ids := idsOf(entries)

	resp, err := f.svc.CreateInvoiceFromTime(f.env.Manager(), request([]snowflake.ID{ids[2], ids[0], ids[1], ids[0]}))
	require.NoError(t, err)
	assert.Equal(t, "INV-20260302-000001", resp.InvoiceNumber)
	assert.Equal(t, 13.83, resp.TotalHours)
	assert.Equal(t, int64(46107), resp.TotalAmount)
	assert.Equal(t, invoicedomain.DefaultCurrency, resp.Currency)

	for _, id := range ids {
		entry := f.env.Entry(t, id)
		require.NotNil(t, entry.InvoiceID)
		assert.Equal(t, resp.InvoiceID, *entry.InvoiceID)
		require.NotNil(t, entry.InvoicedAt)
		assert.True(t, entry.Locked())
	}

	invoice, err := f.svc.GetByID(f.env.Manager(), resp.InvoiceID.String())
	require.NoError(t, err)
	require.Len(t, invoice.Items, 3)
	var sum int64
	for _, item := range invoice.Items {
		sum += item.Amount
	}
	assert.Equal(t, invoice.Amount, sum)
	require.NotNil(t, invoice.JobID)
	assert.Equal(t, f.jobID, *invoice.JobID)

	billed, err := invoice.EntryIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, billed)
	assert.EqualValues(t, 1, f.env.CountAudit(t, auditdomain.ActionInvoiceFromTime))
}

func TestCreateInvoiceFromTimeIsAllOrNothing(t *testing.T) {
	f := setup(t)
	entries := f.seedThree(t, timeentrydomain.StatusPending)

	_, err := f.svc.CreateInvoiceFromTime(f.env.Manager(), request(idsOf(entries)))
	require.ErrorIs(t, err, invoicedomain.ErrEntryNotApproved)

	for _, entry := range entries {
		assert.Nil(t, f.env.Entry(t, entry.ID).InvoiceID)
	}
	assert.Zero(t, countRows(t, f, &invoicedomain.Invoice{}))
	assert.Zero(t, countRows(t, f, &invoicedomain.InvoiceItem{}))
	assert.Zero(t, f.env.CountAudit(t, auditdomain.ActionInvoiceFromTime))
}

func TestCreateInvoiceFromTimeReplays(t *testing.T) {
	f := setup(t)
	ids := idsOf(f.seedThree(t, timeentrydomain.StatusApproved))

	first, err := f.svc.CreateInvoiceFromTime(f.env.Manager(), request(ids))
	require.NoError(t, err)

	second, err := f.svc.CreateInvoiceFromTime(f.env.Manager(), request(ids))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Without the idempotency record the entries still point at the invoice.
	require.NoError(t, f.env.DB.Where("1 = 1").Delete(&idempotencydomain.Record{}).Error)
	third, err := f.svc.CreateInvoiceFromTime(f.env.Manager(), request(ids))
	require.NoError(t, err)
	assert.Equal(t, first.InvoiceID, third.InvoiceID)
	assert.EqualValues(t, 1, countRows(t, f, &invoicedomain.Invoice{}))

	other := request(ids)
	other.CustomerID = snowflake.ID(701)
	_, err = f.svc.CreateInvoiceFromTime(f.env.Manager(), other)
	assert.ErrorIs(t, err, invoicedomain.ErrEntryAlreadyInvoiced)

	subset := request(ids[:2])
	_, err = f.svc.CreateInvoiceFromTime(f.env.Manager(), subset)
	assert.ErrorIs(t, err, invoicedomain.ErrEntryAlreadyInvoiced)
}

func TestCreateInvoiceFromTimeClientKey(t *testing.T) {
	f := setup(t)
	ids := idsOf(f.seedThree(t, timeentrydomain.StatusApproved))

	req := request(ids)
	req.IdempotencyKey = "invoice-run-7"
	first, err := f.svc.CreateInvoiceFromTime(f.env.Manager(), req)
	require.NoError(t, err)

	second, err := f.svc.CreateInvoiceFromTime(f.env.Manager(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	req.IdempotencyKey = "not a key"
	_, err = f.svc.CreateInvoiceFromTime(f.env.Manager(), req)
	assert.ErrorIs(t, err, idempotencydomain.ErrInvalidKey)
}

func TestCreateInvoiceFromTimeRejects(t *testing.T) {
	f := setup(t)
	ids := idsOf(f.seedThree(t, timeentrydomain.StatusApproved))
	foreign := f.env.SeedEntry(t, testkit.OtherCompanyID, worker, f.jobID, now.Add(-48*time.Hour), time.Hour, timeentrydomain.StatusApproved)
	active := f.env.SeedEntry(t, testkit.CompanyID, snowflake.ID(43), f.jobID, now.Add(-time.Hour), 0, timeentrydomain.StatusActive)

	_, err := f.svc.CreateInvoiceFromTime(f.env.As(worker, actor.RoleStaff), request(ids))
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.svc.CreateInvoiceFromTime(f.env.Manager(), request(append(ids, foreign.ID)))
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = f.svc.CreateInvoiceFromTime(f.env.Manager(), request(append(ids, snowflake.ID(12345))))
	assert.ErrorIs(t, err, invoicedomain.ErrEntryNotFound)

	_, err = f.svc.CreateInvoiceFromTime(f.env.Manager(), request([]snowflake.ID{active.ID}))
	assert.ErrorIs(t, err, invoicedomain.ErrEntryNotApproved)

	bad := request(ids)
	bad.HourlyRate = 0
	_, err = f.svc.CreateInvoiceFromTime(f.env.Manager(), bad)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidRequest)

	bad = request(nil)
	_, err = f.svc.CreateInvoiceFromTime(f.env.Manager(), bad)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidRequest)

	bad = request(ids)
	bad.Currency = "ZZZ"
	_, err = f.svc.CreateInvoiceFromTime(f.env.Manager(), bad)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidRequest)

	assert.Zero(t, countRows(t, f, &invoicedomain.Invoice{}))
}

func TestInvoiceNumbersAreSequentialPerCompany(t *testing.T) {
	f := setup(t)
	ids := idsOf(f.seedThree(t, timeentrydomain.StatusApproved))

	first, err := f.svc.CreateInvoiceFromTime(f.env.Manager(), request(ids[:1]))
	require.NoError(t, err)
	second, err := f.svc.CreateInvoiceFromTime(f.env.Manager(), request(ids[1:]))
	require.NoError(t, err)

	assert.Equal(t, "INV-20260302-000001", first.InvoiceNumber)
	assert.Equal(t, "INV-20260302-000002", second.InvoiceNumber)

	list, err := f.svc.List(f.env.Manager(), invoicedomain.ListInvoiceRequest{CustomerID: customer.String()})
	require.NoError(t, err)
	assert.Len(t, list.Invoices, 2)

	_, err = f.svc.GetByID(f.env.AsIn(testkit.OtherCompanyID, testkit.ManagerID, actor.RoleManager), first.InvoiceID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)

	_, err = f.svc.GetByID(f.env.Manager(), "nope")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoiceID)
}
