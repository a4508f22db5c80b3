package reconciliation

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/tiers"
)

type fakeSource struct {
	invoicesFn func(ctx context.Context, from, to time.Time) ([]*invoices.Invoice, error)
	paymentsFn func(ctx context.Context, from, to time.Time) ([]*invoices.Payment, error)
}

func (f *fakeSource) InvoicesBetween(ctx context.Context, from, to time.Time) ([]*invoices.Invoice, error) {
	if f.invoicesFn == nil {
		return nil, nil
	}
	return f.invoicesFn(ctx, from, to)
}

func (f *fakeSource) Payments(ctx context.Context, from, to time.Time) ([]*invoices.Payment, error) {
	if f.paymentsFn == nil {
		return nil, nil
	}
	return f.paymentsFn(ctx, from, to)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleSource() *fakeSource {
	return &fakeSource{
		invoicesFn: func(ctx context.Context, from, to time.Time) ([]*invoices.Invoice, error) {
			return []*invoices.Invoice{
				{ID: 1, CompanyID: 7, Number: "INV-2025-11-00001", PeriodStart: day(2025, 11, 1),
					TierID: tiers.Professional, TotalDue: decimal.RequireFromString("548.90"), Status: invoices.StatusPaid},
				{ID: 2, CompanyID: 8, Number: "INV-2025-11-00002", PeriodStart: day(2025, 11, 1),
					TierID: tiers.Starter, TotalDue: decimal.RequireFromString("218.9"), Status: invoices.StatusSent},
			}, nil
		},
		paymentsFn: func(ctx context.Context, from, to time.Time) ([]*invoices.Payment, error) {
			return []*invoices.Payment{
				{ID: 5, InvoiceID: 1, CompanyID: 7, Number: "INV-2025-11-00001",
					Amount: decimal.RequireFromString("548.90"), Method: "bank_transfer", Reference: "EFT-991",
					PaidAt: time.Date(2025, 11, 3, 4, 0, 0, 0, time.UTC)},
				{ID: 6, InvoiceID: 1, CompanyID: 7, Number: "INV-2025-11-00001",
					Amount: decimal.RequireFromString("10"), PaidAt: time.Date(2025, 11, 1, 1, 0, 0, 0, time.UTC)},
			}, nil
		},
	}
}

func TestBuild(t *testing.T) {
	t.Run("success - invoices and payments ordered by date", func(t *testing.T) {
		var gotFrom, gotTo time.Time
		src := sampleSource()
		listInvoices := src.invoicesFn
		src.invoicesFn = func(ctx context.Context, from, to time.Time) ([]*invoices.Invoice, error) {
			gotFrom, gotTo = from, to
			return listInvoices(ctx, from, to)
		}

		rows, err := NewBuilder(src, nil).Build(context.Background(), day(2025, 11, 1), day(2025, 11, 30))
		require.NoError(t, err)
		assert.Equal(t, day(2025, 11, 1), gotFrom)
		assert.Equal(t, day(2025, 12, 1), gotTo)

		require.Len(t, rows, 4)
		assert.Equal(t, RowInvoice, rows[0].Type)
		assert.Equal(t, "INV-2025-11-00001", rows[0].Reference)
		assert.Equal(t, int64(54890), rows[0].AmountCents)
		assert.Equal(t, "AUD", rows[0].Currency)
		assert.Equal(t, "paid", rows[0].Status)
		assert.Equal(t, "Monthly subscription - professional", rows[0].Description)

		assert.Equal(t, RowInvoice, rows[1].Type)
		assert.Equal(t, int64(21890), rows[1].AmountCents)

		assert.Equal(t, RowPayment, rows[2].Type)
		assert.Equal(t, "payment-6", rows[2].Reference)
		assert.Equal(t, "Payment for invoice INV-2025-11-00001", rows[2].Description)

		assert.Equal(t, RowPayment, rows[3].Type)
		assert.Equal(t, "EFT-991", rows[3].Reference)
		assert.Equal(t, "Payment for invoice INV-2025-11-00001 via bank_transfer", rows[3].Description)
		assert.Equal(t, "2025-11-03", rows[3].Date.Format(dateLayout))
	})

	t.Run("success - payment dates use the billing location", func(t *testing.T) {
		sydney, err := time.LoadLocation("Australia/Sydney")
		require.NoError(t, err)
		src := &fakeSource{
			paymentsFn: func(ctx context.Context, from, to time.Time) ([]*invoices.Payment, error) {
				// 14:00 UTC on the 3rd is the 4th in Sydney
				return []*invoices.Payment{{ID: 1, Amount: decimal.NewFromInt(1), PaidAt: time.Date(2025, 11, 3, 14, 0, 0, 0, time.UTC)}}, nil
			},
		}
		rows, err := NewBuilder(src, sydney).Build(context.Background(), day(2025, 11, 1), day(2025, 11, 30))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "2025-11-04", rows[0].Date.Format(dateLayout))
	})

	t.Run("error - end before start", func(t *testing.T) {
		_, err := NewBuilder(&fakeSource{}, nil).Build(context.Background(), day(2025, 11, 30), day(2025, 11, 1))
		require.Error(t, err)
		assert.True(t, billingerr.IsValidation(err))
	})

	t.Run("error - invoice listing fails", func(t *testing.T) {
		src := &fakeSource{invoicesFn: func(ctx context.Context, from, to time.Time) ([]*invoices.Invoice, error) {
			return nil, errors.New("db down")
		}}
		_, err := NewBuilder(src, nil).Build(context.Background(), day(2025, 11, 1), day(2025, 11, 30))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list invoices")
	})

	t.Run("error - payment listing fails", func(t *testing.T) {
		src := &fakeSource{paymentsFn: func(ctx context.Context, from, to time.Time) ([]*invoices.Payment, error) {
			return nil, errors.New("db down")
		}}
		_, err := NewBuilder(src, nil).Build(context.Background(), day(2025, 11, 1), day(2025, 11, 30))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list payments")
	})
}

func sampleRows(t *testing.T) []Row {
	t.Helper()
	rows, err := NewBuilder(sampleSource(), nil).Build(context.Background(), day(2025, 11, 1), day(2025, 11, 30))
	require.NoError(t, err)
	return rows
}

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(sampleRows(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "date,type,reference_id,company_id,amount_cents,currency,status,description", lines[0])
	assert.Equal(t, "2025-11-01,invoice,INV-2025-11-00001,7,54890,AUD,paid,Monthly subscription - professional", lines[1])
	assert.Equal(t, "2025-11-03,payment,EFT-991,7,54890,AUD,paid,Payment for invoice INV-2025-11-00001 via bank_transfer", lines[4])
}

func TestRenderCSVEmpty(t *testing.T) {
	out, err := RenderCSV(nil)
	require.NoError(t, err)
	assert.Equal(t, "date,type,reference_id,company_id,amount_cents,currency,status,description\n", string(out))
}

func TestRenderXLSX(t *testing.T) {
	out, err := RenderXLSX(sampleRows(t))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, []string{"2025-11-01", "invoice", "INV-2025-11-00002", "8", "21890", "AUD", "sent", "Monthly subscription - starter"}, rows[2])
}

func TestRender(t *testing.T) {
	rows := sampleRows(t)

	csvOut, err := Render(rows, FormatCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csvOut), "date,type"))

	xlsxOut, err := Render(rows, FormatXLSX)
	require.NoError(t, err)
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(xlsxOut, []byte("PK")))

	_, err = Render(rows, Format("pdf"))
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		raw     string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{"XLSX", FormatXLSX, false},
		{" xlsx ", FormatXLSX, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseFormat(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
}
