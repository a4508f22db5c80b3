package reconciliation

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/platinummonkey/tierbill/pkg/billingerr"
	"github.com/platinummonkey/tierbill/pkg/invoices"
	"github.com/platinummonkey/tierbill/pkg/money"
)

const dateLayout = "2006-01-02"

var header = []string{
	"date", "type", "reference_id", "company_id", "amount_cents", "currency", "status", "description",
}

// Builder assembles reconciliation rows from the invoice store.
type Builder struct {
	source Source
	loc    *time.Location
}

// NewBuilder creates a Builder. Dates are rendered in loc; nil means UTC.
func NewBuilder(source Source, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{source: source, loc: loc}
}

// Build returns the rows for [start, end], both days inclusive, ordered by
// date with invoices ahead of payments on the same day.
func (b *Builder) Build(ctx context.Context, start, end time.Time) ([]Row, error) {
	if end.Before(start) {
		return nil, billingerr.NewValidation("end date %s is before start date %s",
			end.Format(dateLayout), start.Format(dateLayout))
	}
	until := end.AddDate(0, 0, 1)

	invs, err := b.source.InvoicesBetween(ctx, start, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	payments, err := b.source.Payments(ctx, start, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	rows := make([]Row, 0, len(invs)+len(payments))
	for _, inv := range invs {
		rows = append(rows, invoiceRow(inv))
	}
	for _, p := range payments {
		rows = append(rows, b.paymentRow(p))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		di, dj := rows[i].Date.Format(dateLayout), rows[j].Date.Format(dateLayout)
		if di != dj {
			return di < dj
		}
		return rows[i].Type == RowInvoice && rows[j].Type == RowPayment
	})
	return rows, nil
}

func invoiceRow(inv *invoices.Invoice) Row {
	return Row{
		Date:        inv.PeriodStart,
		Type:        RowInvoice,
		Reference:   inv.Number,
		CompanyID:   inv.CompanyID,
		AmountCents: money.Cents(inv.TotalDue),
		Currency:    Currency,
		Status:      string(inv.Status),
		Description: fmt.Sprintf("Monthly subscription - %s", inv.TierID),
	}
}

func (b *Builder) paymentRow(p *invoices.Payment) Row {
	ref := p.Reference
	if ref == "" {
		ref = fmt.Sprintf("payment-%d", p.ID)
	}
	desc := "Payment for invoice " + p.Number
	if p.Method != "" {
		desc += " via " + p.Method
	}
	return Row{
		Date:        p.PaidAt.In(b.loc),
		Type:        RowPayment,
		Reference:   ref,
		CompanyID:   p.CompanyID,
		AmountCents: money.Cents(p.Amount),
		Currency:    Currency,
		Status:      "paid",
		Description: desc,
	}
}

func (r Row) record() []string {
	return []string{
		r.Date.Format(dateLayout),
		string(r.Type),
		r.Reference,
		strconv.FormatInt(r.CompanyID, 10),
		strconv.FormatInt(r.AmountCents, 10),
		r.Currency,
		r.Status,
		r.Description,
	}
}

// Render encodes rows in the given format.
func Render(rows []Row, format Format) ([]byte, error) {
	switch format {
	case FormatXLSX:
		return RenderXLSX(rows)
	case FormatCSV, "":
		return RenderCSV(rows)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// RenderCSV writes rows as CSV with a header line.
func RenderCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range rows {
		if err := writer.Write(r.record()); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// SheetName is the worksheet holding the export.
const SheetName = "Reconciliation"

// RenderXLSX writes rows into a single-sheet workbook. Amount and company
// columns are stored as numbers.
func RenderXLSX(rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	defaultSheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(defaultSheet, SheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	for col, title := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(SheetName, cell, title); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	for i, r := range rows {
		values := []interface{}{
			r.Date.Format(dateLayout),
			string(r.Type),
			r.Reference,
			r.CompanyID,
			r.AmountCents,
			r.Currency,
			r.Status,
			r.Description,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
