package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tierbill/pkg/invoices"
)

// Currency is the only currency billed.
const Currency = "AUD"

// RowType distinguishes invoice rows from payment rows.
type RowType string

const (
	RowInvoice RowType = "invoice"
	RowPayment RowType = "payment"
)

// Format is an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" and "xlsx", case-insensitively. Empty means CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", raw)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Row is one line of the reconciliation export.
type Row struct {
	Date        time.Time `json:"date"`
	Type        RowType   `json:"type"`
	Reference   string    `json:"reference_id"`
	CompanyID   int64     `json:"company_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
}

// Source lists the invoices and payments of a date range.
type Source interface {
	InvoicesBetween(ctx context.Context, from, to time.Time) ([]*invoices.Invoice, error)
	Payments(ctx context.Context, from, to time.Time) ([]*invoices.Payment, error)
}

// ObjectStore uploads an object.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
}
