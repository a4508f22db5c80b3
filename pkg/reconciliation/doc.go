// Package reconciliation builds the monthly accounting export: one row per
// issued invoice and one per received payment, rendered as CSV or as an
// XLSX workbook. S3Archiver stores the workbook for a billed month under
// reconciliation/YYYY-MM.xlsx.
package reconciliation
