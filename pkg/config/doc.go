// Package config loads billing configuration from BILLING_* environment
// variables with defaults for everything except the database URL.
//
//	BILLING_DATABASE_URL="postgres://localhost/billing?sslmode=disable"
//	BILLING_REDIS_URL="redis://localhost:6379/0"   # optional
//	BILLING_S3_BUCKET="tierbill-exports"            # optional
//	BILLING_TIMEZONE="Australia/Sydney"
//	BILLING_SCHEDULE_INVOICING="0 2 1 * *"
//
// Binaries load a .env file first when present.
package config
