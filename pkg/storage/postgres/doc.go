// Package postgres holds the connection plumbing shared by the billing
// repositories: the PostgreSQL pool, schema migrations, the optional Redis
// client and the S3 client used for export sizing and archives.
//
// Schema migrations are embedded goose SQL files applied by Migrate. The
// billing tables rely on PostgreSQL features (partial unique indexes,
// advisory locks, ON CONFLICT and JSONB containment), so no other driver is
// supported.
package postgres
