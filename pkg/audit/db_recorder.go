package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DBRecorder writes billing events to the billing_events table.
type DBRecorder struct {
	db  *sql.DB
	now func() time.Time
}

// NewDBRecorder creates a recorder over db. The table is created by the
// storage migrations.
func NewDBRecorder(db *sql.DB) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBRecorder{db: db, now: time.Now}, nil
}

// Record inserts an event and fills in its id.
func (r *DBRecorder) Record(ctx context.Context, event *Event) error {
	if event.Actor == "" {
		event.Actor = ActorFromContext(ctx)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now().UTC()
	}

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO billing_events (company_id, event_type, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		event.CompanyID, string(event.Type), event.Actor, metadataJSON, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert billing event: %w", err)
	}
	return nil
}

func buildWhere(filter Filter) (string, []interface{}, error) {
	var (
		clauses []string
		args    []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CompanyID != nil {
		clauses = append(clauses, "company_id = "+arg(*filter.CompanyID))
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		clauses = append(clauses, "event_type = ANY("+arg(pq.Array(types))+")")
	}
	if filter.Since != nil {
		clauses = append(clauses, "created_at >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		clauses = append(clauses, "created_at < "+arg(*filter.Until))
	}
	if len(filter.Metadata) > 0 {
		containment, err := json.Marshal(filter.Metadata)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal metadata filter: %w", err)
		}
		clauses = append(clauses, "metadata @> "+arg(string(containment))+"::jsonb")
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// Search returns matching events, newest first.
func (r *DBRecorder) Search(ctx context.Context, filter Filter) ([]*Event, error) {
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, company_id, event_type, actor, metadata, created_at FROM billing_events` +
		where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search billing events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e            Event
			companyID    sql.NullInt64
			eventType    string
			metadataJSON []byte
		)
		if err := rows.Scan(&e.ID, &companyID, &eventType, &e.Actor, &metadataJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan billing event: %w", err)
		}
		e.Type = EventType(eventType)
		if companyID.Valid {
			id := companyID.Int64
			e.CompanyID = &id
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating billing events: %w", err)
	}
	return events, nil
}

// Count returns the number of matching events.
func (r *DBRecorder) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM billing_events`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count billing events: %w", err)
	}
	return n, nil
}
