package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresRepo appends to audit_logs.
//
//	audit_logs(id uuid primary key, actor_id bigint null, action text, resource_type text,
//	           resource_id bigint null, ip_address text, user_agent text, details jsonb,
//	           created_at timestamptz)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	details, err := marshalDetails(rec.Details)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, ip_address, user_agent, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err = r.db.ExecContext(ctx, q,
		rec.ID,
		nullInt64(rec.ActorID),
		rec.Action,
		rec.ResourceType,
		nullInt64(rec.ResourceID),
		rec.IPAddress,
		rec.UserAgent,
		string(details),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
SELECT id, actor_id, action, resource_type, resource_id, ip_address, user_agent, details, created_at
FROM audit_logs
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			actorID    sql.NullInt64
			resourceID sql.NullInt64
			details    []byte
		)
		if err := rows.Scan(&rec.ID, &actorID, &rec.Action, &rec.ResourceType, &resourceID, &rec.IPAddress, &rec.UserAgent, &details, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			rec.ActorID = Int64(actorID.Int64)
		}
		if resourceID.Valid {
			rec.ResourceID = Int64(resourceID.Int64)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("audit: record %s details: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func marshalDetails(d map[string]any) ([]byte, error) {
	if len(d) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("audit: details: %w", err)
	}
	return b, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
