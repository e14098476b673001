package store

import (
	"context"
	"fmt"
	"time"
)

// AppendAudit records one immutable entry in the audit trail. Entries are
// never updated or deleted.
func (s *Store) AppendAudit(ctx context.Context, action, resourceType, resourceID, payload string) error {
	err := s.execWithoutResultRetry(ensureContext(ctx),
		`INSERT INTO audit_log (action, resource_type, resource_id, payload, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		action, resourceType, resourceID, nullableString(payload), timestamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AuditFilter narrows ListAudit. Zero values match everything.
type AuditFilter struct {
	ResourceType string
	ResourceID   string
	Action       string
	Limit        int
}

// ListAudit returns audit entries newest first.
func (s *Store) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error) {
	query := `SELECT id, action, resource_type, resource_id, COALESCE(payload, ''), created_at FROM audit_log`
	var (
		clauses []string
		args    []any
	)
	if filter.ResourceType != "" {
		clauses = append(clauses, "resource_type = ?")
		args = append(args, filter.ResourceType)
	}
	if filter.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, filter.Action)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		var (
			rec        AuditRecord
			createdRaw string
		)
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.ResourceType, &rec.ResourceID, &rec.Payload, &createdRaw); err != nil {
			return nil, err
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			rec.CreatedAt = created
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
