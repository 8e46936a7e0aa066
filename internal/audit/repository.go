package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository membaca audit trail dari tabel permission_audit_log.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository membuat repository baru.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const baseSelect = `SELECT created_at, action, resource_type, COALESCE(resource_id, ''),
       subject_id, performed_by, success, COALESCE(details, '{}'::jsonb)
FROM permission_audit_log`

func buildWhere(filters TimelineFilters) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !filters.From.IsZero() {
		add("created_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("created_at < $%d", filters.To)
	}
	if s := strings.TrimSpace(filters.SubjectID); s != "" {
		add("subject_id = $%d", s)
	}
	if s := strings.TrimSpace(filters.ResourceType); s != "" {
		add("resource_type = $%d", s)
	}
	if filters.Success != nil {
		add("success = $%d", *filters.Success)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *PostgresRepository) scanRows(ctx context.Context, query string, args []any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var details []byte
		if err := rows.Scan(&row.At, &row.Action, &row.ResourceType, &row.ResourceID,
			&row.SubjectID, &row.PerformedBy, &row.Success, &details); err != nil {
			return nil, err
		}
		var detailMap map[string]string
		if err := json.Unmarshal(details, &detailMap); err == nil {
			row.Reason = detailMap["reason"]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// TimelineWindow mengambil satu halaman audit trail.
func (r *PostgresRepository) TimelineWindow(ctx context.Context, params QueryParams) ([]TimelineRow, error) {
	where, args := buildWhere(params.Filters)
	args = append(args, params.Limit, params.Offset)
	query := fmt.Sprintf("%s%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		baseSelect, where, len(args)-1, len(args))
	return r.scanRows(ctx, query, args)
}

// TimelineAll mengambil seluruh audit trail sesuai filter.
func (r *PostgresRepository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	where, args := buildWhere(filters)
	return r.scanRows(ctx, baseSelect+where+" ORDER BY created_at DESC", args)
}
