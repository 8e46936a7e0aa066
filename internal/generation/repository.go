package generation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort defines data access methods for render requests.
type RepositoryPort interface {
	Create(ctx context.Context, request Request) error
	Get(ctx context.Context, id string) (Request, error)
	ListForProject(ctx context.Context, projectID string) ([]Request, error)
	UpdateStatus(ctx context.Context, id string, status RequestStatus, assetURL, errorDetail string) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, request Request) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO generation_requests
		   (id, project_id, prompt, model, status, asset_url, error_detail, requested_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		request.ID, request.ProjectID, request.Prompt, request.Model, string(request.Status),
		request.AssetURL, request.ErrorDetail, request.RequestedBy, request.CreatedAt, request.UpdatedAt)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (Request, error) {
	var req Request
	err := r.pool.QueryRow(ctx,
		`SELECT id, project_id, prompt, model, status, asset_url, error_detail, requested_by, created_at, updated_at
		 FROM generation_requests WHERE id = $1`, id).
		Scan(&req.ID, &req.ProjectID, &req.Prompt, &req.Model, &req.Status, &req.AssetURL,
			&req.ErrorDetail, &req.RequestedBy, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

func (r *Repository) ListForProject(ctx context.Context, projectID string) ([]Request, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, project_id, prompt, model, status, asset_url, error_detail, requested_by, created_at, updated_at
		 FROM generation_requests WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []Request
	for rows.Next() {
		var req Request
		if err := rows.Scan(&req.ID, &req.ProjectID, &req.Prompt, &req.Model, &req.Status, &req.AssetURL,
			&req.ErrorDetail, &req.RequestedBy, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status RequestStatus, assetURL, errorDetail string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE generation_requests
		 SET status = $2, asset_url = $3, error_detail = $4, updated_at = now()
		 WHERE id = $1`,
		id, string(status), assetURL, errorDetail)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
