package projects

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryPort defines data access methods for projects.
type RepositoryPort interface {
	List(ctx context.Context, status *Status) ([]Project, error)
	Get(ctx context.Context, id string) (Project, error)
	Create(ctx context.Context, project Project) error
	Update(ctx context.Context, project Project) error
	Delete(ctx context.Context, id string) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) List(ctx context.Context, status *Status) ([]Project, error) {
	query := `SELECT id, title, description, status, owner_id, created_at, updated_at
	          FROM projects ORDER BY updated_at DESC`
	args := []any{}
	if status != nil {
		query = `SELECT id, title, description, status, owner_id, created_at, updated_at
		         FROM projects WHERE status = $1 ORDER BY updated_at DESC`
		args = append(args, string(*status))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id string) (Project, error) {
	var p Project
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, status, owner_id, created_at, updated_at
		 FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (r *Repository) Create(ctx context.Context, project Project) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO projects (id, title, description, status, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		project.ID, project.Title, project.Description, string(project.Status), project.OwnerID,
		project.CreatedAt, project.UpdatedAt)
	return err
}

func (r *Repository) Update(ctx context.Context, project Project) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE projects SET title = $2, description = $3, status = $4, updated_at = $5 WHERE id = $1`,
		project.ID, project.Title, project.Description, string(project.Status), project.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
