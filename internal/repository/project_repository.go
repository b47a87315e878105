package repository

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-exp-expenses/pkg/database"
	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// ProjectRepository reads projects. Project CRUD lives elsewhere.
type ProjectRepository struct {
	db *database.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *database.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// GetByID returns a project or a NOT_FOUND error.
func (r *ProjectRepository) GetByID(ctx context.Context, id int64) (*Project, error) {
	query := `
		SELECT id, name, COALESCE(budget, 0)::text, COALESCE(spent, 0)::text, status
		FROM projects
		WHERE id = $1
	`

	p := &Project{}
	var budget, spent string
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &budget, &spent, &p.Status)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("project", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get project")
	}

	if p.Budget, err = decimal.NewFromString(budget); err != nil {
		return nil, errors.Wrap(fmt.Errorf("project %d budget: %w", id, err), errors.ErrCodeInternal, "failed to get project")
	}
	if p.Spent, err = decimal.NewFromString(spent); err != nil {
		return nil, errors.Wrap(fmt.Errorf("project %d spent: %w", id, err), errors.ErrCodeInternal, "failed to get project")
	}
	return p, nil
}
