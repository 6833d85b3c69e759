package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"storyboard-server/internal/model"
	"storyboard-server/internal/service"
)

// Compile-time check
var _ service.ProjectRepository = (*pgProjectRepository)(nil)

// pgProjectRepository хранит проект целиком одной JSONB-записью: проект
// всегда читается и пишется как единый агрегат.
type pgProjectRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPgProjectRepository(db *pgxpool.Pool, logger *zap.Logger) service.ProjectRepository {
	return &pgProjectRepository{db: db, logger: logger.Named("PgProjectRepo")}
}

type projectRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Data         []byte `db:"data"`
	LastModified int64  `db:"last_modified"`
}

func (r *pgProjectRepository) Save(ctx context.Context, project *model.Project) error {
	data, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("marshal project %s: %w", project.ID, err)
	}

	query := `
        INSERT INTO projects (id, name, data, last_modified)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            data = EXCLUDED.data,
            last_modified = EXCLUDED.last_modified;
    `
	_, err = r.db.Exec(ctx, query, project.ID, project.Name, data, project.LastModified)
	if err != nil {
		r.logger.Error("Ошибка сохранения проекта в БД", zap.String("project_id", project.ID), zap.Error(err))
		return fmt.Errorf("save project %s: %w", project.ID, err)
	}
	r.logger.Debug("Проект сохранен", zap.String("project_id", project.ID))
	return nil
}

func (r *pgProjectRepository) GetByID(ctx context.Context, id string) (*model.Project, error) {
	var row projectRow
	err := pgxscan.Get(ctx, r.db, &row, `SELECT id, name, data, last_modified FROM projects WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrProjectNotFound
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return row.toProject()
}

func (r *pgProjectRepository) GetAll(ctx context.Context) ([]model.Project, error) {
	var rows []projectRow
	err := pgxscan.Select(ctx, r.db, &rows, `SELECT id, name, data, last_modified FROM projects ORDER BY last_modified DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	projects := make([]model.Project, 0, len(rows))
	for _, row := range rows {
		p, err := row.toProject()
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, nil
}

func (r *pgProjectRepository) GetMostRecent(ctx context.Context) (*model.Project, error) {
	var row projectRow
	err := pgxscan.Get(ctx, r.db, &row, `SELECT id, name, data, last_modified FROM projects ORDER BY last_modified DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrProjectNotFound
		}
		return nil, fmt.Errorf("get most recent project: %w", err)
	}
	return row.toProject()
}

func (r *pgProjectRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrProjectNotFound
	}
	r.logger.Info("Проект удален", zap.String("project_id", id))
	return nil
}

func (row *projectRow) toProject() (*model.Project, error) {
	var project model.Project
	if err := json.Unmarshal(row.Data, &project); err != nil {
		return nil, fmt.Errorf("unmarshal project %s: %w", row.ID, err)
	}
	// Колонки держим авторитетными: data может отставать на долю секунды.
	project.ID = row.ID
	project.Name = row.Name
	project.LastModified = row.LastModified
	return &project, nil
}
