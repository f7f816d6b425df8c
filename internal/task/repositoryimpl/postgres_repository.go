package repositoryimpl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claimboard/claimboard/internal/task"
	"github.com/claimboard/claimboard/pkg/cerr"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id                    TEXT PRIMARY KEY,
		board_id              TEXT NOT NULL,
		column_id             TEXT NOT NULL,
		title                 TEXT NOT NULL,
		status                TEXT NOT NULL,
		priority              INT,
		depends_on            TEXT[] NOT NULL DEFAULT '{}',
		required_capabilities TEXT[] NOT NULL DEFAULT '{}',
		leased_at             TIMESTAMPTZ,
		lease_expires_at      TIMESTAMPTZ,
		created_at            TIMESTAMPTZ NOT NULL,
		updated_at            TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_column_status_idx ON tasks (column_id, status)`,
}

const taskColumns = `id, board_id, column_id, title, status, priority, depends_on, required_capabilities, leased_at, lease_expires_at, created_at, updated_at`

// PostgresRepository persists tasks in a relational store. The conditional
// update is a single guarded UPDATE, so claim safety comes directly from the
// database rather than an in-process lock.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, url string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Create(ctx context.Context, t *task.Task) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.BoardID, t.ColumnID, t.Title, string(t.Status), t.Priority,
		t.DependsOn, t.RequiredCapabilities, t.LeasedAt, t.LeaseExpiresAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return cerr.NewError(cerr.AlreadyExists, "task already exists", err)
		}
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to insert task: %w", err))
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cerr.NewError(cerr.NotFound, "task not found", err)
		}
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to get task: %w", err))
	}
	return t, nil
}

func (r *PostgresRepository) Find(ctx context.Context, where task.Where) ([]*task.Task, error) {
	cond, args := buildWhere(where)
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if cond != "" {
		query += ` WHERE ` + cond
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to query tasks: %w", err))
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to scan task: %w", err))
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to iterate tasks: %w", err))
	}
	return tasks, nil
}

func (r *PostgresRepository) Update(ctx context.Context, t *task.Task) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tasks SET board_id=$2, column_id=$3, title=$4, status=$5, priority=$6,
			depends_on=$7, required_capabilities=$8, leased_at=$9, lease_expires_at=$10, updated_at=$11
		 WHERE id=$1`,
		t.ID, t.BoardID, t.ColumnID, t.Title, string(t.Status), t.Priority,
		t.DependsOn, t.RequiredCapabilities, t.LeasedAt, t.LeaseExpiresAt, t.UpdatedAt,
	)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to update task: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return nil
}

func (r *PostgresRepository) ConditionalUpdate(ctx context.Context, where task.Where, patch task.Patch) ([]string, error) {
	cond, args := buildWhere(where)
	base := len(args)
	query := fmt.Sprintf(
		`UPDATE tasks SET status=$%d, leased_at=$%d, lease_expires_at=$%d, updated_at=$%d`,
		base+1, base+2, base+3, base+4,
	)
	args = append(args, string(patch.Status), patch.LeasedAt, patch.LeaseExpiresAt, patch.UpdatedAt)
	if cond != "" {
		query += ` WHERE ` + cond
	}
	query += ` RETURNING id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to run conditional update: %w", err))
	}
	defer rows.Close()

	var affected []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to scan id: %w", err))
		}
		affected = append(affected, id)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to iterate ids: %w", err))
	}
	return affected, nil
}

func buildWhere(where task.Where) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, vals ...any) {
		for _, v := range vals {
			args = append(args, v)
		}
		conds = append(conds, cond)
	}
	if where.ID != "" {
		add(fmt.Sprintf("id = $%d", len(args)+1), where.ID)
	}
	if where.BoardID != "" {
		add(fmt.Sprintf("board_id = $%d", len(args)+1), where.BoardID)
	}
	if where.ColumnID != "" {
		add(fmt.Sprintf("column_id = $%d", len(args)+1), where.ColumnID)
	}
	if where.Status != "" {
		add(fmt.Sprintf("status = $%d", len(args)+1), string(where.Status))
	}
	if where.AvailableAt != nil {
		add(fmt.Sprintf("(status = 'open' OR (status = 'leased' AND lease_expires_at < $%d))", len(args)+1), *where.AvailableAt)
	}
	if where.ExpiredAt != nil {
		add(fmt.Sprintf("(status = 'leased' AND lease_expires_at < $%d)", len(args)+1), *where.ExpiredAt)
	}
	return strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t      task.Task
		status string
	)
	if err := row.Scan(
		&t.ID, &t.BoardID, &t.ColumnID, &t.Title, &status, &t.Priority,
		&t.DependsOn, &t.RequiredCapabilities, &t.LeasedAt, &t.LeaseExpiresAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	return &t, nil
}
