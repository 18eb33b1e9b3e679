package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskboard/internal/domain"
)

// TaskFilter restringe y pagina un listado de tareas.
type TaskFilter struct {
	Status   domain.TaskStatus
	Priority domain.TaskPriority
	Search   string
	Page     int
	Limit    int
}

// TaskUpdate describe una actualización parcial: solo los campos presentes
// en el request entran al SET, asi un escritor concurrente no pisa campos
// que no envió.
type TaskUpdate struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Priority    *domain.TaskPriority
	Status      *domain.TaskStatus
}

// Empty indica si la actualización no toca ningún campo.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.DueDate == nil &&
		u.Priority == nil && u.Status == nil
}

// TaskRepository define el contrato de persistencia para tareas.
type TaskRepository interface {
	Create(ctx context.Context, task domain.Task) error
	GetByID(ctx context.Context, id string) (domain.Task, error)
	// List devuelve solo tareas legibles por userID (creador o compartido),
	// con el mismo predicado aplicado al total para que la paginación no
	// filtre la existencia de tareas ajenas.
	List(ctx context.Context, userID string, filter TaskFilter) ([]domain.Task, int, error)
	// UpdateFields aplica una actualización parcial limitada por
	// (id, creator): una escritura no autorizada no encuentra fila.
	UpdateFields(ctx context.Context, id, creatorID string, update TaskUpdate) (domain.Task, error)
	Delete(ctx context.Context, id, creatorID string) error
	// AddShares une userIDs a shared_with con semántica de conjunto.
	AddShares(ctx context.Context, taskID string, userIDs []string) error
}

// PgTaskRepository implementa TaskRepository usando pgxpool.
type PgTaskRepository struct {
	pool *pgxpool.Pool
}

func NewPgTaskRepository(pool *pgxpool.Pool) *PgTaskRepository {
	return &PgTaskRepository{pool: pool}
}

const taskColumns = `t.id, t.title, t.description, t.due_date, t.priority, t.status,
	t.creator_id, t.created_at, t.updated_at,
	(SELECT COALESCE(array_agg(s.user_id ORDER BY s.user_id), '{}') FROM task_shares s WHERE s.task_id = t.id)`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.DueDate,
		&t.Priority,
		&t.Status,
		&t.CreatorID,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.SharedWith,
	)
	return t, err
}

func (r *PgTaskRepository) Create(ctx context.Context, task domain.Task) error {
	const query = `
		INSERT INTO tasks (id, title, description, due_date, priority, status, creator_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		task.DueDate,
		task.Priority,
		task.Status,
		task.CreatorID,
		task.CreatedAt,
		task.UpdatedAt,
	)
	return err
}

func (r *PgTaskRepository) GetByID(ctx context.Context, id string) (domain.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM tasks t WHERE t.id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// readableWhere es el predicado de visibilidad compartido por el listado
// y su conteo.
const readableWhere = `(t.creator_id = $1 OR EXISTS (
	SELECT 1 FROM task_shares s WHERE s.task_id = t.id AND s.user_id = $1))`

func (r *PgTaskRepository) List(ctx context.Context, userID string, filter TaskFilter) ([]domain.Task, int, error) {
	where := []string{readableWhere}
	args := []any{userID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("t.status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		where = append(where, fmt.Sprintf("t.priority = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(t.title ILIKE $%d OR t.description ILIKE $%d)", len(args), len(args)))
	}

	clause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM tasks t WHERE ` + clause
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	args = append(args, limit, (page-1)*limit)
	listQuery := fmt.Sprintf(
		`SELECT `+taskColumns+` FROM tasks t WHERE `+clause+
			` ORDER BY t.created_at DESC LIMIT $%d OFFSET $%d`,
		len(args)-1, len(args),
	)

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r *PgTaskRepository) UpdateFields(ctx context.Context, id, creatorID string, update TaskUpdate) (domain.Task, error) {
	set := []string{}
	args := []any{id, creatorID}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.DueDate != nil {
		add("due_date", *update.DueDate)
	}
	if update.Priority != nil {
		add("priority", *update.Priority)
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	add("updated_at", time.Now().UTC())

	// El filtro (id, creator_id) re-limita la escritura: aunque el chequeo
	// de ownership previo haya corrido sobre datos viejos, una escritura
	// ajena no encuentra fila.
	query := fmt.Sprintf(
		`UPDATE tasks t SET %s WHERE t.id = $1 AND t.creator_id = $2 RETURNING `+taskColumns,
		strings.Join(set, ", "),
	)
	return scanTask(r.pool.QueryRow(ctx, query, args...))
}

func (r *PgTaskRepository) Delete(ctx context.Context, id, creatorID string) error {
	const query = `DELETE FROM tasks WHERE id = $1 AND creator_id = $2`
	tag, err := r.pool.Exec(ctx, query, id, creatorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AddShares inserta con ON CONFLICT DO NOTHING: compartir dos veces con el
// mismo usuario es un no-op.
func (r *PgTaskRepository) AddShares(ctx context.Context, taskID string, userIDs []string) error {
	const query = `
		INSERT INTO task_shares (task_id, user_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT (task_id, user_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, taskID, userIDs)
	return err
}
