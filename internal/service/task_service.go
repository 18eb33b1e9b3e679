package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskboard/internal/domain"
	"taskboard/internal/repository"
)

// TaskBroadcaster publica el resultado de una mutación confirmada hacia
// las salas personales de la audiencia autorizada. La implementación real
// vive en internal/realtime.
type TaskBroadcaster interface {
	TaskUpdated(task domain.Task)
	TaskDeleted(task domain.Task)
}

// TaskService coordina reglas de negocio para tareas: creación, lectura
// filtrada por visibilidad, mutación solo-creador y compartido idempotente.
type TaskService struct {
	logger      *zap.Logger
	tasks       repository.TaskRepository
	users       repository.UserRepository
	broadcaster TaskBroadcaster
}

var (
	// ErrTaskNotFound cubre tanto la tarea inexistente como la mutación
	// de un no-creador: ambos casos devuelven lo mismo para no revelar
	// la existencia de tareas ajenas.
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskInvalid        = errors.New("task data invalid")
	ErrShareTargetInvalid = errors.New("share target invalid")
)

func NewTaskService(logger *zap.Logger, tasks repository.TaskRepository, users repository.UserRepository, broadcaster TaskBroadcaster) *TaskService {
	return &TaskService{
		logger:      logger,
		tasks:       tasks,
		users:       users,
		broadcaster: broadcaster,
	}
}

type CreateTaskInput struct {
	Title       string
	Description string
	DueDate     *time.Time
	Priority    domain.TaskPriority
	Status      domain.TaskStatus
}

func (s *TaskService) Create(ctx context.Context, creatorID string, input CreateTaskInput) (domain.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return domain.Task{}, ErrTaskInvalid
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	status := input.Status
	if status == "" {
		status = domain.StatusPending
	}
	if !domain.ValidPriority(priority) || !domain.ValidStatus(status) {
		return domain.Task{}, ErrTaskInvalid
	}
	if input.DueDate != nil && input.DueDate.Before(time.Now().UTC()) {
		return domain.Task{}, ErrTaskInvalid
	}

	now := time.Now().UTC()
	task := domain.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		DueDate:     input.DueDate,
		Priority:    priority,
		Status:      status,
		CreatorID:   creatorID,
		SharedWith:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return domain.Task{}, err
	}

	s.broadcast(task)
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, userID, id string) (domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	if !task.CanRead(userID) {
		return domain.Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (s *TaskService) List(ctx context.Context, userID string, filter repository.TaskFilter) ([]domain.Task, int, error) {
	if filter.Status != "" && !domain.ValidStatus(filter.Status) {
		return nil, 0, ErrTaskInvalid
	}
	if filter.Priority != "" && !domain.ValidPriority(filter.Priority) {
		return nil, 0, ErrTaskInvalid
	}
	return s.tasks.List(ctx, userID, filter)
}

func (s *TaskService) Update(ctx context.Context, userID, id string, update repository.TaskUpdate) (domain.Task, error) {
	if update.Empty() {
		return domain.Task{}, ErrTaskInvalid
	}
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		return domain.Task{}, ErrTaskInvalid
	}
	if update.Priority != nil && !domain.ValidPriority(*update.Priority) {
		return domain.Task{}, ErrTaskInvalid
	}
	if update.Status != nil && !domain.ValidStatus(*update.Status) {
		return domain.Task{}, ErrTaskInvalid
	}

	// La escritura esta limitada por (id, creator): un caller sin permiso
	// recibe el mismo not-found que para un id inexistente.
	task, err := s.tasks.UpdateFields(ctx, id, userID, update)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, ErrTaskNotFound
		}
		return domain.Task{}, err
	}

	s.broadcast(task)
	return task, nil
}

func (s *TaskService) Delete(ctx context.Context, userID, id string) error {
	// Se lee antes de borrar para conocer la audiencia del fan-out.
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		return err
	}
	if !task.CanWrite(userID) {
		return ErrTaskNotFound
	}

	if err := s.tasks.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		return err
	}

	if s.broadcaster != nil {
		s.broadcaster.TaskDeleted(task)
	}
	return nil
}

// Share une targetIDs a shared_with. Solo el creador puede compartir;
// compartir con un usuario ya compartido es un no-op.
func (s *TaskService) Share(ctx context.Context, actorID, id string, targetIDs []string) (domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	if !task.CanWrite(actorID) {
		return domain.Task{}, ErrTaskNotFound
	}

	seen := make(map[string]struct{}, len(targetIDs))
	targets := make([]string, 0, len(targetIDs))
	for _, raw := range targetIDs {
		target := strings.TrimSpace(raw)
		if target == "" || target == task.CreatorID {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}
	if len(targets) == 0 {
		return task, nil
	}

	ok, err := s.users.ExistAll(ctx, targets)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, ErrShareTargetInvalid
	}

	if err := s.tasks.AddShares(ctx, id, targets); err != nil {
		return domain.Task{}, err
	}

	task, err = s.tasks.GetByID(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}

	s.broadcast(task)
	return task, nil
}

func (s *TaskService) broadcast(task domain.Task) {
	if s.broadcaster != nil {
		s.broadcaster.TaskUpdated(task)
	}
}
