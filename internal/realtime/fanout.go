package realtime

import (
	"go.uber.org/zap"

	"taskboard/internal/domain"
)

// Fanout publica mutaciones confirmadas de tareas hacia las salas
// personales de su audiencia autorizada: el creador y los usuarios con
// los que la tarea esta compartida al momento de la mutación. La entrega
// es a las conexiones vivas; un usuario desconectado re-sincroniza por
// REST al volver.
type Fanout struct {
	logger   *zap.Logger
	registry RoomRegistry
}

func NewFanout(logger *zap.Logger, registry RoomRegistry) *Fanout {
	return &Fanout{logger: logger, registry: registry}
}

// TaskUpdated publica la tarea completa tras create, update o share.
func (f *Fanout) TaskUpdated(task domain.Task) {
	event := Event{Name: EventTaskUpdated, Data: task}
	for _, userID := range task.Audience() {
		f.registry.Publish(PersonalRoom(userID), event)
	}
	if f.logger != nil {
		f.logger.Debug("task update fanned out",
			zap.String("task_id", task.ID),
			zap.Int("audience", len(task.Audience())),
		)
	}
}

// TaskDeleted publica solo el identificador: la tarea ya no existe.
func (f *Fanout) TaskDeleted(task domain.Task) {
	event := Event{Name: EventTaskDeleted, Data: map[string]string{"id": task.ID}}
	for _, userID := range task.Audience() {
		f.registry.Publish(PersonalRoom(userID), event)
	}
}
