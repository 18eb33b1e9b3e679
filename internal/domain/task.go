package domain

import "time"

// TaskPriority representa la urgencia de una tarea.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// TaskStatus representa el estado del ciclo de vida de una tarea.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
)

// ValidPriority indica si el valor pertenece al enum de prioridades.
func ValidPriority(p TaskPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ValidStatus indica si el valor pertenece al enum de estados.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task es una tarea con un creador (unico escritor) y un conjunto de
// usuarios con acceso de solo lectura.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	CreatorID   string       `json:"creator_id"`
	SharedWith  []string     `json:"shared_with"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// CanRead indica si el usuario puede ver la tarea: creador o compartido.
func (t Task) CanRead(userID string) bool {
	if userID == "" {
		return false
	}
	if t.CreatorID == userID {
		return true
	}
	for _, id := range t.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// CanWrite indica si el usuario puede mutar la tarea. Aplica a update,
// delete y share: solo el creador.
func (t Task) CanWrite(userID string) bool {
	return userID != "" && t.CreatorID == userID
}

// Audience devuelve el conjunto autorizado {creador} ∪ sharedWith,
// usado para el fan-out de eventos tras una mutacion.
func (t Task) Audience() []string {
	audience := make([]string, 0, len(t.SharedWith)+1)
	audience = append(audience, t.CreatorID)
	for _, id := range t.SharedWith {
		if id != t.CreatorID {
			audience = append(audience, id)
		}
	}
	return audience
}
