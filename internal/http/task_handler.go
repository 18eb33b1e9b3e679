package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskboard/internal/domain"
	"taskboard/internal/repository"
	"taskboard/internal/service"
)

// TaskHandler mantiene dependencias para endpoints de tareas.
type TaskHandler struct {
	logger *zap.Logger
	tasks  *service.TaskService
}

func NewTaskHandler(logger *zap.Logger, tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{logger: logger, tasks: tasks}
}

// List maneja GET /tasks. Devuelve solo el conjunto legible del caller;
// el total de paginación sale del mismo predicado.
func (h *TaskHandler) List(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	filter := repository.TaskFilter{
		Status:   domain.TaskStatus(c.Query("status")),
		Priority: domain.TaskPriority(c.Query("priority")),
		Search:   c.Query("search"),
		Page:     page,
		Limit:    limit,
	}

	tasks, total, err := h.tasks.List(c.Request.Context(), userID, filter)
	if err != nil {
		if errors.Is(err, service.ErrTaskInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
			return
		}
		h.logger.Error("list tasks failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list tasks"})
		return
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	totalPages := (total + limit - 1) / limit

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"pagination": gin.H{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": totalPages,
		},
	})
}

// Create maneja POST /tasks. El caller queda como creador.
func (h *TaskHandler) Create(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var req struct {
		Title       string     `json:"title" binding:"required"`
		Description string     `json:"description"`
		DueDate     *time.Time `json:"due_date"`
		Priority    string     `json:"priority"`
		Status      string     `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create task request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	task, err := h.tasks.Create(c.Request.Context(), userID, service.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Priority:    domain.TaskPriority(req.Priority),
		Status:      domain.TaskStatus(req.Status),
	})
	if err != nil {
		if errors.Is(err, service.ErrTaskInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task data"})
			return
		}
		h.logger.Error("create task failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create task"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"task": task})
}

// Get maneja GET /tasks/:id.
func (h *TaskHandler) Get(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	task, err := h.tasks.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondTaskError(c, err, "get task failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// Update maneja PUT /tasks/:id. Solo los campos presentes en el body
// entran a la actualización.
func (h *TaskHandler) Update(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var req struct {
		Title       *string    `json:"title"`
		Description *string    `json:"description"`
		DueDate     *time.Time `json:"due_date"`
		Priority    *string    `json:"priority"`
		Status      *string    `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid update task request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	update := repository.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
	}
	if req.Priority != nil {
		p := domain.TaskPriority(*req.Priority)
		update.Priority = &p
	}
	if req.Status != nil {
		s := domain.TaskStatus(*req.Status)
		update.Status = &s
	}

	task, err := h.tasks.Update(c.Request.Context(), userID, c.Param("id"), update)
	if err != nil {
		h.respondTaskError(c, err, "update task failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// Delete maneja DELETE /tasks/:id.
func (h *TaskHandler) Delete(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if err := h.tasks.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondTaskError(c, err, "delete task failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Share maneja POST /tasks/:id/share.
func (h *TaskHandler) Share(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var req struct {
		UserIDs []string `json:"user_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid share request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	task, err := h.tasks.Share(c.Request.Context(), userID, c.Param("id"), req.UserIDs)
	if err != nil {
		if errors.Is(err, service.ErrShareTargetInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown share target"})
			return
		}
		h.respondTaskError(c, err, "share task failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// respondTaskError traduce errores del servicio. ErrTaskNotFound cubre
// tanto inexistente como sin permiso: mismo 404 para ambos.
func (h *TaskHandler) respondTaskError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, service.ErrTaskInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task data"})
	default:
		h.logger.Error(logMsg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
