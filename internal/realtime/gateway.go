package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskboard/internal/domain"
)

// Eventos originados por el servidor.
const (
	EventConnected         = "connected"
	EventTaskUpdated       = "task-updated"
	EventTaskDeleted       = "task-deleted"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
	EventError             = "error"
)

// Eventos originados por el cliente.
const (
	eventJoinTaskRoom     = "join-task-room"
	eventLeaveTaskRoom    = "leave-task-room"
	eventTaskUpdateIntent = "task-update-intent"
	eventTypingStart      = "typing-start"
	eventTypingStop       = "typing-stop"
	eventPresenceActive   = "presence-active"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// TokenVerifier valida el bearer token del handshake.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserReader resuelve el usuario autenticado del handshake.
type UserReader interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
}

// TaskReader carga tareas para los chequeos de acceso a salas.
type TaskReader interface {
	GetByID(ctx context.Context, id string) (domain.Task, error)
}

// Gateway autentica conexiones websocket y despacha los eventos de
// cliente. Todos los chequeos de acceso a salas de tarea reusan los
// mismos predicados que la capa REST.
type Gateway struct {
	logger   *zap.Logger
	tokens   TokenVerifier
	users    UserReader
	tasks    TaskReader
	registry RoomRegistry
	upgrader websocket.Upgrader
}

func NewGateway(logger *zap.Logger, tokens TokenVerifier, users UserReader, tasks TaskReader, registry RoomRegistry, allowedOrigins []string) *Gateway {
	return &Gateway{
		logger:   logger,
		tokens:   tokens,
		users:    users,
		tasks:    tasks,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil // default del upgrader: mismo host
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || a == "*" {
				return true
			}
		}
		return false
	}
}

// clientMessage es el sobre de todos los eventos entrantes.
type clientMessage struct {
	Event   string          `json:"event"`
	TaskID  string          `json:"task_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandleConnection maneja GET /ws. El token se valida antes del upgrade:
// una credencial ausente o inválida rechaza con 401 sin que ningún evento
// llegue a emitirse.
func (g *Gateway) HandleConnection(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			token = strings.TrimSpace(header[len("Bearer "):])
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	userID, err := g.tokens.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	user, err := g.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(user.ID, user.Email)
	g.registry.Register(client)
	g.registry.Join(PersonalRoom(user.ID), client)

	// Ack con el usuario resuelto, solo hacia esta conexión.
	g.sendTo(client, Event{Name: EventConnected, Data: gin.H{"user_id": user.ID}})
	g.registry.Broadcast(Event{Name: EventUserOnline, Data: gin.H{"user_id": user.ID}})

	g.logger.Info("websocket connected",
		zap.String("user_id", user.ID),
		zap.String("connection_id", client.ID),
	)

	go g.writePump(conn, client)
	g.readPump(conn, client)
}

func (g *Gateway) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		g.registry.Unregister(client)
		g.registry.Broadcast(Event{Name: EventUserOffline, Data: gin.H{"user_id": client.UserID}})
		conn.Close()
		g.logger.Info("websocket disconnected",
			zap.String("user_id", client.UserID),
			zap.String("connection_id", client.ID),
		)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.sendTo(client, Event{Name: EventError, Data: gin.H{"message": "malformed event"}})
			continue
		}
		g.dispatch(client, msg)
	}
}

func (g *Gateway) dispatch(client *Client, msg clientMessage) {
	switch msg.Event {
	case eventJoinTaskRoom:
		g.joinTaskRoom(client, msg.TaskID)
	case eventLeaveTaskRoom:
		if msg.TaskID != "" {
			g.registry.Leave(TaskRoom(msg.TaskID), client)
		}
	case eventTaskUpdateIntent:
		g.relayUpdateIntent(client, msg)
	case eventTypingStart:
		g.relayTyping(client, msg.TaskID, EventUserTyping)
	case eventTypingStop:
		g.relayTyping(client, msg.TaskID, EventUserStoppedTyping)
	case eventPresenceActive:
		g.registry.Broadcast(Event{Name: EventUserOnline, Data: gin.H{"user_id": client.UserID}})
	default:
		g.sendTo(client, Event{Name: EventError, Data: gin.H{"message": "unknown event"}})
	}
}

// joinTaskRoom exige el mismo CanRead que la lectura REST: una conexión
// no puede entrar a la sala de una tarea adivinando su id.
func (g *Gateway) joinTaskRoom(client *Client, taskID string) {
	task, ok := g.readableTask(client, taskID)
	if !ok {
		return
	}
	g.registry.Join(TaskRoom(task.ID), client)
}

func (g *Gateway) relayUpdateIntent(client *Client, msg clientMessage) {
	task, ok := g.readableTask(client, msg.TaskID)
	if !ok {
		return
	}
	if !task.CanWrite(client.UserID) {
		g.sendTo(client, Event{Name: EventError, Data: gin.H{"message": "task not found"}})
		return
	}
	g.registry.Publish(TaskRoom(task.ID), Event{
		Name: EventTaskUpdated,
		Data: gin.H{"task_id": task.ID, "payload": msg.Payload},
	})
}

func (g *Gateway) relayTyping(client *Client, taskID, eventName string) {
	if taskID == "" {
		return
	}
	room := TaskRoom(taskID)
	if !g.registry.Member(room, client) {
		return
	}
	g.registry.Publish(room, Event{
		Name: eventName,
		Data: gin.H{"user_id": client.UserID, "task_id": taskID},
	})
}

// readableTask carga la tarea y aplica CanRead, respondiendo el mismo
// "task not found" para inexistente y para inaccesible.
func (g *Gateway) readableTask(client *Client, taskID string) (domain.Task, bool) {
	if taskID == "" {
		g.sendTo(client, Event{Name: EventError, Data: gin.H{"message": "task_id required"}})
		return domain.Task{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	task, err := g.tasks.GetByID(ctx, taskID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			g.logger.Error("task lookup failed", zap.Error(err), zap.String("task_id", taskID))
		}
		g.sendTo(client, Event{Name: EventError, Data: gin.H{"message": "task not found"}})
		return domain.Task{}, false
	}
	if !task.CanRead(client.UserID) {
		g.sendTo(client, Event{Name: EventError, Data: gin.H{"message": "task not found"}})
		return domain.Task{}, false
	}
	return task, true
}

func (g *Gateway) sendTo(client *Client, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	if !client.offer(payload) {
		g.registry.Unregister(client)
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.Outbox():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
