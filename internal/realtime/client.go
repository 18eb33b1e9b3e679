package realtime

import (
	"sync"

	"github.com/google/uuid"
)

const sendBufferSize = 64

// Client es una conexión viva: guarda el usuario resuelto en el handshake
// durante toda la vida de la conexión y se destruye al desconectar.
type Client struct {
	ID     string
	UserID string
	Email  string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient crea una conexión para un usuario ya autenticado.
func NewClient(userID, email string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Email:  email,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Outbox expone el canal de salida que drena el write pump.
func (c *Client) Outbox() <-chan []byte {
	return c.send
}

// offer encola sin bloquear. Devuelve false si la conexión ya cerró o el
// buffer esta lleno.
func (c *Client) offer(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close cierra el canal de salida una sola vez; el write pump termina al
// drenarlo.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
