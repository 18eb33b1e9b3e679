package realtime

import (
	"encoding/json"
	"sync"
)

// Event es un mensaje del servidor hacia clientes conectados.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// PersonalRoom es la sala propia de un usuario: el único canal que usa el
// fan-out para alcanzarlo, sin importar cuántas conexiones tenga abiertas.
func PersonalRoom(userID string) string {
	return "user:" + userID
}

// TaskRoom es la sala ad hoc de una tarea, usada para presencia y typing.
func TaskRoom(taskID string) string {
	return "task:" + taskID
}

// RoomRegistry administra conexiones vivas y membresías de sala. Es una
// interfaz inyectada para poder reemplazar el registro en-proceso por un
// backend distribuido (pub/sub) al escalar a varios procesos.
type RoomRegistry interface {
	Register(c *Client)
	// Unregister saca al cliente de todas sus salas y cierra su canal.
	Unregister(c *Client)
	Join(room string, c *Client)
	Leave(room string, c *Client)
	// Member indica si el cliente pertenece a la sala.
	Member(room string, c *Client) bool
	// Publish entrega el evento a cada conexión viva de la sala.
	Publish(room string, e Event)
	// Broadcast entrega el evento a todas las conexiones registradas.
	Broadcast(e Event)
}

// localRegistry es la implementación en-proceso: mapas protegidos por
// mutex, sin estado compartido entre procesos.
type localRegistry struct {
	mu      sync.RWMutex
	clients map[*Client]map[string]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewLocalRegistry() RoomRegistry {
	return &localRegistry{
		clients: make(map[*Client]map[string]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

func (r *localRegistry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		r.clients[c] = make(map[string]struct{})
	}
}

func (r *localRegistry) Unregister(c *Client) {
	r.mu.Lock()
	rooms, ok := r.clients[c]
	if ok {
		for room := range rooms {
			r.removeFromRoom(room, c)
		}
		delete(r.clients, c)
	}
	r.mu.Unlock()
	if ok {
		c.close()
	}
}

func (r *localRegistry) Join(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.clients[c]
	if !ok {
		return
	}
	rooms[room] = struct{}{}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (r *localRegistry) Leave(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rooms, ok := r.clients[c]; ok {
		delete(rooms, room)
	}
	r.removeFromRoom(room, c)
}

func (r *localRegistry) Member(room string, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	_, in := members[c]
	return in
}

func (r *localRegistry) Publish(room string, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	r.mu.RLock()
	members := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		r.deliver(c, payload)
	}
}

func (r *localRegistry) Broadcast(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		r.deliver(c, payload)
	}
}

// deliver encola sin bloquear; un consumidor que no drena su buffer se
// desconecta en lugar de frenar al resto.
func (r *localRegistry) deliver(c *Client, payload []byte) {
	if !c.offer(payload) {
		r.Unregister(c)
	}
}

func (r *localRegistry) removeFromRoom(room string, c *Client) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}
