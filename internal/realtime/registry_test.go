package realtime

import (
	"encoding/json"
	"testing"
)

func drainOne(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case payload, ok := <-c.Outbox():
		if !ok {
			t.Fatalf("outbox closed")
		}
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return e
	default:
		t.Fatalf("expected a queued event")
	}
	return Event{}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.Outbox():
		t.Fatalf("expected no event, got %s", payload)
	default:
	}
}

func TestRegistry_PublishReachesOnlyRoomMembers(t *testing.T) {
	r := NewLocalRegistry()
	a := NewClient("ua", "a@x.com")
	b := NewClient("ub", "b@x.com")
	r.Register(a)
	r.Register(b)
	r.Join("room-1", a)

	r.Publish("room-1", Event{Name: "ping"})

	if e := drainOne(t, a); e.Name != "ping" {
		t.Fatalf("expected ping, got %+v", e)
	}
	assertEmpty(t, b)
}

func TestRegistry_PersonalRoomReachesAllConnectionsOfUser(t *testing.T) {
	r := NewLocalRegistry()
	tab1 := NewClient("ua", "a@x.com")
	tab2 := NewClient("ua", "a@x.com")
	r.Register(tab1)
	r.Register(tab2)
	r.Join(PersonalRoom("ua"), tab1)
	r.Join(PersonalRoom("ua"), tab2)

	r.Publish(PersonalRoom("ua"), Event{Name: "task-updated"})

	if e := drainOne(t, tab1); e.Name != "task-updated" {
		t.Fatalf("tab1 missed the event: %+v", e)
	}
	if e := drainOne(t, tab2); e.Name != "task-updated" {
		t.Fatalf("tab2 missed the event: %+v", e)
	}
}

func TestRegistry_LeaveStopsDelivery(t *testing.T) {
	r := NewLocalRegistry()
	a := NewClient("ua", "a@x.com")
	r.Register(a)
	r.Join("room-1", a)
	r.Leave("room-1", a)

	if r.Member("room-1", a) {
		t.Fatalf("client must not remain a member after leave")
	}
	r.Publish("room-1", Event{Name: "ping"})
	assertEmpty(t, a)
}

func TestRegistry_UnregisterRemovesFromAllRooms(t *testing.T) {
	r := NewLocalRegistry()
	a := NewClient("ua", "a@x.com")
	r.Register(a)
	r.Join("room-1", a)
	r.Join("room-2", a)

	r.Unregister(a)

	if r.Member("room-1", a) || r.Member("room-2", a) {
		t.Fatalf("unregister must leave every room")
	}
	if _, ok := <-a.Outbox(); ok {
		t.Fatalf("outbox must be closed after unregister")
	}
}

func TestRegistry_BroadcastReachesEveryone(t *testing.T) {
	r := NewLocalRegistry()
	a := NewClient("ua", "a@x.com")
	b := NewClient("ub", "b@x.com")
	r.Register(a)
	r.Register(b)

	r.Broadcast(Event{Name: "user-online"})

	if e := drainOne(t, a); e.Name != "user-online" {
		t.Fatalf("a missed broadcast: %+v", e)
	}
	if e := drainOne(t, b); e.Name != "user-online" {
		t.Fatalf("b missed broadcast: %+v", e)
	}
}

func TestRegistry_SlowConsumerIsDropped(t *testing.T) {
	r := NewLocalRegistry()
	a := NewClient("ua", "a@x.com")
	r.Register(a)
	r.Join("room-1", a)

	// Nadie drena el outbox: al llenarse el buffer la conexión se da de
	// baja en lugar de bloquear al publicador.
	for i := 0; i <= sendBufferSize; i++ {
		r.Publish("room-1", Event{Name: "flood"})
	}

	if r.Member("room-1", a) {
		t.Fatalf("slow consumer must be unregistered")
	}
}
