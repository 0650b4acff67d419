// Package notify implements the Notification Bus: a process-wide,
// explicitly-constructed map from user id to a live bidirectional
// session, generalized from the teacher's per-ride Hub to per-user
// sessions (spec.md §4.3).
package notify

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"ridehail/internal/domain"
)

// Session is the minimal surface a transport needs to implement to be
// addressable by the Bus. *websocket.Conn satisfies it.
type Session interface {
	WriteJSON(v any) error
	Close() error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Bus is a concrete, explicitly-constructed value — never a package
// global — owned by the application entry point and injected into
// every handler and worker that needs to push to users.
type Bus struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

func NewBus() *Bus {
	return &Bus{sessions: make(map[int64]Session)}
}

// Attach replaces any existing session for userID.
func (b *Bus) Attach(userID int64, s Session) {
	b.mu.Lock()
	old, existed := b.sessions[userID]
	b.sessions[userID] = s
	b.mu.Unlock()
	if existed {
		_ = old.Close()
	}
}

// Detach removes userID's session. Idempotent.
func (b *Bus) Detach(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, userID)
}

// Deliver is fire-and-forget: the write runs synchronously on the
// caller's goroutine, and on send failure it detaches and logs, never
// returning an error to the caller. Callers are expected
// to have their state recoverable by re-querying the Ride Store.
func (b *Bus) Deliver(userID int64, msgType domain.MessageType, payload any) {
	b.mu.RLock()
	s, ok := b.sessions[userID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.WriteJSON(domain.Envelope{Type: msgType, Payload: payload}); err != nil {
		log.Printf("notify: delivery to user %d failed, detaching: %v", userID, err)
		b.Detach(userID)
	}
}

// DeliverRidePair routes a message to the opposite party of a ride's
// in-progress location-streaming channel: rider gets the driver's
// position and vice versa. Shares the same attach/detach machinery as
// the matching engine's push notifications, but is out of the core's
// scope (spec.md §1).
func (b *Bus) DeliverRidePair(ride domain.Ride, senderID int64, msgType domain.MessageType, payload any) {
	recipient := ride.RiderID
	if ride.DriverID != nil && senderID == ride.RiderID {
		recipient = *ride.DriverID
	} else if ride.DriverID != nil && senderID == *ride.DriverID {
		recipient = ride.RiderID
	} else {
		return
	}
	b.Deliver(recipient, msgType, payload)
}

// Upgrade promotes an inbound HTTP request to a websocket session and
// attaches it to userID. The caller is expected to run a read-pump
// goroutine so the Bus notices disconnects.
func (b *Bus) Upgrade(w http.ResponseWriter, r *http.Request, userID int64) (*websocket.Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	b.Attach(userID, conn)
	return conn, nil
}

// Pump blocks reading (and discarding) frames from conn until it
// errors or closes, then detaches userID. Callers run this in its own
// goroutine per connection, mirroring the teacher's per-subscription
// read loop in internal/dispatch/hub.go.
func (b *Bus) Pump(userID int64, conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			b.Detach(userID)
			return
		}
	}
}
