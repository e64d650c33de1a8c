// Package livestatus rebroadcasts ingestion health over socket.io to any
// connected admin console (spec §4.L). It is a read-only observational
// layer: nothing here ever feeds back into dispatch or the event log.
package livestatus

import (
	"log/slog"
	"net/http"

	socketio "github.com/googollee/go-socket.io"

	"github.com/ocx/ingestcore/internal/health"
)

const namespace = "/"

// Broadcaster wraps a socket.io server and pushes ingestion health
// events to every connected client, grounded on the teacher's
// cmd/probe socket.io wiring generalized from a single manual-review
// channel into a general event/registration status feed.
type Broadcaster struct {
	server *socketio.Server
}

// New creates a Broadcaster with its connection lifecycle logged the way
// the teacher logs socket.io connect/disconnect/error events.
func New() *Broadcaster {
	server := socketio.NewServer(nil)

	server.OnConnect(namespace, func(s socketio.Conn) error {
		s.SetContext("")
		slog.Info("livestatus: client connected", "session", s.ID())
		return nil
	})
	server.OnDisconnect(namespace, func(s socketio.Conn, reason string) {
		slog.Info("livestatus: client disconnected", "session", s.ID(), "reason", reason)
	})
	server.OnError(namespace, func(s socketio.Conn, err error) {
		slog.Warn("livestatus: connection error", "error", err)
	})

	return &Broadcaster{server: server}
}

// Handler returns the http.Handler to mount at the socket.io endpoint
// (e.g. /livestatus in cmd/api's gorilla/mux router).
func (b *Broadcaster) Handler() http.Handler {
	return b.server
}

// Serve runs the socket.io server's event loop. Call it in its own
// goroutine from cmd/api's bootstrap, mirroring the teacher's pattern of
// a long-lived background server alongside the HTTP listener.
func (b *Broadcaster) Serve() error {
	return b.server.Serve()
}

// Close stops accepting connections and releases the socket.io server.
func (b *Broadcaster) Close() error {
	return b.server.Close()
}

// eventOutcome is the payload shape pushed for event_outcome events.
type eventOutcome struct {
	TenantID string `json:"tenant_id"`
	EventID  string `json:"event_id"`
	Topic    string `json:"topic"`
	Status   string `json:"status"`
}

// PublishEventOutcome broadcasts one event's terminal status
// (completed/failed/ignored) to every connected admin console.
func (b *Broadcaster) PublishEventOutcome(tenantID, eventID, topic, status string) {
	b.server.BroadcastToNamespace(namespace, "event_outcome", eventOutcome{
		TenantID: tenantID,
		EventID:  eventID,
		Topic:    topic,
		Status:   status,
	})
}

// registrationChanged is the payload shape pushed for
// registration_changed events.
type registrationChanged struct {
	Topic        string `json:"topic"`
	Shop         string `json:"shop"`
	Status       string `json:"status"`
	FailureCount int    `json:"failure_count"`
}

// PublishRegistrationStatus broadcasts a topic/shop registration's
// current health, typically called right after
// health.Monitor.RecordRegistrationFailure/Success.
func (b *Broadcaster) PublishRegistrationStatus(s health.RegistrationStatus) {
	b.server.BroadcastToNamespace(namespace, "registration_changed", registrationChanged{
		Topic:        s.Topic,
		Shop:         s.Shop,
		Status:       s.Status,
		FailureCount: s.FailureCount,
	})
}
