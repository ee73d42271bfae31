// Package ipc exposes the device table over HTTP: a plain JSON listing for
// polling clients and a websocket event stream for the rest. It implements
// bolt.Sink, so the manager only ever depends on the narrow interface.
package ipc

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/fvbommel/sortorder"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/smallorange/bolt/internal/bolt"
)

type requestIDKey struct{}

// withRequestID tags the request context with a fresh id for correlating log
// lines across the handler and, for websocket clients, the lifetime of the
// subsequent event stream.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Controller is the subset of *bolt.Manager the control endpoints need.
// Kept as an interface so the router can be tested without a real manager.
type Controller interface {
	Enroll(ctx context.Context, uid string, policy bolt.Policy) error
	Forget(ctx context.Context, uid string) error
}

// EventKind identifies what kind of change an Event frame describes.
type EventKind string

const (
	EventExported EventKind = "exported"
	EventUpdated  EventKind = "updated"
	EventRemoved  EventKind = "removed"
)

// Event is one frame sent over the /events websocket.
type Event struct {
	Kind   EventKind       `json:"kind"`
	Path   string          `json:"path"`
	Device *bolt.DeviceView `json:"device,omitempty"`
}

// Sink fans device lifecycle notifications out to websocket listeners and
// serves a point-in-time snapshot over plain HTTP.
type Sink struct {
	mu      sync.RWMutex
	devices map[string]bolt.DeviceView

	listenersMu sync.Mutex
	listeners   map[int]chan Event
	nextID      int

	controller Controller
	log        logrus.FieldLogger
}

// SetController wires the enroll/forget control endpoints to m. Without a
// controller, Router only serves reads.
func (s *Sink) SetController(c Controller) {
	s.controller = c
}

// NewSink constructs an empty Sink.
func NewSink(log logrus.FieldLogger) *Sink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sink{
		devices:   make(map[string]bolt.DeviceView),
		listeners: make(map[int]chan Event),
		log:       log,
	}
}

func (s *Sink) broadcast(ev Event) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for id, ch := range s.listeners {
		select {
		case ch <- ev:
		default:
			s.log.WithField("listener", id).Warn("ipc: dropping event, listener not keeping up")
		}
	}
}

// Export implements bolt.Sink.
func (s *Sink) Export(v bolt.DeviceView) {
	s.mu.Lock()
	s.devices[v.UID] = v
	s.mu.Unlock()
	s.broadcast(Event{Kind: EventExported, Path: v.ObjectPath, Device: &v})
}

// Unexport implements bolt.Sink.
func (s *Sink) Unexport(uid string) {
	s.mu.Lock()
	v, ok := s.devices[uid]
	delete(s.devices, uid)
	s.mu.Unlock()
	if ok {
		s.broadcast(Event{Kind: EventRemoved, Path: v.ObjectPath})
	}
}

// Emit implements bolt.Sink.
func (s *Sink) Emit(v bolt.DeviceView) {
	s.mu.Lock()
	s.devices[v.UID] = v
	s.mu.Unlock()
	s.broadcast(Event{Kind: EventUpdated, Path: v.ObjectPath, Device: &v})
}

// List implements bolt.Sink, returning every exported device sorted by uid
// using natural (numeric-aware) ordering, matching how the CLI lists
// devices.
func (s *Sink) List() []bolt.DeviceView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]bolt.DeviceView, 0, len(s.devices))
	for _, v := range s.devices {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return sortorder.NaturalLess(out[i].UID, out[j].UID)
	})
	return out
}

func (s *Sink) subscribe() (int, chan Event) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Event, 32)
	s.listeners[id] = ch
	return id, ch
}

func (s *Sink) unsubscribe(id int) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	if ch, ok := s.listeners[id]; ok {
		close(ch)
		delete(s.listeners, id)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The debug/introspection surface is loopback-only by configuration;
	// it never needs cross-origin access.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router builds the HTTP handler serving GET /devices and GET /events.
func (s *Sink) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)

	r.Get("/devices", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.List()); err != nil {
			s.log.WithError(err).Warn("ipc: failed to encode device list")
		}
	})

	r.Get("/devices/{uid}", func(w http.ResponseWriter, r *http.Request) {
		uid := chi.URLParam(r, "uid")
		s.mu.RLock()
		v, ok := s.devices[uid]
		s.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	})

	r.Post("/devices/{uid}/enroll", func(w http.ResponseWriter, r *http.Request) {
		if s.controller == nil {
			http.Error(w, "enroll not available", http.StatusServiceUnavailable)
			return
		}

		var body struct {
			Policy string `json:"policy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		policy, ok := bolt.ParsePolicy(body.Policy)
		if !ok {
			http.Error(w, "invalid policy", http.StatusBadRequest)
			return
		}

		uid := chi.URLParam(r, "uid")
		if err := s.controller.Enroll(r.Context(), uid, policy); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/devices/{uid}", func(w http.ResponseWriter, r *http.Request) {
		if s.controller == nil {
			http.Error(w, "forget not available", http.StatusServiceUnavailable)
			return
		}

		uid := chi.URLParam(r, "uid")
		if err := s.controller.Forget(r.Context(), uid); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.WithError(err).Warn("ipc: websocket upgrade failed")
			return
		}
		defer conn.Close()

		id, ch := s.subscribe()
		defer s.unsubscribe(id)
		s.log.WithField("request_id", requestID(r.Context())).Debug("ipc: event stream subscriber connected")

		for ev := range ch {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	})

	return r
}

var _ bolt.Sink = (*Sink)(nil)
