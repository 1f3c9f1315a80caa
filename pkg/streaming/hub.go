// Package streaming pushes gateway events to WebSocket subscribers.
//
// A subscriber narrows its feed with a Filter, given as query parameters on
// connect (?type=fetch&provider=brave&component=analyzer&outcome=failed, each
// repeatable) or later as a {"type":"filter","filter":{...}} message. A new
// filter replaces the previous one.
package streaming

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/edgebet/intelgate/pkg/models"
	"github.com/gorilla/websocket"
)

// EventType tags a message on the feed.
type EventType string

const (
	// EventTypeFetch carries one models.Event from the gateway.
	EventTypeFetch EventType = "fetch"
	// EventTypeStatus carries a models.GatewayStatus snapshot.
	EventTypeStatus EventType = "status"
	// EventTypeHeartbeat is sent periodically with the subscriber count.
	EventTypeHeartbeat EventType = "heartbeat"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingEvery    = 54 * time.Second
	maxFilterMsg = 4096
)

// Event is one message on the feed.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Filter selects the messages a subscriber receives. Empty fields match
// everything. Providers, Components and Outcomes only apply to fetch events.
type Filter struct {
	Types      []EventType      `json:"types,omitempty"`
	Providers  []string         `json:"providers,omitempty"`
	Components []string         `json:"components,omitempty"`
	Outcomes   []models.Outcome `json:"outcomes,omitempty"`
}

// FilterFromQuery reads a Filter from URL query parameters.
func FilterFromQuery(q url.Values) Filter {
	f := Filter{
		Providers:  q["provider"],
		Components: q["component"],
	}
	for _, t := range q["type"] {
		f.Types = append(f.Types, EventType(t))
	}
	for _, o := range q["outcome"] {
		f.Outcomes = append(f.Outcomes, models.Outcome(o))
	}
	return f
}

// Query encodes the filter as URL query parameters.
func (f Filter) Query() url.Values {
	q := url.Values{}
	for _, t := range f.Types {
		q.Add("type", string(t))
	}
	for _, p := range f.Providers {
		q.Add("provider", p)
	}
	for _, c := range f.Components {
		q.Add("component", c)
	}
	for _, o := range f.Outcomes {
		q.Add("outcome", string(o))
	}
	return q
}

func matches[T comparable](set []T, v T) bool {
	return len(set) == 0 || slices.Contains(set, v)
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	if !matches(f.Types, ev.Type) {
		return false
	}
	e, ok := ev.Data.(models.Event)
	if !ok {
		return true
	}
	return matches(f.Providers, e.Provider) &&
		matches(f.Components, e.Component) &&
		matches(f.Outcomes, e.Outcome)
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter Filter
}

func (s *subscriber) wants(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter.Match(ev)
}

func (s *subscriber) setFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// Hub fans gateway events out to subscribers. It implements the gateway's
// event sink through Observe and serves the feed through ServeHTTP.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	stopped bool

	queue     chan Event
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// NewHub creates a hub. Call Run to start delivering.
func NewHub() *Hub {
	return &Hub{
		subs:      make(map[*subscriber]struct{}),
		queue:     make(chan Event, sendBuffer),
		heartbeat: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run delivers queued events and heartbeats until ctx is done, then
// disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.stopped = true
			for s := range h.subs {
				h.drop(s)
			}
			h.mu.Unlock()
			return
		case ev := <-h.queue:
			h.deliver(ev)
		case now := <-ticker.C:
			h.deliver(Event{
				Type:      EventTypeHeartbeat,
				Timestamp: now,
				Data:      map[string]int{"clients": h.ClientCount()},
			})
		}
	}
}

// drop removes a subscriber and closes its send queue. Caller holds h.mu.
func (h *Hub) drop(s *subscriber) {
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
}

func (h *Hub) deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("streaming: marshal %s event: %v", ev.Type, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.wants(ev) {
			continue
		}
		select {
		case s.send <- data:
		default:
			log.Printf("streaming: subscriber too slow, disconnecting")
			h.drop(s)
		}
	}
}

// Broadcast queues ev for delivery. It never blocks; events are dropped when
// the queue is full.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case h.queue <- ev:
	default:
		log.Printf("streaming: queue full, dropping %s event", ev.Type)
	}
}

// Observe queues a gateway event.
func (h *Hub) Observe(e models.Event) {
	h.Broadcast(Event{Type: EventTypeFetch, Timestamp: e.Time, Data: e})
}

// BroadcastStatus queues a status snapshot.
func (h *Hub) BroadcastStatus(st models.GatewayStatus) {
	h.Broadcast(Event{Type: EventTypeStatus, Data: st})
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub stops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := FilterFromQuery(r.URL.Query())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("streaming: upgrade: %v", err)
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer), filter: filter}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	log.Printf("streaming: subscriber connected (%d total)", n)

	go h.write(s)
	h.read(s)
}

// read applies filter messages until the connection fails.
func (h *Hub) read(s *subscriber) {
	defer func() {
		h.mu.Lock()
		h.drop(s)
		h.mu.Unlock()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFilterMsg)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("streaming: read: %v", err)
			}
			return
		}
		var msg struct {
			Type   string `json:"type"`
			Filter Filter `json:"filter"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "filter" {
			s.setFilter(msg.Filter)
		}
	}
}

// write drains the send queue and keeps the connection alive with pings.
func (h *Hub) write(s *subscriber) {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
