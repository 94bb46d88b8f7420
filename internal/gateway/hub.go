package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/digitalbodhi/sigmsg/internal/event"
	"github.com/digitalbodhi/sigmsg/internal/metrics"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pingPeriod       = 30 * time.Second
	pongWait         = pingPeriod + 10*time.Second
)

// EventMessage is the JSON form of an event pushed to /events subscribers.
type EventMessage struct {
	Kind        string          `json:"kind"`
	Subkind     string          `json:"subkind"`
	ID          int64           `json:"id,omitempty"`
	Sender      string          `json:"sender,omitempty"`
	SenderName  string          `json:"sender_name,omitempty"`
	Recipient   string          `json:"recipient,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	Body        *string         `json:"body,omitempty"`
	ReplyTo     *int64          `json:"reply_to,omitempty"`
	Receipt     string          `json:"receipt,omitempty"`
	Attachments bool            `json:"attachments,omitempty"`
	Raw         json.RawMessage `json:"raw"`
}

// NewEventMessage flattens ev for subscribers.
func NewEventMessage(ev *event.Event) EventMessage {
	msg := EventMessage{
		Kind:        ev.Kind().String(),
		Subkind:     ev.Subkind().String(),
		ID:          ev.ID(),
		Sender:      ev.Sender(),
		SenderName:  ev.SenderName(),
		Recipient:   ev.Recipient(),
		Timestamp:   ev.Timestamp(),
		Attachments: ev.HasAttachments(),
		Raw:         ev.Raw(),
	}
	if body, ok := ev.Body(); ok {
		msg.Body = &body
	}
	if ts, ok := ev.ReplyTo(); ok {
		msg.ReplyTo = &ts
	}
	if ev.Subkind() == event.SubkindReceipt {
		msg.Receipt = ev.ReceiptKind().String()
	}
	return msg
}

type subscriber struct {
	id   string
	send chan []byte
}

// Hub fans events out to websocket subscribers. Slow subscribers lose
// events rather than holding up the dispatch queue.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]*subscriber
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	log      *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewHub(m *metrics.Metrics, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs: make(map[string]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		metrics: m,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Close disconnects every subscriber. Hijacked connections are not covered
// by http.Server.Shutdown, so the server calls this on its way down.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish matches the dispatch observer signature.
func (h *Hub) Publish(_ context.Context, ev *event.Event) {
	data, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		h.log.Warn("encode event for subscribers", "error", err)
		return
	}
	h.Broadcast(data)
}

// Broadcast queues data for every subscriber without blocking.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.send <- data:
		default:
			h.log.Debug("subscriber too slow, event dropped", "subscriber", sub.id)
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	h.metrics.Subscribers(1)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()
	if ok {
		h.metrics.Subscribers(-1)
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sub := &subscriber{id: uuid.NewString(), send: make(chan []byte, subscriberBuffer)}
	h.add(sub)
	h.log.Debug("subscriber connected", "subscriber", sub.id, "remote", r.RemoteAddr)
	defer func() {
		h.remove(sub)
		conn.Close()
		h.log.Debug("subscriber disconnected", "subscriber", sub.id)
	}()

	// Reads only serve to notice the peer closing and to handle pongs.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-h.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		}
	}
}
