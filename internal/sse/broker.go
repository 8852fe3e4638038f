// Package sse implements a Server-Sent Events broker that pushes note and
// index changes to connected clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/ansuz/internal/changeset"
	"github.com/starford/ansuz/internal/fingerprint"
	"github.com/starford/ansuz/internal/models"
)

// Event types.
const (
	TypeNoteCreated  = "note.created"
	TypeNoteUpdated  = "note.updated"
	TypeNoteDeleted  = "note.deleted"
	TypeIndexSynced  = "index.synced"
	TypeIndexChanged = "index.changed"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type noteEventReq struct {
	kind string
	id   models.Identity
}

// SyncSummary is the payload of an index.synced event.
type SyncSummary struct {
	Generation uint64         `json:"generation"`
	StartedAt  time.Time      `json:"started_at"`
	Counts     map[string]int `json:"counts"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + change throttle timestamp). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	changeMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	noteEventCh   chan noteEventReq
	syncCh        chan changeset.ChangeSet
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. index.changed events are emitted at
// most once per changeThrottle.
func NewBroker(changeThrottle time.Duration) *Broker {
	if changeThrottle <= 0 {
		changeThrottle = 2 * time.Second
	}

	b := &Broker{
		changeMin:     changeThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		noteEventCh:   make(chan noteEventReq, 256),
		syncCh:        make(chan changeset.ChangeSet, 16),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastChange time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	noteEvent := func(kind string, id models.Identity) bool {
		data := map[string]string{"identity": id.String()}
		switch kind {
		case "created":
			broadcast(Event{Type: TypeNoteCreated, Data: data})
		case "updated":
			broadcast(Event{Type: TypeNoteUpdated, Data: data})
		case "deleted":
			broadcast(Event{Type: TypeNoteDeleted, Data: data})
		default:
			return false
		}
		return true
	}

	changed := func() {
		now := time.Now()
		if now.Sub(lastChange) >= b.changeMin {
			lastChange = now
			broadcast(Event{Type: TypeIndexChanged, Data: map[string]string{}})
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.noteEventCh:
			if noteEvent(req.kind, req.id) {
				changed()
			}

		case cs := <-b.syncCh:
			applied := false
			for _, c := range cs.Pending() {
				if noteEvent(changeKind(c.Status), c.Identity) {
					applied = true
				}
			}
			counts := make(map[string]int)
			for st, n := range cs.Counts() {
				counts[st.String()] = n
			}
			broadcast(Event{Type: TypeIndexSynced, Data: SyncSummary{
				Generation: cs.Generation,
				StartedAt:  cs.StartedAt,
				Counts:     counts,
			}})
			if applied {
				changed()
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

func changeKind(s fingerprint.Status) string {
	switch s {
	case fingerprint.LeftOnly:
		return "created"
	case fingerprint.RightOnly:
		return "deleted"
	case fingerprint.LeftNewer, fingerprint.RightNewer, fingerprint.Conflict:
		return "updated"
	}
	return ""
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNoteEvent publishes a note change ("created", "updated" or
// "deleted") and a throttled index.changed event.
func (b *Broker) PublishNoteEvent(kind string, id models.Identity) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteEventCh <- noteEventReq{kind: kind, id: id}:
	case <-b.stopped:
	}
}

// ObserveSync publishes the changes applied by a sync pass followed by an
// index.synced summary. Its signature matches index.Observer.
func (b *Broker) ObserveSync(cs changeset.ChangeSet) {
	if b.closed.Load() {
		return
	}
	select {
	case b.syncCh <- cs:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
