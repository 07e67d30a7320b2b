// Package sse implements a Server-Sent Events broker that streams library
// events to browsers.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/scriptorium/internal/project"
)

// TreeUpdated is sent, at most once per throttle window and project, after
// the tree of that project changed.
const TreeUpdated = "tree.updated"

const (
	clientBuffer = 64
	historySize  = 256
)

// Event represents an SSE event to broadcast to every client.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type libraryEventReq struct {
	root string
	ev   project.Event
}

// frame is one encoded event. An empty root reaches every client.
type frame struct {
	id   uint64
	root string
	raw  []byte
}

type client struct {
	ch   chan []byte
	root string
}

func (c *client) wants(f frame) bool {
	return c.root == "" || f.root == "" || c.root == f.root
}

type subscribeReq struct {
	c      *client
	lastID uint64
}

// Broker manages SSE client connections and broadcasts events.
//
// A single internal event loop owns all mutable state: clients, the replay
// history and the per-project tree throttle. Public methods talk to the
// loop through channels.
type Broker struct {
	treeMin   time.Duration
	keepAlive time.Duration

	subscribeCh    chan subscribeReq
	unsubscribeCh  chan chan []byte
	publishCh      chan Event
	libraryEventCh chan libraryEventReq
	countReqCh     chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given tree.updated throttle
// interval.
func NewBroker(treeThrottle time.Duration) *Broker {
	if treeThrottle <= 0 {
		treeThrottle = 2 * time.Second
	}

	b := &Broker{
		treeMin:        treeThrottle,
		keepAlive:      30 * time.Second,
		subscribeCh:    make(chan subscribeReq),
		unsubscribeCh:  make(chan chan []byte),
		publishCh:      make(chan Event, 256),
		libraryEventCh: make(chan libraryEventReq, 256),
		countReqCh:     make(chan chan int),
		stopCh:         make(chan struct{}),
		stopped:        make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*client)
	var (
		nextID  uint64
		history []frame
	)

	send := func(c *client, f frame) {
		if !c.wants(f) {
			return
		}
		select {
		case c.ch <- f.raw:
		default:
			// Client buffer full; skip to avoid blocking the loop.
		}
	}

	emit := func(root, typ string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		nextID++
		f := frame{
			id:   nextID,
			root: root,
			raw:  []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", nextID, typ, payload)),
		}
		history = append(history, f)
		if len(history) > historySize {
			history = history[len(history)-historySize:]
		}
		for _, c := range clients {
			send(c, f)
		}
	}

	// Tree throttle: the first change of a window is announced at once,
	// later ones once more when the window closes.
	lastTree := make(map[string]time.Time)
	pendingTree := make(map[string]struct{})
	var treeTimer *time.Timer
	var treeC <-chan time.Time

	armTree := func(d time.Duration) {
		if treeTimer == nil {
			treeTimer = time.NewTimer(d)
			treeC = treeTimer.C
			return
		}
		treeTimer.Reset(d)
	}

	flushTree := func(now time.Time) {
		var wait time.Duration
		for root := range pendingTree {
			left := b.treeMin - now.Sub(lastTree[root])
			if left > 0 {
				if wait == 0 || left < wait {
					wait = left
				}
				continue
			}
			delete(pendingTree, root)
			lastTree[root] = now
			emit(root, TreeUpdated, map[string]string{"root": root})
		}
		if wait > 0 {
			armTree(wait)
		}
	}

	for {
		select {
		case <-b.stopCh:
			if treeTimer != nil {
				treeTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.c.ch] = req.c
			if req.lastID > 0 {
				for _, f := range history {
					if f.id > req.lastID {
						send(req.c, f)
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			emit("", event.Type, event.Data)

		case req := <-b.libraryEventCh:
			emit(req.root, req.ev.Name(), eventData(req.root, req.ev))
			if !changesTree(req.ev) {
				continue
			}
			now := time.Now()
			if now.Sub(lastTree[req.root]) >= b.treeMin {
				lastTree[req.root] = now
				emit(req.root, TreeUpdated, map[string]string{"root": req.root})
			} else if _, ok := pendingTree[req.root]; !ok {
				pendingTree[req.root] = struct{}{}
				armTree(b.treeMin - now.Sub(lastTree[req.root]))
			}

		case now := <-treeC:
			flushTree(now)

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. A non-empty root
// limits the client to events of that project plus global events. Events
// newer than lastID still in the replay history are delivered first.
func (b *Broker) Subscribe(root string, lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{c: &client{ch: ch, root: root}, lastID: lastID}:
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

// PublishLibraryEvent publishes a library event and, for events that change
// the tree, a throttled tree.updated event. Its signature matches
// library.Handler.
func (b *Broker) PublishLibraryEvent(root string, ev project.Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.libraryEventCh <- libraryEventReq{root: root, ev: ev}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// root query parameter filters events by project; Last-Event-ID resumes a
// dropped stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("root"), lastID)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
