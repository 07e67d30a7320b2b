package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/scriptorium/internal/library"
	"github.com/starford/scriptorium/internal/project"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("", 0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "item.created", Data: map[string]string{"path": "a.md"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: item.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.md"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublishLibraryEvent_TreeThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	// First tree change should trigger tree.updated.
	b.PublishLibraryEvent("/lib", project.DocumentAdded{Document: project.Document{Path: "/lib/a.md"}})
	// Second change immediately should NOT trigger another tree.updated.
	b.PublishLibraryEvent("/lib", project.ItemRemoved{Path: "/lib/b.md"})

	time.Sleep(50 * time.Millisecond)
	treeCount := 0
	itemCount := 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "event: "+TreeUpdated) {
			treeCount++
		} else {
			itemCount++
		}
	}

	if itemCount != 2 {
		t.Errorf("item events = %d, want 2", itemCount)
	}
	if treeCount != 1 {
		t.Errorf("tree events = %d, want 1 (throttled)", treeCount)
	}
}

func TestPublishLibraryEvent_Payload(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	b.PublishLibraryEvent("/lib", project.NotifyErr{Message: "Could not rename"})
	b.PublishLibraryEvent("/lib", library.SelectionChanged{Path: "/lib/x.md"})

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2 (no tree.updated for non-tree events)", len(msgs))
	}
	if !strings.Contains(msgs[0], "event: notify.err") || !strings.Contains(msgs[0], `"message":"Could not rename"`) {
		t.Errorf("notify payload = %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "event: selection.changed") || !strings.Contains(msgs[1], `"path":"/lib/x.md"`) ||
		!strings.Contains(msgs[1], `"root":"/lib"`) {
		t.Errorf("selection payload = %q", msgs[1])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishLibraryEvent("/lib", project.MetadataChanged{Path: "/lib/x.md"})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: metadata.changed") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("", 0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "item.created", Data: map[string]string{"path": "x.md"}})
	b.PublishLibraryEvent("/lib", project.ItemRemoved{Path: "/lib/x.md"})
}

func TestTreeUpdatedTrailingEdge(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	b.PublishLibraryEvent("/lib", project.DocumentAdded{Document: project.Document{Path: "/lib/a.md"}})
	b.PublishLibraryEvent("/lib", project.DocumentAdded{Document: project.Document{Path: "/lib/b.md"}})
	b.PublishLibraryEvent("/lib", project.DocumentAdded{Document: project.Document{Path: "/lib/c.md"}})

	time.Sleep(300 * time.Millisecond)
	treeCount := 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "event: "+TreeUpdated) {
			treeCount++
		}
	}
	if treeCount != 2 {
		t.Errorf("tree events = %d, want 2 (leading and trailing)", treeCount)
	}
}

func TestTreeThrottleIsPerProject(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("", 0)
	defer b.Unsubscribe(ch)

	b.PublishLibraryEvent("/one", project.ItemRemoved{Path: "/one/a.md"})
	b.PublishLibraryEvent("/two", project.ItemRemoved{Path: "/two/a.md"})

	time.Sleep(50 * time.Millisecond)
	var roots []string
	for _, s := range drain(ch) {
		if strings.Contains(s, "event: "+TreeUpdated) {
			roots = append(roots, s)
		}
	}
	if len(roots) != 2 || !strings.Contains(roots[0], `"root":"/one"`) || !strings.Contains(roots[1], `"root":"/two"`) {
		t.Errorf("tree events = %q", roots)
	}
}

func TestSubscribeRootFilter(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("/one", 0)
	defer b.Unsubscribe(ch)

	b.PublishLibraryEvent("/two", project.Selected{Path: "/two/a.md"})
	b.PublishLibraryEvent("/one", project.Selected{Path: "/one/a.md"})
	b.Publish(Event{Type: "server.notice", Data: map[string]string{}})

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("messages = %q, want 2", msgs)
	}
	joined := strings.Join(msgs, "")
	if !strings.Contains(joined, "/one/a.md") || !strings.Contains(joined, "event: server.notice") {
		t.Errorf("messages = %q", msgs)
	}
}

func TestReplayAfterLastEventID(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	b.PublishLibraryEvent("/lib", project.Selected{Path: "/lib/1.md"})
	b.PublishLibraryEvent("/lib", project.Selected{Path: "/lib/2.md"})
	b.PublishLibraryEvent("/lib", project.Selected{Path: "/lib/3.md"})
	time.Sleep(50 * time.Millisecond)

	ch := b.Subscribe("", 1)
	defer b.Unsubscribe(ch)
	time.Sleep(50 * time.Millisecond)

	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("replayed = %q, want 2", msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 2\n") || !strings.Contains(msgs[1], "/lib/3.md") {
		t.Errorf("replayed = %q", msgs)
	}

	fresh := b.Subscribe("", 0)
	defer b.Unsubscribe(fresh)
	time.Sleep(50 * time.Millisecond)
	if got := drain(fresh); len(got) != 0 {
		t.Errorf("fresh subscriber got history %q", got)
	}
}
