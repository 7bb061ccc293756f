package httpapi

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vincentgrobler/crewform-sub000/pkg/models"
)

func TestSSEHub_publishReachesSubscribers(t *testing.T) {
	t.Parallel()
	h := NewSSEHub()
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.PublishJSON(map[string]any{"type": "task_update", "task_id": "t1"})

	for name, ch := range map[string]chan []byte{"a": a, "b": b} {
		select {
		case msg := <-ch:
			if !strings.Contains(string(msg), `"task_id":"t1"`) {
				t.Errorf("%s got %s", name, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s never received the event", name)
		}
	}
}

func TestSSEHub_slowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()
	h := NewSSEHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	// Nobody is reading; publishes beyond the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < models.DefaultSSEChannelBuffer*2; i++ {
			h.PublishJSON(map[string]any{"n": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("PublishJSON blocked on a slow subscriber")
	}
	if got := len(ch); got != models.DefaultSSEChannelBuffer {
		t.Errorf("buffered = %d, want %d", got, models.DefaultSSEChannelBuffer)
	}
}

func TestSSEHub_unsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	h := NewSSEHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	// Second unsubscribe is a no-op, not a double close.
	h.Unsubscribe(ch)
	h.PublishJSON(map[string]any{"type": "x"})
}

func TestSSEHandler_streamsEvents(t *testing.T) {
	t.Parallel()
	h := NewSSEHub()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if l := scanner.Text(); l != "" {
				lines <- l
			}
		}
	}()

	readLine := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream line")
			return ""
		}
	}

	if l := readLine(); !strings.Contains(l, `"type":"connected"`) {
		t.Fatalf("first line = %q", l)
	}
	h.PublishJSON(map[string]any{"type": "run_update", "run_id": "r1"})
	if l := readLine(); !strings.Contains(l, `"run_id":"r1"`) {
		t.Errorf("event line = %q", l)
	}
}
