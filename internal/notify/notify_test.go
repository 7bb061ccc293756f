package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestDispatch_delivers(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var got []Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))
	defer srv.Close()

	o := NewOutbox(srv.URL, slog.Default())
	o.Dispatch("task.completed", map[string]any{"task_id": "t1"})
	o.Dispatch("task.failed", map[string]any{"task_id": "t2"})
	o.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered = %d, want 2", len(got))
	}
	if got[0].Type != "task.completed" || got[0].Payload["task_id"] != "t1" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Type != "task.failed" {
		t.Errorf("got[1] = %+v", got[1])
	}
	if got[0].SentAt.IsZero() {
		t.Error("sent_at not stamped")
	}
}

func TestDispatch_emptyURLIsNoop(t *testing.T) {
	t.Parallel()
	o := NewOutbox("", slog.Default())
	for i := 0; i < queueSize*2; i++ {
		o.Dispatch("task.completed", nil)
	}
	o.Close()
}

func TestClose_drainsQueue(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	count := 0
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		mu.Lock()
		count++
		mu.Unlock()
	}))
	defer srv.Close()

	o := NewOutbox(srv.URL, slog.Default())
	for i := 0; i < 5; i++ {
		o.Dispatch("team_run.completed", map[string]any{"n": i})
	}
	close(release)
	done := make(chan struct{})
	go func() {
		o.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("delivered = %d, want 5", count)
	}
}

func TestDispatch_queueFullDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()

	o := NewOutbox(srv.URL, slog.Default())
	done := make(chan struct{})
	go func() {
		// Worker is stuck on the first event; the rest overflow the queue.
		for i := 0; i < queueSize+10; i++ {
			o.Dispatch("task.completed", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
	close(block)
	o.Close()
}

func TestStatusError(t *testing.T) {
	t.Parallel()
	e := &statusError{code: 503}
	if e.Error() != "unexpected webhook status 503" {
		t.Errorf("got %q", e.Error())
	}
}
