// Package notify delivers outbound webhook notifications for task and
// team-run lifecycle events. Delivery is best-effort through a buffered
// outbox with a bounded retry policy; a failed or dropped notification is
// logged and never surfaces to the executor that fired it.
package notify

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	queueSize    = 128
	attemptCount = 2
	retryDelay   = 5 * time.Second
)

// Event is one outbound notification.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// Outbox queues events and delivers them to a single webhook URL from a
// background worker.
type Outbox struct {
	url    string
	client *resty.Client
	log    *slog.Logger

	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewOutbox starts the delivery worker. An empty URL yields a no-op outbox.
func NewOutbox(url string, log *slog.Logger) *Outbox {
	o := &Outbox{
		url:    url,
		client: resty.New().SetTimeout(10 * time.Second),
		log:    log,
		ch:     make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go o.worker()
	return o
}

// Dispatch enqueues an event. It never blocks and never returns an error;
// when the queue is full the event is dropped with a log line.
func (o *Outbox) Dispatch(eventType string, payload map[string]any) {
	if o.url == "" {
		return
	}
	ev := Event{Type: eventType, Payload: payload, SentAt: time.Now().UTC()}
	select {
	case o.ch <- ev:
	default:
		o.log.Warn("notify queue full, dropping event", "event", eventType)
	}
}

// Close stops the worker after draining queued events.
func (o *Outbox) Close() {
	o.once.Do(func() {
		close(o.ch)
		<-o.done
	})
}

func (o *Outbox) worker() {
	defer close(o.done)
	for ev := range o.ch {
		o.deliver(ev)
	}
}

func (o *Outbox) deliver(ev Event) {
	var lastErr error
	for attempt := 1; attempt <= attemptCount; attempt++ {
		resp, err := o.client.R().
			SetContext(context.Background()).
			SetHeader("Content-Type", "application/json").
			SetBody(ev).
			Post(o.url)
		if err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			return
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = &statusError{code: resp.StatusCode()}
		}
		if attempt < attemptCount {
			time.Sleep(retryDelay)
		}
	}
	o.log.Warn("webhook delivery failed", "event", ev.Type, "error", lastErr)
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "unexpected webhook status " + strconv.Itoa(e.code)
}
