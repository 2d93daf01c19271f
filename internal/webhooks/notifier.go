package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"autoassign/internal/metrics"
)

// Notifier posts signed event payloads to a single configured URL.
// Deliveries are queued and sent by one background goroutine with
// exponential backoff between attempts.
type Notifier struct {
	URL         string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	Backoff     func(attempts int) time.Duration
	// DrainTimeout bounds how long Close keeps delivering queued events.
	DrainTimeout time.Duration

	queue chan delivery
	stop  chan struct{}
	// abort cancels in-flight posts and backoff waits once draining runs out of time.
	abort     context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

type delivery struct {
	EventType string
	Body      []byte
}

func NewNotifier(url, secret string, maxAttempts int) *Notifier {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	abort, cancel := context.WithCancel(context.Background())
	return &Notifier{
		URL:          url,
		Secret:       secret,
		HTTP:         &http.Client{Timeout: 5 * time.Second},
		MaxAttempts:  maxAttempts,
		Backoff:      nextBackoff,
		DrainTimeout: 10 * time.Second,
		queue:        make(chan delivery, 64),
		stop:         make(chan struct{}),
		abort:        abort,
		cancel:       cancel,
	}
}

func (n *Notifier) Start() {
	n.startOnce.Do(func() {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			for {
				select {
				case <-n.stop:
					n.drain()
					return
				case d := <-n.queue:
					n.deliver(d)
				}
			}
		}()
	})
}

// drain delivers whatever is still queued, until the queue is empty or Close
// gives up waiting.
func (n *Notifier) drain() {
	for n.abort.Err() == nil {
		select {
		case <-n.abort.Done():
			return
		case d := <-n.queue:
			n.deliver(d)
		default:
			return
		}
	}
}

// Close stops accepting work and delivers queued events, waiting at most
// DrainTimeout. Events still queued after that are dropped.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		// a never-started notifier still drains what was emitted
		n.Start()
		close(n.stop)
		done := make(chan struct{})
		go func() {
			n.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(n.DrainTimeout):
			n.cancel()
			<-done
			for len(n.queue) > 0 {
				d := <-n.queue
				metrics.WebhookDeliveries.WithLabelValues(d.EventType, "dropped").Inc()
				log.Printf("webhook event=%s dropped: shutdown", d.EventType)
			}
		}
		n.cancel()
	})
}

// Emit enqueues an event without blocking the caller.
func (n *Notifier) Emit(eventType string, data any) {
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("webhook event=%s marshal err=%v", eventType, err)
		return
	}
	select {
	case n.queue <- delivery{EventType: eventType, Body: body}:
	default:
		metrics.WebhookDeliveries.WithLabelValues(eventType, "dropped").Inc()
		log.Printf("webhook event=%s dropped: queue full", eventType)
	}
}

// deliver retries until a 2xx response or MaxAttempts is reached.
func (n *Notifier) deliver(d delivery) bool {
	for attempt := 0; attempt < n.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-n.abort.Done():
				metrics.WebhookDeliveries.WithLabelValues(d.EventType, "dropped").Inc()
				return false
			case <-time.After(n.Backoff(attempt - 1)):
			}
		}
		code, err := n.post(d)
		if err == nil && code >= 200 && code < 300 {
			metrics.WebhookDeliveries.WithLabelValues(d.EventType, "delivered").Inc()
			return true
		}
		log.Printf("webhook event=%s attempt=%d code=%d err=%v", d.EventType, attempt+1, code, err)
	}
	metrics.WebhookDeliveries.WithLabelValues(d.EventType, "failed").Inc()
	return false
}

func (n *Notifier) post(d delivery) (int, error) {
	ctx, cancel := context.WithTimeout(n.abort, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(d.Body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", d.EventType)
	if n.Secret != "" {
		now := time.Now()
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
		req.Header.Set(HeaderSignature, SignHMAC(n.Secret, now, d.Body))
	}
	resp, err := n.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
