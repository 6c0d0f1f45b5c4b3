package metrics

import (
	"sync"

	"github.com/fink5984/telefeed/internal/bus"
)

// Metric names.
const (
	MessagesTotal   = "telefeed_messages_total"
	DeliveriesTotal = "telefeed_deliveries_total"
	DeliveryLatency = "telefeed_delivery_latency_seconds"
	ReloadsTotal    = "telefeed_route_reloads_total"
	Workers         = "telefeed_workers"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var workerStates = []string{"stopped", "connecting", "authorizing", "running", "failed"}

// Recorder turns routing events into metrics.
type Recorder struct {
	c *Collector

	mu     sync.Mutex
	states map[string]string // account -> last worker state
}

// NewRecorder creates a recorder writing to c.
func NewRecorder(c *Collector) *Recorder {
	return &Recorder{c: c, states: make(map[string]string)}
}

// Attach subscribes the recorder to every event on eb.
func (r *Recorder) Attach(eb *bus.EventBus) {
	eb.On("*", r.Record)
}

// Record updates the metrics for one event.
func (r *Recorder) Record(e bus.Event) {
	switch e.Type {
	case bus.EventMessageReceived:
		r.c.Counter(MessagesTotal, "Inbound messages received", Labels("account", e.Account)).Inc()

	case bus.EventDelivery:
		status, _ := e.Payload["status"].(string)
		mode, _ := e.Payload["mode"].(string)
		r.c.Counter(DeliveriesTotal, "Delivery outcomes by account, mode and status",
			Labels("account", e.Account, "mode", mode, "status", status)).Inc()
		if secs, ok := e.Payload["seconds"].(float64); ok && status == "sent" {
			r.c.Histogram(DeliveryLatency, "Transport send latency in seconds",
				Labels("account", e.Account), latencyBuckets).Observe(secs)
		}

	case bus.EventRoutesReloaded:
		r.c.Counter(ReloadsTotal, "Rule file reloads by result", Labels("account", e.Account, "result", "ok")).Inc()

	case bus.EventRoutesFailed:
		r.c.Counter(ReloadsTotal, "Rule file reloads by result", Labels("account", e.Account, "result", "error")).Inc()

	case bus.EventWorkerState:
		to, _ := e.Payload["to"].(string)
		r.setState(e.Account, to)
	}
}

func (r *Recorder) setState(account, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[account] = state

	counts := make(map[string]int64, len(workerStates))
	for _, s := range r.states {
		counts[s]++
	}
	for _, s := range workerStates {
		r.c.Gauge(Workers, "Account workers by lifecycle state", Labels("state", s)).Set(counts[s])
	}
}
