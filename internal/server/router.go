// Package server coordinates message broadcast for the chat service via the
// Router type: every broadcast is logged and then fanned out to a snapshot
// of the Registry.
package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/linechat/internal/chatlog"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// Router delivers broadcasts to every registered participant. The log append
// and the fan-out run under one mutex, so all recipients and the log observe
// broadcasts in the same total order.
type Router struct {
	mu       sync.Mutex
	registry *Registry
	sink     chatlog.Sink
	log      *slog.Logger

	// sink failures are reported at most once per interval
	sinkErrors rate.Sometimes
}

// NewRouter creates a Router that fans out to registry and persists to sink.
// A nil sink disables persistence.
func NewRouter(registry *Registry, sink chatlog.Sink, log *slog.Logger) *Router {
	return &Router{
		registry:   registry,
		sink:       sink,
		log:        log,
		sinkErrors: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Broadcast stamps msg, appends it to the log and sends it to every registered
// participant, skipping the participant msg originated from when
// excludeOrigin is set. Delivery never blocks on a peer's socket: SendLine
// only enqueues.
func (r *Router) Broadcast(msg Message, excludeOrigin bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg.Timestamp = time.Now()
	r.persist(msg)

	recipients := lo.Filter(r.registry.Snapshot(), func(p Participant, _ int) bool {
		return !excludeOrigin || p.ID() != msg.Origin
	})

	r.log.Debug("Broadcasting message",
		"id", msg.ID, "origin", msg.Origin, "recipients", len(recipients))

	for _, p := range recipients {
		p.SendLine(msg.Text)
	}
}

// persist writes msg to the sink. Failures go to the operational logger,
// never back into the sink.
func (r *Router) persist(msg Message) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Append(chatlog.NewEntry(msg.Timestamp, msg.Text)); err != nil {
		r.sinkErrors.Do(func() {
			r.log.Error("Error writing to chat log", "error", err, "id", msg.ID)
		})
	}
}
