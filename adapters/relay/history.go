package relay

import (
	"sync"
	"time"

	"github.com/layer-3/walletlink/core"
)

const (
	resolvedRetention   = 10 * time.Minute
	unresolvedRetention = core.TTLActive
)

type record struct {
	topic    string
	request  core.RPCRequest
	sentAt   time.Time
	resolved bool
}

// history remembers our outbound requests so responses can be joined with
// them and our own requests echoed back by the relay can be skipped
type history struct {
	mu      sync.Mutex
	records map[int64]*record
	now     func() time.Time
}

func newHistory(now func() time.Time) *history {
	return &history{records: make(map[int64]*record), now: now}
}

func (h *history) add(topic string, req core.RPCRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune()
	h.records[req.ID] = &record{topic: topic, request: req, sentAt: h.now()}
}

func (h *history) isOutbound(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.records[id]
	return ok
}

// resolve returns the pending request for id once; later calls report false
func (h *history) resolve(id int64) (record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok || rec.resolved {
		return record{}, false
	}
	rec.resolved = true
	rec.sentAt = h.now()
	return *rec, true
}

// prune must be called with mu held
func (h *history) prune() {
	now := h.now()
	for id, rec := range h.records {
		age := now.Sub(rec.sentAt)
		if (rec.resolved && age > resolvedRetention) || age > unresolvedRetention {
			delete(h.records, id)
		}
	}
}
