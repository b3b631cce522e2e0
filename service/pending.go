package service

import "sync"

type pendingEntry[V any] struct {
	topic string
	value V
}

// pendingTable holds handshake state awaiting a correlated response, keyed by request id
type pendingTable[V any] struct {
	mu      sync.Mutex
	entries map[int64]pendingEntry[V]
}

func newPendingTable[V any]() *pendingTable[V] {
	return &pendingTable[V]{entries: make(map[int64]pendingEntry[V])}
}

func (p *pendingTable[V]) put(id int64, topic string, value V) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[id] = pendingEntry[V]{topic: topic, value: value}
}

func (p *pendingTable[V]) get(id int64) (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	return e.value, ok
}

// take removes and returns the entry for id
func (p *pendingTable[V]) take(id int64) (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	return e.value, ok
}

// dropTopic removes and returns every entry tied to topic
func (p *pendingTable[V]) dropTopic(topic string) []V {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []V
	for id, e := range p.entries {
		if e.topic == topic {
			out = append(out, e.value)
			delete(p.entries, id)
		}
	}
	return out
}

func (p *pendingTable[V]) values() []V {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]V, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.value)
	}
	return out
}
