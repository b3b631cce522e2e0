package service

import "sync"

// TopicLocks serializes mutations per topic
type TopicLocks struct {
	mu    sync.Mutex
	locks map[string]*topicLock
}

type topicLock struct {
	mu   sync.Mutex
	refs int
}

// NewTopicLocks creates an empty lock table
func NewTopicLocks() *TopicLocks {
	return &TopicLocks{locks: make(map[string]*topicLock)}
}

// Lock blocks until topic is free and returns its unlock function
func (l *TopicLocks) Lock(topic string) func() {
	l.mu.Lock()
	tl, ok := l.locks[topic]
	if !ok {
		tl = &topicLock{}
		l.locks[topic] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, topic)
		}
		l.mu.Unlock()
	}
}
