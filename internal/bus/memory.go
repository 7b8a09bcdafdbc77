package bus

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/forkline/core/internal/logger"
)

// MemoryEventBus is an in-process, single-writer implementation of Bus. It is
// the sole event fan-out mechanism for this daemon: there is one process, so
// no distributed broker has a peer to talk to and none is needed (see
// DESIGN.md).
type MemoryEventBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySubscription
	logger        *logger.Logger
	closed        bool
}

type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	handler Handler
	mu      sync.Mutex
	active  bool
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subscriptions: make(map[string][]*memorySubscription),
		logger:        log.WithFields(zap.String("component", "event-bus")),
	}
}

// Publish delivers event to every subscription whose subject pattern matches.
// Handlers run synchronously on the publisher's goroutine while the bus's
// read lock is held, so each handler sees one publisher's events in publish
// order; a handler that blocks delays the publisher. The SSE handler only
// hands events to a buffered channel and drops them when it is full.
func (b *MemoryEventBus) Publish(subject string, event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for pattern, subs := range b.subscriptions {
		if !subjectMatches(subject, pattern) {
			continue
		}
		for _, sub := range subs {
			sub.mu.Lock()
			active := sub.active
			sub.mu.Unlock()
			if !active {
				continue
			}
			sub.handler(event)
		}
	}
}

// Subscribe registers handler for subject, which may contain NATS-style
// wildcards ("*" for one token, ">" for the remainder).
func (b *MemoryEventBus) Subscribe(subject string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memorySubscription{bus: b, subject: subject, handler: handler, active: true}
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	return sub
}

// Close deactivates every subscription. Safe to call once; further
// publishes are no-ops.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		}
	}
	b.subscriptions = make(map[string][]*memorySubscription)
}

func (s *memorySubscription) Unsubscribe() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscriptions[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func subjectMatches(subject, pattern string) bool {
	if !strings.Contains(pattern, "*") && !strings.Contains(pattern, ">") {
		return subject == pattern
	}
	re := compilePattern(pattern)
	return re != nil && re.MatchString(subject)
}

func compilePattern(pattern string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `\>`, `.+`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}
