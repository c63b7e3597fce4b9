package events

import (
	"context"
	"strings"
	"sync"
)

const (
	defaultBufferSize       = 50
	defaultSubscriberBuffer = 16
)

// Hub is an in-process broadcaster with per-workspace replay buffers.
// Slow subscribers drop events rather than blocking publishers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64
}

// Subscription is one live listener on a workspace stream.
type Subscription struct {
	hub          *Hub
	workspaceKey string
	id           uint64
	ch           chan Event
	once         sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       defaultBufferSize,
		subscriberBuffer: defaultSubscriberBuffer,
	}
}

func (h *Hub) Send(ctx context.Context, workspaceKey, eventType string, payload map[string]any) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(workspaceKey)
	if key == "" {
		return
	}
	event := newEvent(key, eventType, payload)

	h.mu.RLock()
	st := h.streams[key]
	h.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	st.buffer = append(st.buffer, event)
	if len(st.buffer) > h.bufferSize {
		st.buffer = st.buffer[len(st.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(st.subs))
	for _, ch := range st.subs {
		subs = append(subs, ch)
	}
	st.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a live subscription plus the buffered backlog.
func (h *Hub) Subscribe(workspaceKey string) (*Subscription, []Event) {
	key := strings.TrimSpace(workspaceKey)
	st := h.ensureStream(key)

	st.mu.Lock()
	if st.subs == nil {
		st.subs = make(map[uint64]chan Event)
	}
	id := st.nextID
	st.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	st.subs[id] = ch
	backlog := append([]Event(nil), st.buffer...)
	st.mu.Unlock()

	return &Subscription{hub: h, workspaceKey: key, id: id, ch: ch}, backlog
}

func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.RLock()
		st := s.hub.streams[s.workspaceKey]
		s.hub.mu.RUnlock()
		if st == nil {
			return
		}
		st.mu.Lock()
		delete(st.subs, s.id)
		st.mu.Unlock()
		close(s.ch)
	})
}

func (h *Hub) ensureStream(key string) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.streams[key]
	if !ok {
		st = &stream{}
		h.streams[key] = st
	}
	return st
}
