package realtime

import (
	"sync"
)

const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Change describes one row change on service_requests. Consumers treat it as a hint to refetch.
type Change struct {
	Op           string `json:"op"`
	RequestID    string `json:"id"`
	CustomerID   string `json:"customer_id"`
	TechnicianID string `json:"technician_id,omitempty"`
	Status       string `json:"status"`
}

type Filter func(Change) bool

// ForCustomer matches changes on rows owned by the customer.
func ForCustomer(customerID string) Filter {
	return func(c Change) bool {
		return customerID != "" && c.CustomerID == customerID
	}
}

type Subscription struct {
	id     uint64
	hub    *Hub
	filter Filter
	ch     chan struct{}
	once   sync.Once
}

// C fires at least once after any matching change. Signals coalesce while unread.
func (s *Subscription) C() <-chan struct{} {
	return s.ch
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}

type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]*Subscription
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

func (h *Hub) Subscribe(filter Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	s := &Subscription{id: h.next, hub: h, filter: filter, ch: make(chan struct{}, 1)}
	h.subs[s.id] = s
	return s
}

// Publish signals every matching subscriber without blocking and returns how many matched.
func (h *Hub) Publish(c Change) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.subs {
		if s.filter != nil && !s.filter(c) {
			continue
		}
		n++
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
	return n
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// CloseAll closes every subscription; their channels are closed.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()
	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}
