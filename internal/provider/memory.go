package provider

import (
	"context"
	"strconv"
	"sync"

	"renonotify/internal/template"
)

// MemorySender records sends in memory. Used in tests and local runs
// without provider credentials.
type MemorySender struct {
	mu    sync.Mutex
	sent  []MemoryDelivery
	next  int
	// Fail, when set, is returned for every send instead of succeeding.
	Fail error
}

type MemoryDelivery struct {
	Recipient string
	Content   template.RenderedContent
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (m *MemorySender) Name() string { return "memory" }

func (m *MemorySender) Send(ctx context.Context, recipient string, content *template.RenderedContent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		return "", m.Fail
	}

	m.sent = append(m.sent, MemoryDelivery{Recipient: recipient, Content: *content})
	m.next++
	return "mem-" + strconv.Itoa(m.next), nil
}

// Sent returns a copy of everything delivered so far.
func (m *MemorySender) Sent() []MemoryDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryDelivery, len(m.sent))
	copy(out, m.sent)
	return out
}
