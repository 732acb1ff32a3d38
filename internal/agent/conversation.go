package agent

import (
	"context"
	"sync"
	"time"

	"github.com/finsight-ai/finsight/internal/llm"
)

// Memory holds process-local conversation state: a sliding window of
// messages per conversation id with an idle TTL.
type Memory struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	maxMessages   int
	ttl           time.Duration
	now           func() time.Time
}

// Conversation is one conversation's transcript. Its mutex serializes
// queries within the conversation across the whole agent loop.
type Conversation struct {
	mu       sync.Mutex
	messages []llm.Message
	lastUsed time.Time
}

// NewMemory constructs conversation memory. Zero values fall back to a
// 50 message window and a one hour idle TTL.
func NewMemory(maxMessages int, ttl time.Duration) *Memory {
	if maxMessages <= 0 {
		maxMessages = 50
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{
		conversations: map[string]*Conversation{},
		maxMessages:   maxMessages,
		ttl:           ttl,
		now:           time.Now,
	}
}

// Acquire returns the conversation for id, creating it if needed, with
// its mutex held. The caller must call release when done.
func (m *Memory) Acquire(id string) (conv *Conversation, release func()) {
	m.mu.Lock()
	conv, ok := m.conversations[id]
	if !ok {
		conv = &Conversation{lastUsed: m.now()}
		m.conversations[id] = conv
	}
	m.mu.Unlock()

	conv.mu.Lock()
	conv.lastUsed = m.now()
	return conv, conv.mu.Unlock
}

// History returns a copy of the transcript. The conversation mutex must
// be held by the caller.
func (c *Conversation) History() []llm.Message {
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Append adds messages, trimming the front beyond the window cap.
func (m *Memory) Append(conv *Conversation, messages ...llm.Message) {
	conv.messages = append(conv.messages, messages...)
	if over := len(conv.messages) - m.maxMessages; over > 0 {
		conv.messages = conv.messages[over:]
	}
	conv.lastUsed = m.now()
}

// Snapshot returns a copy of a conversation's transcript, if it exists.
func (m *Memory) Snapshot(id string) ([]llm.Message, bool) {
	m.mu.Lock()
	conv, ok := m.conversations[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.History(), true
}

// Delete drops a conversation.
func (m *Memory) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conversations[id]
	delete(m.conversations, id)
	return ok
}

// Len reports the number of live conversations.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

// Sweep drops conversations idle past the TTL and reports how many.
func (m *Memory) Sweep() int {
	cutoff := m.now().Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, conv := range m.conversations {
		conv.mu.Lock()
		idle := conv.lastUsed.Before(cutoff)
		conv.mu.Unlock()
		if idle {
			delete(m.conversations, id)
			removed++
		}
	}
	return removed
}

// Reap sweeps on an interval until the context is cancelled.
func (m *Memory) Reap(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
