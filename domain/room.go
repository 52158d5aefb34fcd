package domain

import "sync"

// Transcript is the append-only list of messages received in this process.
// It is never persisted and only a restart empties it.
type Transcript struct {
	mu       sync.RWMutex
	messages []ChatMessage
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Append(message ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, message)
}

// All returns a copy in receipt order.
func (t *Transcript) All() []ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ChatMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Composer holds the text being typed.
type Composer struct {
	text string
}

func (c *Composer) Set(text string) { c.text = text }

func (c *Composer) Text() string { return c.text }

func (c *Composer) Clear() { c.text = "" }
