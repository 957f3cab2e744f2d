package chat

import "sync"

// Transcript is an append-only, ordered list of turns.
// Insertion order is display order; turns are never mutated or removed.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewTranscript returns a transcript opened with an optional assistant greeting.
func NewTranscript(greeting string) *Transcript {
	t := &Transcript{turns: make([]Turn, 0, 16)}
	if greeting != "" {
		t.turns = append(t.turns, AssistantTurn(greeting))
	}
	return t
}

// Append adds a turn to the end of the transcript.
func (t *Transcript) Append(turn Turn) {
	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()
}

// Turns returns a copy of the turns in insertion order.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	copied := make([]Turn, len(t.turns))
	copy(copied, t.turns)
	return copied
}

// Len reports the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}
