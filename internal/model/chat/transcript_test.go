package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTranscriptGreeting(t *testing.T) {
	tr := NewTranscript("hello")
	turns := tr.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, RoleAssistant, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)

	assert.Equal(t, 0, NewTranscript("").Len())
}

func TestTranscriptKeepsInsertionOrder(t *testing.T) {
	tr := NewTranscript("")
	tr.Append(UserTurn("one"))
	tr.Append(AssistantTurn("two"))
	tr.Append(UserTurn("three"))

	turns := tr.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{turns[0].Content, turns[1].Content, turns[2].Content})
}

func TestTranscriptTurnsReturnsCopy(t *testing.T) {
	tr := NewTranscript("")
	tr.Append(UserTurn("original"))

	turns := tr.Turns()
	turns[0].Content = "changed"

	assert.Equal(t, "original", tr.Turns()[0].Content)
}

func TestTranscriptConcurrentAppend(t *testing.T) {
	tr := NewTranscript("")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Append(UserTurn("x"))
			_ = tr.Turns()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Len())
}
