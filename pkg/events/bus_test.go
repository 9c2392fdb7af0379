package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var got []Event
	var wg sync.WaitGroup
	wg.Add(2)

	for i := 0; i < 2; i++ {
		bus.Subscribe(func(e Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
			wg.Done()
		})
	}

	bus.Emit(AgentStarted{AgentID: "a1", WorkspaceID: "w1", Role: "CEO", At: time.Now()})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	for _, e := range got {
		started, ok := e.(AgentStarted)
		require.True(t, ok)
		assert.Equal(t, "a1", started.AgentID)
	}
}

func TestEventNames(t *testing.T) {
	cases := map[string]Event{
		"agent.started":   AgentStarted{},
		"agent.stopped":   AgentStopped{},
		"agent.created":   AgentCreated{},
		"agent.done":      AgentDone{},
		"message.created": MessageCreated{},
		"group.created":   GroupCreated{},
	}
	for want, e := range cases {
		assert.Equal(t, want, Name(e))
	}
}
