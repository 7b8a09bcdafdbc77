package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkline/core/internal/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var mu sync.Mutex
	var received *Event
	done := make(chan struct{})

	b.Subscribe("pty.data", func(e *Event) {
		mu.Lock()
		received = e
		mu.Unlock()
		close(done)
	})

	b.Publish("pty.data", NewEvent("pty.data", "task-1", map[string]interface{}{"chunk": "hello"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received)
	assert.Equal(t, "task-1", received.TaskID)
	assert.Equal(t, "hello", received.Payload["chunk"])
}

func TestMemoryEventBus_WildcardSubject(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	count := make(chan string, 4)
	b.Subscribe("pty.*", func(e *Event) { count <- e.Type })

	b.Publish("pty.started", NewEvent("pty.started", "t1", nil))
	b.Publish("pty.exit", NewEvent("pty.exit", "t1", nil))
	b.Publish("worktree.created", NewEvent("worktree.created", "t1", nil))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case typ := <-count:
			seen[typ] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	assert.True(t, seen["pty.started"])
	assert.True(t, seen["pty.exit"])
	assert.False(t, seen["worktree.created"])
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	hits := make(chan struct{}, 1)
	sub := b.Subscribe("pty.data", func(e *Event) { hits <- struct{}{} })
	sub.Unsubscribe()

	b.Publish("pty.data", NewEvent("pty.data", "t1", nil))

	select {
	case <-hits:
		t.Fatal("handler should not fire after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryEventBus_CloseStopsDelivery(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	hits := make(chan struct{}, 1)
	b.Subscribe("pty.data", func(e *Event) { hits <- struct{}{} })
	b.Close()

	b.Publish("pty.data", NewEvent("pty.data", "t1", nil))

	select {
	case <-hits:
		t.Fatal("handler should not fire after close")
	case <-time.After(100 * time.Millisecond):
	}
}
