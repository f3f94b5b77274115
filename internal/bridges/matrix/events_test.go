package matrix

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_DeliversInOrder(t *testing.T) {
	n := NewNotifier(0)
	defer n.Close()

	var mu sync.Mutex
	var got []int
	n.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Data["seq"].(int)) //nolint:forcetypeassert // test data
		mu.Unlock()
	})

	const count = 50
	for i := 0; i < count; i++ {
		n.Emit(Event{Type: EventUpdate, Data: map[string]any{"seq": i}})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == count
	}, 2*time.Second, 5*time.Millisecond)

	for i, seq := range got {
		assert.Equal(t, i, seq)
	}
	assert.Equal(t, uint64(count), n.Emitted())
	assert.Zero(t, n.Dropped())
}

func TestNotifier_FillsIDAndTimestamp(t *testing.T) {
	n := NewNotifier(0)
	defer n.Close()

	ch := make(chan Event, 2)
	n.Subscribe(func(ev Event) { ch <- ev })

	n.Emit(Event{Type: EventConnected})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n.Emit(Event{ID: "given", Type: EventConnected, Timestamp: fixed})

	first := <-ch
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	second := <-ch
	assert.Equal(t, "given", second.ID)
	assert.Equal(t, fixed, second.Timestamp)
}

func TestNotifier_FullQueueDrops(t *testing.T) {
	n := NewNotifier(1)
	defer n.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	delivered := 0

	n.Subscribe(func(Event) {
		once.Do(func() { close(started) })
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	fast := make(chan Event, 8)
	n.Subscribe(func(ev Event) { fast <- ev })

	// The fast subscriber keeps receiving while the slow one is stuck.
	receiveFast := func(i int) {
		t.Helper()
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber missed event %d", i)
		}
	}

	n.Emit(Event{Type: EventUpdate})
	<-started
	receiveFast(0)

	n.Emit(Event{Type: EventUpdate}) // fills the slow queue
	receiveFast(1)
	n.Emit(Event{Type: EventUpdate}) // dropped for the slow subscriber
	receiveFast(2)

	assert.Equal(t, uint64(1), n.Dropped())

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	}, time.Second, 5*time.Millisecond)
}

func TestNotifier_RecoversHandlerPanic(t *testing.T) {
	n := NewNotifier(0)
	defer n.Close()

	got := make(chan EventType, 2)
	n.Subscribe(func(ev Event) {
		if ev.Type == EventError {
			panic("boom")
		}
		got <- ev.Type
	})

	n.Emit(Event{Type: EventError})
	n.Emit(Event{Type: EventUpdate})

	select {
	case typ := <-got:
		assert.Equal(t, EventUpdate, typ)
	case <-time.After(time.Second):
		t.Fatal("handler did not survive a panic")
	}
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier(0)
	defer n.Close()

	got := make(chan Event, 4)
	unsubscribe := n.Subscribe(func(ev Event) { got <- ev })

	n.Emit(Event{Type: EventUpdate})
	<-got

	unsubscribe()
	unsubscribe()

	n.Emit(Event{Type: EventUpdate})
	select {
	case <-got:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_Close(t *testing.T) {
	n := NewNotifier(0)
	n.Subscribe(func(Event) {})
	n.Emit(Event{Type: EventUpdate})

	n.Close()
	n.Close()

	n.Emit(Event{Type: EventUpdate})
	assert.Equal(t, uint64(1), n.Emitted(), "emit after close is ignored")

	unsubscribe := n.Subscribe(func(Event) { t.Error("handler registered after close") })
	unsubscribe()
	n.Emit(Event{Type: EventUpdate})

	assert.NotPanics(t, func() { n.Subscribe(nil)() })
}
