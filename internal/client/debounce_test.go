package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Warden/internal/domain/event"
)

type applied struct {
	mu   sync.Mutex
	msgs []event.Message
}

func (a *applied) apply(m event.Message) {
	a.mu.Lock()
	a.msgs = append(a.msgs, m)
	a.mu.Unlock()
}

func (a *applied) snapshot() []event.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]event.Message(nil), a.msgs...)
}

func update(id int, title string) event.Message {
	raw, _ := json.Marshal(map[string]any{"id": id, "title": title})
	return event.Message{Type: event.TaskUpdated, Payload: raw}
}

func TestCoalesceCollapsesBurstToLastPayload(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()
	got := &applied{}
	handle := Coalesce(d, got.apply)

	handle(update(1, "a"))
	time.Sleep(10 * time.Millisecond)
	handle(update(1, "b"))
	time.Sleep(10 * time.Millisecond)
	handle(update(1, "c"))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	msgs := got.snapshot()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"id":1,"title":"c"}`, string(msgs[0].Payload))
	require.Zero(t, d.Pending())
}

func TestCoalesceKeepsEntitiesApart(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()
	got := &applied{}
	handle := Coalesce(d, got.apply)

	handle(update(1, "a"))
	handle(update(2, "b"))
	handle(update(1, "c"))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestCoalescePassesThroughNonUpdates(t *testing.T) {
	d := NewDebouncer(time.Hour)
	defer d.Stop()
	got := &applied{}
	handle := Coalesce(d, got.apply)

	handle(event.Message{Type: event.TaskCreated, Payload: json.RawMessage(`{"id":1}`)})
	handle(event.Message{Type: event.TaskUpdated})
	require.Len(t, got.snapshot(), 2)
	require.Zero(t, d.Pending())
}

func TestDebouncerResetsTimerOnEachSubmit(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	defer d.Stop()

	var mu sync.Mutex
	runs := 0
	fire := func() { mu.Lock(); runs++; mu.Unlock() }

	start := time.Now()
	for i := 0; i < 4; i++ {
		d.Submit("k", fire)
		time.Sleep(20 * time.Millisecond)
	}
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return runs == 1 }, time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond)
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	ran := make(chan struct{}, 1)
	d.Submit("k", func() { ran <- struct{}{} })
	d.Stop()
	d.Submit("k", func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("stopped debouncer ran a function")
	case <-time.After(80 * time.Millisecond):
	}
	require.Zero(t, d.Pending())
}
