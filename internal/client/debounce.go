package client

import (
	"sync"
	"time"

	"github.com/NordCoder/Warden/internal/domain/event"
)

const DefaultDebounce = 500 * time.Millisecond

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Debouncer runs the last function submitted for a key once the key has been
// quiet for the delay. Every Submit resets that key's timer.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	gen     uint64
	pending map[string]*pending
	stopped bool
}

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay, pending: make(map[string]*pending)}
}

func (d *Debouncer) Submit(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending[key] = &pending{
		gen: gen,
		timer: time.AfterFunc(d.delay, func() {
			d.mu.Lock()
			p, ok := d.pending[key]
			// a timer that lost the race with Stop belongs to an older submit
			if !ok || p.gen != gen {
				d.mu.Unlock()
				return
			}
			delete(d.pending, key)
			d.mu.Unlock()
			fn()
		}),
	}
}

func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels everything scheduled and rejects later submits.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, k)
	}
}

// Coalesce wraps apply so update events are debounced per entity id. Other
// events, and updates without an id, are applied immediately.
func Coalesce(d *Debouncer, apply func(event.Message)) func(event.Message) {
	return func(msg event.Message) {
		if !msg.Type.IsUpdate() {
			apply(msg)
			return
		}
		id, ok := msg.EntityID()
		if !ok {
			apply(msg)
			return
		}
		d.Submit(string(msg.Type)+":"+id, func() { apply(msg) })
	}
}
