package fusion

import "sync"

// EstimateBroadcaster fans out per-tick estimates to any listeners (UDP
// publisher, SSE stream, MQTT mirror). It keeps the most recent value so
// new subscribers get an immediate sample. Delivery is at most once per
// tick per subscriber; a subscriber that falls behind misses ticks rather
// than blocking the tick loop.
type EstimateBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Estimate
	nextID   int
	last     Estimate
	haveLast bool
}

func NewEstimateBroadcaster() *EstimateBroadcaster {
	return &EstimateBroadcaster{subs: make(map[int]chan Estimate)}
}

func (b *EstimateBroadcaster) Subscribe(buffer int) (int, <-chan Estimate) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan Estimate, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *EstimateBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *EstimateBroadcaster) Publish(e Estimate) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.last = e
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	b.mu.Unlock()
}

// Last returns the most recently published estimate, if any.
func (b *EstimateBroadcaster) Last() (Estimate, bool) {
	if b == nil {
		return Estimate{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}
