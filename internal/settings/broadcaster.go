package settings

import "sync"

// Broadcaster is a Provider whose settings can be updated at runtime.
// Updates are clamped and fanned out to subscribers synchronously.
type Broadcaster struct {
	mu      sync.RWMutex
	current Settings
	subs    map[int]func(Settings)
	nextID  int
}

// NewBroadcaster creates a Broadcaster with the given initial settings.
func NewBroadcaster(initial Settings) *Broadcaster {
	return &Broadcaster{
		current: initial.Clamp(),
		subs:    make(map[int]func(Settings)),
	}
}

// Current returns the active settings snapshot.
func (b *Broadcaster) Current() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Update replaces the settings and notifies subscribers.
func (b *Broadcaster) Update(s Settings) {
	s = s.Clamp()

	b.mu.Lock()
	b.current = s
	fns := make([]func(Settings), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Subscribe registers a callback invoked on every update. The returned
// cancel func is idempotent.
func (b *Broadcaster) Subscribe(fn func(Settings)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

var _ Provider = (*Broadcaster)(nil)
