package session

import (
	"sort"
	"sync"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
)

// Event is published on the Bus. It is one of LoginEvent or LogoutEvent.
type Event interface {
	isEvent()
}

type LoginEvent struct {
	PublicKey string
	Metadata  appmeta.Metadata
}

type LogoutEvent struct{}

func (LoginEvent) isEvent()  {}
func (LogoutEvent) isEvent() {}

// Bus fans events out to subscribers in subscription order.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]func(Event))}
}

// Subscribe registers fn and returns its disposer.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
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

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
