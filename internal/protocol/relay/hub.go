package relay

import (
	"context"
	"strings"
	"sync"

	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/google/uuid"
)

const (
	mailboxLimit = 64
	peerBuffer   = 256
)

// Hub routes topic payloads between connected peers in process. Payloads
// published to a topic nobody else is subscribed to are held in a bounded
// mailbox and flushed to the next subscriber.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*hubPeer]string
	mailbox map[string][]string
}

func NewHub() *Hub {
	return &Hub{
		subs:    make(map[string]map[*hubPeer]string),
		mailbox: make(map[string][]string),
	}
}

type hubPeer struct {
	id     string
	out    chan Message
	closed bool
}

// Connect attaches a new in-memory transport to the hub.
func (h *Hub) Connect() *MemoryTransport {
	return &MemoryTransport{
		hub: h,
		peer: &hubPeer{
			id:  uuid.NewString(),
			out: make(chan Message, peerBuffer),
		},
	}
}

func (h *Hub) publish(from *hubPeer, topic, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := false
	for p := range h.subs[topic] {
		if p == from {
			continue
		}
		h.deliverLocked(p, Message{Topic: topic, Payload: payload})
		delivered = true
	}
	if delivered {
		return
	}
	box := append(h.mailbox[topic], payload)
	if len(box) > mailboxLimit {
		box = box[len(box)-mailboxLimit:]
	}
	h.mailbox[topic] = box
}

func (h *Hub) subscribe(p *hubPeer, topic string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.subs[topic]
	if !ok {
		peers = make(map[*hubPeer]string)
		h.subs[topic] = peers
	}
	if id, ok := peers[p]; ok {
		return id
	}
	id := uuid.NewString()
	peers[p] = id
	for _, payload := range h.mailbox[topic] {
		h.deliverLocked(p, Message{Topic: topic, Payload: payload})
	}
	delete(h.mailbox, topic)
	return id
}

func (h *Hub) unsubscribe(p *hubPeer, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.subs[topic]
	if !ok {
		return false
	}
	if _, ok := peers[p]; !ok {
		return false
	}
	delete(peers, p)
	if len(peers) == 0 {
		delete(h.subs, topic)
	}
	return true
}

func (h *Hub) disconnect(p *hubPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.closed {
		return
	}
	for topic, peers := range h.subs {
		delete(peers, p)
		if len(peers) == 0 {
			delete(h.subs, topic)
		}
	}
	p.closed = true
	close(p.out)
}

// Topics reports the number of topics with at least one subscriber.
func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) deliverLocked(p *hubPeer, msg Message) {
	if p.closed {
		return
	}
	select {
	case p.out <- msg:
	default:
		logger := logging.Component("relay.hub")
		logger.Warn().Str("peer", p.id).Str("topic", msg.Topic).Msg("peer buffer full, dropping message")
	}
}

// MemoryTransport is a Transport attached to a Hub.
type MemoryTransport struct {
	hub  *Hub
	peer *hubPeer
}

var _ Transport = (*MemoryTransport)(nil)

func (t *MemoryTransport) Publish(ctx context.Context, topic, payload string) error {
	if err := t.check(ctx, topic); err != nil {
		return err
	}
	t.hub.publish(t.peer, topic, payload)
	return nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, topic string) error {
	if err := t.check(ctx, topic); err != nil {
		return err
	}
	t.hub.subscribe(t.peer, topic)
	return nil
}

func (t *MemoryTransport) Unsubscribe(ctx context.Context, topic string) error {
	if err := t.check(ctx, topic); err != nil {
		return err
	}
	if !t.hub.unsubscribe(t.peer, topic) {
		return ErrNotSubscribed
	}
	return nil
}

func (t *MemoryTransport) Messages() <-chan Message {
	return t.peer.out
}

func (t *MemoryTransport) Close() error {
	t.hub.disconnect(t.peer)
	return nil
}

func (t *MemoryTransport) check(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(topic) == "" {
		return ErrTopicRequired
	}
	t.hub.mu.Lock()
	closed := t.peer.closed
	t.hub.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return nil
}
