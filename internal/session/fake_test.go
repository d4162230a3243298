package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
	"github.com/AquaToken/dao-aquarius-sub003/internal/signclient"
)

// fakeClient is an in-memory Client. Events are delivered synchronously.
type fakeClient struct {
	mu        sync.Mutex
	pairings  []signclient.Pairing
	sessions  map[string]signclient.Session
	subs      map[int]func(signclient.Event)
	nextSub   int
	connects  []signclient.ConnectParams
	requests  []signclient.RequestParams
	deleted   []string
	rejected  []signclient.Reason
	released  []string
	updated   map[string]appmeta.Metadata
	closed    bool
	connectFn func(ctx context.Context, p signclient.ConnectParams) (signclient.Session, error)
	requestFn func(p signclient.RequestParams) (json.RawMessage, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sessions: make(map[string]signclient.Session),
		subs:     make(map[int]func(signclient.Event)),
		updated:  make(map[string]appmeta.Metadata),
	}
}

var walletPeer = appmeta.Metadata{Name: "Fake Wallet", URL: "https://fake.wallet", Icons: []string{"https://fake.wallet/i.png"}}

func fakeSession(topic string) signclient.Session {
	return signclient.Session{
		Topic:        topic,
		PairingTopic: "pairing-" + topic,
		Accounts:     []string{"stellar:pubnet:GPUBLIC" + topic},
		Peer:         walletPeer,
		CreatedAt:    time.Now(),
	}
}

func (f *fakeClient) addPairings(n int) {
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		f.pairings = append(f.pairings, signclient.Pairing{
			Topic:     "p" + string(rune('a'+i)),
			Peer:      appmeta.Metadata{Name: "wallet " + string(rune('a'+i))},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func (f *fakeClient) emit(ev signclient.Event) {
	f.mu.Lock()
	fns := make([]func(signclient.Event), 0, len(f.subs))
	for i := 1; i <= f.nextSub; i++ {
		if fn, ok := f.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeClient) Connect(ctx context.Context, p signclient.ConnectParams) (signclient.Session, error) {
	f.mu.Lock()
	f.connects = append(f.connects, p)
	fn := f.connectFn
	f.mu.Unlock()
	if fn == nil {
		s := fakeSession("s1")
		f.mu.Lock()
		f.sessions[s.Topic] = s
		f.mu.Unlock()
		return s, nil
	}
	return fn(ctx, p)
}

func (f *fakeClient) Request(ctx context.Context, p signclient.RequestParams) (json.RawMessage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, p)
	fn := f.requestFn
	f.mu.Unlock()
	if fn == nil {
		return json.RawMessage(`{}`), nil
	}
	return fn(p)
}

func (f *fakeClient) Disconnect(ctx context.Context, topic string, reason signclient.Reason) error {
	f.mu.Lock()
	s, ok := f.sessions[topic]
	delete(f.sessions, topic)
	f.mu.Unlock()
	if !ok {
		return signclient.ErrSessionNotFound
	}
	f.emit(signclient.Event{Kind: signclient.EventSessionDeleted, Session: &s, Reason: &reason})
	return nil
}

func (f *fakeClient) DeletePairing(ctx context.Context, topic string, reason signclient.Reason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, topic)
	kept := f.pairings[:0]
	for _, p := range f.pairings {
		if p.Topic != topic {
			kept = append(kept, p)
		}
	}
	f.pairings = kept
	return nil
}

func (f *fakeClient) Reject(ctx context.Context, proposal signclient.Proposal, reason signclient.Reason) error {
	f.mu.Lock()
	f.rejected = append(f.rejected, reason)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) ReleaseKey(publicKey string) bool {
	f.mu.Lock()
	f.released = append(f.released, publicKey)
	f.mu.Unlock()
	return true
}

func (f *fakeClient) UpdatePairingMetadata(topic string, peer appmeta.Metadata) error {
	f.mu.Lock()
	f.updated[topic] = peer
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Pairings() []signclient.Pairing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signclient.Pairing(nil), f.pairings...)
}

func (f *fakeClient) SessionTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for topic := range f.sessions {
		out = append(out, topic)
	}
	return out
}

func (f *fakeClient) Session(topic string) (signclient.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[topic]
	return s, ok
}

func (f *fakeClient) Subscribe(fn func(signclient.Event)) func() {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
