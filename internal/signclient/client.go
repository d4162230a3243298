package signclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/jsonrpc"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/keychain"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/relay"
	"github.com/rs/zerolog"
)

// Options configures a Client.
type Options struct {
	Transport relay.Transport
	Store     *Store
	// RelayURL is recorded on new pairings.
	RelayURL string
	// RequestTimeout bounds relay round-trips made by the client itself.
	RequestTimeout time.Duration
	// ResponseTimeout bounds waits on wallet-interactive responses
	// (session approval, signing). Zero waits until ctx ends.
	ResponseTimeout time.Duration
	// ProposalTTL bounds how long a pairing proposal waits to be scanned.
	ProposalTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		RequestTimeout:  15 * time.Second,
		ResponseTimeout: 5 * time.Minute,
		ProposalTTL:     5 * time.Minute,
	}
}

type topicKind int

const (
	topicProposal topicKind = iota + 1
	topicPairing
	topicSession
)

type proposalResult struct {
	pairing Pairing
	err     error
}

// queuedEvent is either an Event or a barrier closed once every event
// queued before it has been dispatched.
type queuedEvent struct {
	event   Event
	barrier chan struct{}
}

type pendingProposal struct {
	proposal Proposal
	keys     keychain.KeyPair
	result   chan proposalResult
}

// Client speaks the pairing protocol over a relay Transport.
type Client struct {
	opts      Options
	transport relay.Transport
	store     *Store
	keys      *keychain.Keychain
	ids       *jsonrpc.IDs
	logger    zerolog.Logger

	mu        sync.Mutex
	pairings  map[string]Pairing
	sessions  map[string]Session
	proposals map[string]*pendingProposal
	topics    map[string]topicKind

	pendingMu sync.Mutex
	pending   map[uint64]chan jsonrpc.Message

	// persistMu orders snapshots with their writes.
	persistMu sync.Mutex

	handlersMu  sync.RWMutex
	handlers    map[uint64]func(Event)
	nextHandler uint64

	events    chan queuedEvent
	done      chan struct{}
	closeOnce sync.Once
}

// New restores persisted registries, re-subscribes known topics and starts
// the inbound and event loops.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, ErrTransportRequired
	}
	d := DefaultOptions()
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = d.RequestTimeout
	}
	if opts.ProposalTTL <= 0 {
		opts.ProposalTTL = d.ProposalTTL
	}
	if opts.Store == nil {
		opts.Store = NewStore("")
	}
	c := &Client{
		opts:      opts,
		transport: opts.Transport,
		store:     opts.Store,
		keys:      keychain.New(),
		ids:       jsonrpc.NewIDs(),
		logger:    logging.Component("signclient"),
		pairings:  make(map[string]Pairing),
		sessions:  make(map[string]Session),
		proposals: make(map[string]*pendingProposal),
		topics:    make(map[string]topicKind),
		pending:   make(map[uint64]chan jsonrpc.Message),
		handlers:  make(map[uint64]func(Event)),
		events:    make(chan queuedEvent, 128),
		done:      make(chan struct{}),
	}

	snap, err := c.store.load()
	if err != nil {
		return nil, err
	}
	if err := c.keys.Import(snap.Keys); err != nil {
		return nil, err
	}
	for _, p := range snap.Pairings {
		c.pairings[p.Topic] = p
		c.topics[p.Topic] = topicPairing
	}
	for _, s := range snap.Sessions {
		c.sessions[s.Topic] = s
		c.topics[s.Topic] = topicSession
	}
	for topic := range c.topics {
		if err := c.transport.Subscribe(ctx, topic); err != nil {
			return nil, fmt.Errorf("signclient: resubscribe %s: %w", shortTopic(topic), err)
		}
	}
	c.logger.Debug().
		Int("pairings", len(c.pairings)).
		Int("sessions", len(c.sessions)).
		Str("store", c.store.Path()).
		Msg("client restored")

	go c.readLoop()
	go c.dispatchLoop()
	return c, nil
}

// Subscribe registers fn for every event. The returned func unregisters it.
func (c *Client) Subscribe(fn func(Event)) func() {
	c.handlersMu.Lock()
	c.nextHandler++
	id := c.nextHandler
	c.handlers[id] = fn
	c.handlersMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			delete(c.handlers, id)
			c.handlersMu.Unlock()
		})
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.transport.Close()
	})
	return err
}

// Pairings lists stored pairings oldest first.
func (c *Client) Pairings() []Pairing {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pairing, 0, len(c.pairings))
	for _, p := range c.pairings {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Topic < out[j].Topic
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (c *Client) Pairing(topic string) (Pairing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pairings[topic]
	return p, ok
}

// SessionTopics lists settled session topics, oldest first.
func (c *Client) SessionTopics() []string {
	c.mu.Lock()
	list := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		list = append(list, s)
	}
	c.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.Topic)
	}
	return out
}

func (c *Client) Session(topic string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[topic]
	return s, ok
}

// Connect negotiates a session. Without a pairing topic a new pairing
// proposal is emitted as EventPairingProposal and Connect blocks until a
// wallet approves it, it is rejected, or ProposalTTL passes.
func (c *Client) Connect(ctx context.Context, p ConnectParams) (Session, error) {
	if c.isClosed() {
		return Session{}, ErrClientClosed
	}
	// Events emitted while connecting reach subscribers before Connect
	// returns.
	defer c.flushEvents()
	pairingTopic := strings.TrimSpace(p.PairingTopic)
	if pairingTopic == "" {
		pairing, err := c.proposePairing(ctx)
		if err != nil {
			return Session{}, err
		}
		pairingTopic = pairing.Topic
	} else if _, ok := c.Pairing(pairingTopic); !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrPairingNotFound, shortTopic(pairingTopic))
	}
	return c.proposeSession(ctx, pairingTopic, p)
}

// Request sends one JSON-RPC call to the wallet on a settled session and
// returns the raw result.
func (c *Client) Request(ctx context.Context, p RequestParams) (json.RawMessage, error) {
	s, ok := c.Session(p.Topic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, shortTopic(p.Topic))
	}
	if !s.Permissions.allowsChain(p.ChainID) {
		return nil, fmt.Errorf("%w: %s", ErrChainNotPermitted, p.ChainID)
	}
	if !s.Permissions.allowsMethod(p.Method) {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotPermitted, p.Method)
	}
	return c.requestOnTopic(ctx, p.Topic, MethodSessionPayload, SessionPayloadParams{
		ChainID: p.ChainID,
		Request: PayloadRequest{Method: p.Method, Params: p.Params},
	}, c.opts.ResponseTimeout)
}

// Disconnect tells the wallet the session is over and drops it locally.
// A failed notification is logged; local cleanup always happens.
func (c *Client) Disconnect(ctx context.Context, topic string, reason Reason) error {
	if _, ok := c.Session(topic); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, shortTopic(topic))
	}
	msg, err := jsonrpc.NewRequest(c.ids.Next(), MethodSessionDelete, DeleteParams{Reason: reason})
	if err != nil {
		return err
	}
	if err := c.publishSealed(ctx, topic, msg); err != nil {
		c.logger.Warn().Err(err).Str("topic", shortTopic(topic)).Msg("session delete notification failed")
	}
	if s, ok := c.removeSession(topic); ok {
		c.emit(Event{Kind: EventSessionDeleted, Session: &s, Reason: &reason})
		c.flushEvents()
	}
	return nil
}

// DeletePairing drops a stored pairing, notifying the wallet best-effort.
func (c *Client) DeletePairing(ctx context.Context, topic string, reason Reason) error {
	if _, ok := c.Pairing(topic); !ok {
		return fmt.Errorf("%w: %s", ErrPairingNotFound, shortTopic(topic))
	}
	msg, err := jsonrpc.NewRequest(c.ids.Next(), MethodPairingDelete, DeleteParams{Reason: reason})
	if err != nil {
		return err
	}
	if err := c.publishSealed(ctx, topic, msg); err != nil {
		c.logger.Debug().Err(err).Str("topic", shortTopic(topic)).Msg("pairing delete notification failed")
	}
	if p, ok := c.removePairing(topic); ok {
		c.emit(Event{Kind: EventPairingDeleted, Pairing: &p, Reason: &reason})
	}
	return nil
}

// Reject abandons an open proposal. The pending Connect fails with reason.
// The proposer key is left for ReleaseKey.
func (c *Client) Reject(ctx context.Context, proposal Proposal, reason Reason) error {
	c.mu.Lock()
	prop, ok := c.proposals[proposal.Topic]
	if ok {
		delete(c.proposals, proposal.Topic)
		delete(c.topics, proposal.Topic)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, shortTopic(proposal.Topic))
	}
	msg, err := jsonrpc.NewRequest(c.ids.Next(), MethodPairingReject, PairingRejectParams{Reason: reason})
	if err == nil {
		err = c.publishPlain(ctx, proposal.Topic, msg)
	}
	if err != nil {
		c.logger.Debug().Err(err).Msg("proposal reject notification failed")
	}
	if err := c.transport.Unsubscribe(ctx, proposal.Topic); err != nil {
		c.logger.Debug().Err(err).Msg("proposal unsubscribe failed")
	}
	prop.result <- proposalResult{err: reasonErr(reason)}
	return nil
}

// ReleaseKey wipes the private key tagged by publicKey.
func (c *Client) ReleaseKey(publicKey string) bool {
	return c.keys.Delete(publicKey)
}

// HasKey reports whether key material tagged by tag is still held.
func (c *Client) HasKey(tag string) bool {
	return c.keys.Has(tag)
}

// UpdatePairingMetadata records peer metadata against a stored pairing.
func (c *Client) UpdatePairingMetadata(topic string, peer appmeta.Metadata) error {
	c.mu.Lock()
	p, ok := c.pairings[topic]
	if ok {
		p.Peer = peer
		c.pairings[topic] = p
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPairingNotFound, shortTopic(topic))
	}
	return c.persist()
}

func (c *Client) proposePairing(ctx context.Context) (Pairing, error) {
	kp, err := keychain.GenerateKeyPair()
	if err != nil {
		return Pairing{}, err
	}
	topic, err := keychain.RandomTopic()
	if err != nil {
		return Pairing{}, err
	}
	c.keys.Set(kp.PublicHex(), kp.Private)
	if err := c.transport.Subscribe(ctx, topic); err != nil {
		c.keys.Delete(kp.PublicHex())
		return Pairing{}, err
	}
	prop := &pendingProposal{
		proposal: Proposal{
			Topic:             topic,
			URI:               BuildURI(topic, kp.PublicHex()),
			ProposerPublicKey: kp.PublicHex(),
			CreatedAt:         time.Now(),
		},
		keys:   kp,
		result: make(chan proposalResult, 1),
	}
	c.mu.Lock()
	c.proposals[topic] = prop
	c.topics[topic] = topicProposal
	c.mu.Unlock()

	proposal := prop.proposal
	c.logger.Debug().Str("topic", shortTopic(topic)).Msg("pairing proposed")
	c.emit(Event{Kind: EventPairingProposal, Proposal: &proposal})

	timer := time.NewTimer(c.opts.ProposalTTL)
	defer timer.Stop()
	select {
	case res := <-prop.result:
		return res.pairing, res.err
	case <-timer.C:
		select {
		case res := <-prop.result:
			return res.pairing, res.err
		default:
		}
		c.abandonProposal(topic)
		return Pairing{}, reasonErr(ReasonExpired)
	case <-ctx.Done():
		c.abandonProposal(topic)
		return Pairing{}, ctx.Err()
	case <-c.done:
		return Pairing{}, ErrClientClosed
	}
}

func (c *Client) abandonProposal(topic string) {
	c.mu.Lock()
	prop, ok := c.proposals[topic]
	if ok {
		delete(c.proposals, topic)
		delete(c.topics, topic)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.keys.Delete(prop.proposal.ProposerPublicKey)
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	_ = c.transport.Unsubscribe(ctx, topic)
}

func (c *Client) proposeSession(ctx context.Context, pairingTopic string, p ConnectParams) (Session, error) {
	kp, err := keychain.GenerateKeyPair()
	if err != nil {
		return Session{}, err
	}
	c.keys.Set(kp.PublicHex(), kp.Private)
	defer c.keys.Delete(kp.PublicHex())

	raw, err := c.requestOnTopic(ctx, pairingTopic, MethodSessionPropose, SessionProposeParams{
		Proposer: PeerInfo{PublicKey: kp.PublicHex(), Metadata: p.Metadata},
		Permissions: ProposedPermissions{
			Blockchain: BlockchainPermissions{Chains: p.Permissions.Chains},
			JSONRPC:    JSONRPCPermissions{Methods: p.Permissions.Methods},
		},
	}, c.opts.ResponseTimeout)
	if err != nil {
		return Session{}, err
	}
	var res SessionApproveResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidApproval, err)
	}
	if len(res.State.Accounts) == 0 {
		return Session{}, ErrNoAccountsApproved
	}
	peerPub, err := keychain.ParsePublicKey(res.Responder.PublicKey)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidApproval, err)
	}
	sym, err := keychain.DeriveSymKey(kp.Private, peerPub)
	if err != nil {
		return Session{}, err
	}
	topic := keychain.TopicForKey(sym)
	c.keys.Set(topic, sym)
	if err := c.transport.Subscribe(ctx, topic); err != nil {
		c.keys.Delete(topic)
		return Session{}, err
	}
	s := Session{
		Topic:        topic,
		PairingTopic: pairingTopic,
		Accounts:     append([]string(nil), res.State.Accounts...),
		Permissions: Permissions{
			Chains:  append([]string(nil), p.Permissions.Chains...),
			Methods: append([]string(nil), p.Permissions.Methods...),
		},
		Self:      p.Metadata,
		Peer:      res.Responder.Metadata,
		CreatedAt: time.Now(),
	}
	c.mu.Lock()
	c.sessions[topic] = s
	c.topics[topic] = topicSession
	c.mu.Unlock()
	if err := c.persist(); err != nil {
		c.logger.Warn().Err(err).Msg("persist after session settle failed")
	}
	c.logger.Info().
		Str("session", shortTopic(topic)).
		Str("pairing", shortTopic(pairingTopic)).
		Str("peer", s.Peer.Name).
		Msg("session settled")
	return s, nil
}

func (c *Client) requestOnTopic(ctx context.Context, topic, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	msg, err := jsonrpc.NewRequest(c.ids.Next(), method, params)
	if err != nil {
		return nil, err
	}
	ch := make(chan jsonrpc.Message, 1)
	c.pendingMu.Lock()
	c.pending[msg.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.publishSealed(ctx, topic, msg); err != nil {
		return nil, err
	}

	var expire <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, reasonErr(Reason{Code: resp.Error.Code, Message: resp.Error.Message})
		}
		return resp.Result, nil
	case <-expire:
		return nil, reasonErr(ReasonExpired)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

func (c *Client) publishSealed(ctx context.Context, topic string, msg jsonrpc.Message) error {
	key, ok := c.keys.Get(topic)
	if !ok {
		return fmt.Errorf("signclient: no key for topic %s", shortTopic(topic))
	}
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	sealed, err := keychain.Seal(key, data)
	if err != nil {
		return err
	}
	return c.transport.Publish(ctx, topic, sealed)
}

func (c *Client) publishPlain(ctx context.Context, topic string, msg jsonrpc.Message) error {
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	return c.transport.Publish(ctx, topic, string(data))
}

func (c *Client) readLoop() {
	msgs := c.transport.Messages()
	for {
		select {
		case <-c.done:
			return
		case m, ok := <-msgs:
			if !ok {
				c.logger.Warn().Msg("relay transport closed")
				return
			}
			c.handle(m)
		}
	}
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case q := <-c.events:
			if q.barrier != nil {
				close(q.barrier)
				continue
			}
			ev := q.event
			c.handlersMu.RLock()
			ids := make([]uint64, 0, len(c.handlers))
			for id := range c.handlers {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			fns := make([]func(Event), 0, len(ids))
			for _, id := range ids {
				fns = append(fns, c.handlers[id])
			}
			c.handlersMu.RUnlock()
			for _, fn := range fns {
				fn(ev)
			}
		}
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- queuedEvent{event: ev}:
	case <-c.done:
	}
}

// flushEvents blocks until every event emitted so far has been dispatched.
func (c *Client) flushEvents() {
	barrier := make(chan struct{})
	select {
	case c.events <- queuedEvent{barrier: barrier}:
	case <-c.done:
		return
	}
	select {
	case <-barrier:
	case <-c.done:
	}
}

func (c *Client) handle(m relay.Message) {
	c.mu.Lock()
	kind := c.topics[m.Topic]
	c.mu.Unlock()

	switch kind {
	case topicProposal:
		msg, err := jsonrpc.Decode([]byte(m.Payload))
		if err != nil {
			c.logger.Debug().Err(err).Msg("bad proposal topic payload")
			return
		}
		switch {
		case msg.IsRequest() && msg.Method == MethodPairingApprove:
			c.onPairingApprove(m.Topic, msg)
		case msg.IsRequest() && msg.Method == MethodPairingReject:
			c.onPairingReject(m.Topic, msg)
		}
	case topicPairing, topicSession:
		key, ok := c.keys.Get(m.Topic)
		if !ok {
			return
		}
		plain, err := keychain.Open(key, m.Payload)
		if err != nil {
			c.logger.Debug().Err(err).Str("topic", shortTopic(m.Topic)).Msg("undecryptable payload")
			return
		}
		msg, err := jsonrpc.Decode(plain)
		if err != nil {
			c.logger.Debug().Err(err).Msg("bad topic payload")
			return
		}
		if msg.IsResponse() {
			c.route(msg)
			return
		}
		c.onRequest(kind, m.Topic, msg)
	default:
		c.logger.Debug().Str("topic", shortTopic(m.Topic)).Msg("message on unknown topic")
	}
}

func (c *Client) route(msg jsonrpc.Message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Client) onPairingApprove(proposalTopic string, msg jsonrpc.Message) {
	c.mu.Lock()
	prop, ok := c.proposals[proposalTopic]
	if ok {
		delete(c.proposals, proposalTopic)
		delete(c.topics, proposalTopic)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	defer func() {
		if err := c.transport.Unsubscribe(ctx, proposalTopic); err != nil {
			c.logger.Debug().Err(err).Msg("proposal unsubscribe failed")
		}
	}()

	fail := func(err error) {
		c.keys.Delete(prop.proposal.ProposerPublicKey)
		_ = c.publishPlain(ctx, proposalTopic, jsonrpc.NewError(msg.ID, ReasonUnknown.Code, err.Error()))
		prop.result <- proposalResult{err: err}
	}

	var params PairingApproveParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		fail(fmt.Errorf("%w: %v", ErrInvalidApproval, err))
		return
	}
	peerPub, err := keychain.ParsePublicKey(params.Responder.PublicKey)
	if err != nil {
		fail(fmt.Errorf("%w: %v", ErrInvalidApproval, err))
		return
	}
	sym, err := keychain.DeriveSymKey(prop.keys.Private, peerPub)
	if err != nil {
		fail(err)
		return
	}
	topic := keychain.TopicForKey(sym)
	c.keys.Set(topic, sym)
	c.keys.Delete(prop.proposal.ProposerPublicKey)
	if err := c.transport.Subscribe(ctx, topic); err != nil {
		c.keys.Delete(topic)
		prop.result <- proposalResult{err: err}
		return
	}
	pairing := Pairing{
		Topic:         topic,
		PeerPublicKey: params.Responder.PublicKey,
		Relay:         c.opts.RelayURL,
		CreatedAt:     time.Now(),
	}
	c.mu.Lock()
	c.pairings[topic] = pairing
	c.topics[topic] = topicPairing
	c.mu.Unlock()
	if err := c.persist(); err != nil {
		c.logger.Warn().Err(err).Msg("persist after pairing create failed")
	}
	if ack, err := jsonrpc.NewResult(msg.ID, true); err == nil {
		_ = c.publishPlain(ctx, proposalTopic, ack)
	}
	c.logger.Info().Str("pairing", shortTopic(topic)).Msg("pairing created")
	created := pairing
	c.emit(Event{Kind: EventPairingCreated, Pairing: &created})
	prop.result <- proposalResult{pairing: pairing}
}

func (c *Client) onPairingReject(proposalTopic string, msg jsonrpc.Message) {
	c.mu.Lock()
	prop, ok := c.proposals[proposalTopic]
	if ok {
		delete(c.proposals, proposalTopic)
		delete(c.topics, proposalTopic)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	reason := ReasonUserRejected
	var params PairingRejectParams
	if err := json.Unmarshal(msg.Params, &params); err == nil && params.Reason.Code != 0 {
		reason = params.Reason
	}
	c.keys.Delete(prop.proposal.ProposerPublicKey)
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	_ = c.transport.Unsubscribe(ctx, proposalTopic)
	c.logger.Info().Int("code", reason.Code).Msg("pairing rejected by wallet")
	prop.result <- proposalResult{err: reasonErr(reason)}
}

func (c *Client) onRequest(kind topicKind, topic string, msg jsonrpc.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()

	switch {
	case kind == topicPairing && msg.Method == MethodPairingUpdate:
		var params PairingUpdateParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.replyError(ctx, topic, msg.ID, -32602, "invalid params")
			return
		}
		c.mu.Lock()
		p, ok := c.pairings[topic]
		if ok {
			p.Peer = params.State.Metadata
			c.pairings[topic] = p
		}
		c.mu.Unlock()
		if !ok {
			return
		}
		if err := c.persist(); err != nil {
			c.logger.Warn().Err(err).Msg("persist after pairing update failed")
		}
		c.replyResult(ctx, topic, msg.ID, true)
		updated := p
		c.emit(Event{Kind: EventPairingUpdated, Pairing: &updated})
	case kind == topicPairing && msg.Method == MethodPairingDelete:
		reason := decodeReason(msg.Params)
		c.replyResult(ctx, topic, msg.ID, true)
		if p, ok := c.removePairing(topic); ok {
			c.emit(Event{Kind: EventPairingDeleted, Pairing: &p, Reason: &reason})
		}
	case kind == topicSession && msg.Method == MethodSessionDelete:
		reason := decodeReason(msg.Params)
		c.replyResult(ctx, topic, msg.ID, true)
		if s, ok := c.removeSession(topic); ok {
			c.logger.Info().Str("session", shortTopic(topic)).Int("code", reason.Code).Msg("session deleted by peer")
			c.emit(Event{Kind: EventSessionDeleted, Session: &s, Reason: &reason})
		}
	case msg.Method == MethodPairingPing || msg.Method == MethodSessionPing:
		c.replyResult(ctx, topic, msg.ID, true)
	default:
		c.replyError(ctx, topic, msg.ID, -32601, "method not found")
	}
}

func (c *Client) replyResult(ctx context.Context, topic string, id uint64, result any) {
	msg, err := jsonrpc.NewResult(id, result)
	if err != nil {
		return
	}
	if err := c.publishSealed(ctx, topic, msg); err != nil {
		c.logger.Debug().Err(err).Msg("reply failed")
	}
}

func (c *Client) replyError(ctx context.Context, topic string, id uint64, code int, message string) {
	if err := c.publishSealed(ctx, topic, jsonrpc.NewError(id, code, message)); err != nil {
		c.logger.Debug().Err(err).Msg("error reply failed")
	}
}

func (c *Client) removeSession(topic string) (Session, bool) {
	c.mu.Lock()
	s, ok := c.sessions[topic]
	if ok {
		delete(c.sessions, topic)
		delete(c.topics, topic)
	}
	c.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	c.dropTopic(topic)
	return s, true
}

func (c *Client) removePairing(topic string) (Pairing, bool) {
	c.mu.Lock()
	p, ok := c.pairings[topic]
	if ok {
		delete(c.pairings, topic)
		delete(c.topics, topic)
	}
	c.mu.Unlock()
	if !ok {
		return Pairing{}, false
	}
	c.dropTopic(topic)
	return p, true
}

func (c *Client) dropTopic(topic string) {
	c.keys.Delete(topic)
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	if err := c.transport.Unsubscribe(ctx, topic); err != nil && !errors.Is(err, relay.ErrNotSubscribed) {
		c.logger.Debug().Err(err).Str("topic", shortTopic(topic)).Msg("unsubscribe failed")
	}
	if err := c.persist(); err != nil {
		c.logger.Warn().Err(err).Msg("persist after topic drop failed")
	}
}

func (c *Client) persist() error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	c.mu.Lock()
	snap := snapshot{
		Pairings: make([]Pairing, 0, len(c.pairings)),
		Sessions: make([]Session, 0, len(c.sessions)),
		Keys:     make(map[string]string),
	}
	for _, p := range c.pairings {
		snap.Pairings = append(snap.Pairings, p)
	}
	for _, s := range c.sessions {
		snap.Sessions = append(snap.Sessions, s)
	}
	c.mu.Unlock()
	sort.Slice(snap.Pairings, func(i, j int) bool { return snap.Pairings[i].CreatedAt.Before(snap.Pairings[j].CreatedAt) })
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].CreatedAt.Before(snap.Sessions[j].CreatedAt) })

	exported := c.keys.Export()
	for _, p := range snap.Pairings {
		if k, ok := exported[p.Topic]; ok {
			snap.Keys[p.Topic] = k
		}
	}
	for _, s := range snap.Sessions {
		if k, ok := exported[s.Topic]; ok {
			snap.Keys[s.Topic] = k
		}
	}
	return c.store.save(snap)
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func decodeReason(raw json.RawMessage) Reason {
	var p DeleteParams
	if err := json.Unmarshal(raw, &p); err != nil || p.Reason.Code == 0 {
		return ReasonUnknown
	}
	return p.Reason
}

func shortTopic(topic string) string {
	if len(topic) <= 12 {
		return topic
	}
	return topic[:12]
}
