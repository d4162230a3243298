// Package walletsim is a scriptable wallet that speaks the pairing protocol
// over a relay Transport. Tests drive it against a signclient.Client.
package walletsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/jsonrpc"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/keychain"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/relay"
	"github.com/AquaToken/dao-aquarius-sub003/internal/signclient"
	"github.com/rs/zerolog"
)

const (
	MethodSignXDR          = "stellar_signXDR"
	MethodSignAndSubmitXDR = "stellar_signAndSubmitXDR"
)

const defaultReplyTimeout = 5 * time.Second

var ErrUnknownTopic = errors.New("walletsim: unknown topic")

// SignFunc answers one session payload. A non-nil Reason is sent back as a
// JSON-RPC error.
type SignFunc func(method string, params json.RawMessage) (any, *signclient.Reason)

// Request is a session payload the wallet received.
type Request struct {
	Topic   string
	ChainID string
	Method  string
	Params  json.RawMessage
}

type Options struct {
	Metadata appmeta.Metadata
	Accounts []string
	Sign     SignFunc
}

type session struct {
	topic   string
	pairing string
	peer    appmeta.Metadata
}

type Wallet struct {
	transport relay.Transport
	keys      *keychain.Keychain
	ids       *jsonrpc.IDs
	logger    zerolog.Logger

	mu           sync.Mutex
	meta         appmeta.Metadata
	accounts     []string
	sign         SignFunc
	rejectReason *signclient.Reason
	pairings     map[string]bool
	sessions     map[string]session
	requests     []Request
	proposals    []signclient.SessionProposeParams

	done chan struct{}
	once sync.Once
}

// New attaches a wallet to transport and starts its read loop.
func New(transport relay.Transport, opts Options) *Wallet {
	if opts.Sign == nil {
		opts.Sign = EchoSigner
	}
	w := &Wallet{
		transport: transport,
		keys:      keychain.New(),
		ids:       jsonrpc.NewIDs(),
		logger:    logging.Component("walletsim"),
		meta:      opts.Metadata,
		accounts:  append([]string(nil), opts.Accounts...),
		sign:      opts.Sign,
		pairings:  make(map[string]bool),
		sessions:  make(map[string]session),
		done:      make(chan struct{}),
	}
	go w.readLoop()
	return w
}

// EchoSigner returns the submitted envelope as signedXDR for sign requests
// and status "success" for sign-and-submit.
func EchoSigner(method string, params json.RawMessage) (any, *signclient.Reason) {
	var p struct {
		XDR string `json:"xdr"`
	}
	_ = json.Unmarshal(params, &p)
	switch method {
	case MethodSignXDR:
		return map[string]string{"signedXDR": p.XDR}, nil
	case MethodSignAndSubmitXDR:
		return map[string]string{"status": "success"}, nil
	default:
		r := signclient.Reason{Code: -32601, Message: "unsupported method"}
		return nil, &r
	}
}

func (w *Wallet) Close() {
	w.once.Do(func() {
		close(w.done)
		_ = w.transport.Close()
	})
}

// SetSigner replaces the payload handler.
func (w *Wallet) SetSigner(fn SignFunc) {
	w.mu.Lock()
	w.sign = fn
	w.mu.Unlock()
}

// RejectSessions makes the wallet answer session proposals with reason.
// Nil restores approval.
func (w *Wallet) RejectSessions(reason *signclient.Reason) {
	w.mu.Lock()
	w.rejectReason = reason
	w.mu.Unlock()
}

// Pair approves a proposal URI and, when the wallet has metadata, follows
// with a pairing update. It returns the pairing topic.
func (w *Wallet) Pair(ctx context.Context, uri string) (string, error) {
	parsed, err := signclient.ParseURI(uri)
	if err != nil {
		return "", err
	}
	peerPub, err := keychain.ParsePublicKey(parsed.PublicKey)
	if err != nil {
		return "", err
	}
	kp, err := keychain.GenerateKeyPair()
	if err != nil {
		return "", err
	}
	sym, err := keychain.DeriveSymKey(kp.Private, peerPub)
	if err != nil {
		return "", err
	}
	topic := keychain.TopicForKey(sym)
	w.keys.Set(topic, sym)
	if err := w.transport.Subscribe(ctx, topic); err != nil {
		return "", err
	}
	w.mu.Lock()
	w.pairings[topic] = true
	meta := w.meta
	w.mu.Unlock()

	approve, err := jsonrpc.NewRequest(w.ids.Next(), signclient.MethodPairingApprove, signclient.PairingApproveParams{
		Responder: signclient.PeerKey{PublicKey: kp.PublicHex()},
	})
	if err != nil {
		return "", err
	}
	if err := w.publishPlain(ctx, parsed.Topic, approve); err != nil {
		return "", err
	}
	if !meta.IsZero() {
		if err := w.UpdateMetadata(ctx, topic, meta); err != nil {
			return "", err
		}
	}
	return topic, nil
}

// RejectPairing declines a proposal URI.
func (w *Wallet) RejectPairing(ctx context.Context, uri string, reason signclient.Reason) error {
	parsed, err := signclient.ParseURI(uri)
	if err != nil {
		return err
	}
	msg, err := jsonrpc.NewRequest(w.ids.Next(), signclient.MethodPairingReject, signclient.PairingRejectParams{Reason: reason})
	if err != nil {
		return err
	}
	return w.publishPlain(ctx, parsed.Topic, msg)
}

// UpdateMetadata sends wc_pairingUpdate on a pairing topic.
func (w *Wallet) UpdateMetadata(ctx context.Context, pairingTopic string, meta appmeta.Metadata) error {
	msg, err := jsonrpc.NewRequest(w.ids.Next(), signclient.MethodPairingUpdate, signclient.PairingUpdateParams{
		State: signclient.PairingState{Metadata: meta},
	})
	if err != nil {
		return err
	}
	return w.publishSealed(ctx, pairingTopic, msg)
}

// DeleteSession ends a session from the wallet side.
func (w *Wallet) DeleteSession(ctx context.Context, topic string, reason signclient.Reason) error {
	w.mu.Lock()
	_, ok := w.sessions[topic]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	msg, err := jsonrpc.NewRequest(w.ids.Next(), signclient.MethodSessionDelete, signclient.DeleteParams{Reason: reason})
	if err != nil {
		return err
	}
	if err := w.publishSealed(ctx, topic, msg); err != nil {
		return err
	}
	w.mu.Lock()
	delete(w.sessions, topic)
	w.mu.Unlock()
	return nil
}

// Sessions lists the session topics the wallet currently holds.
func (w *Wallet) Sessions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.sessions))
	for topic := range w.sessions {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Requests returns every session payload received so far.
func (w *Wallet) Requests() []Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Request(nil), w.requests...)
}

// Proposals returns every session proposal received so far.
func (w *Wallet) Proposals() []signclient.SessionProposeParams {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]signclient.SessionProposeParams(nil), w.proposals...)
}

func (w *Wallet) readLoop() {
	msgs := w.transport.Messages()
	for {
		select {
		case <-w.done:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			w.handle(m)
		}
	}
}

func (w *Wallet) handle(m relay.Message) {
	key, ok := w.keys.Get(m.Topic)
	if !ok {
		return
	}
	plain, err := keychain.Open(key, m.Payload)
	if err != nil {
		w.logger.Debug().Err(err).Msg("undecryptable payload")
		return
	}
	msg, err := jsonrpc.Decode(plain)
	if err != nil || !msg.IsRequest() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultReplyTimeout)
	defer cancel()

	switch msg.Method {
	case signclient.MethodSessionPropose:
		w.onSessionPropose(ctx, m.Topic, msg)
	case signclient.MethodSessionPayload:
		w.onPayload(ctx, m.Topic, msg)
	case signclient.MethodSessionDelete:
		w.mu.Lock()
		delete(w.sessions, m.Topic)
		w.mu.Unlock()
		w.reply(ctx, m.Topic, msg.ID, true)
		w.keys.Delete(m.Topic)
		_ = w.transport.Unsubscribe(ctx, m.Topic)
	case signclient.MethodPairingDelete:
		w.mu.Lock()
		delete(w.pairings, m.Topic)
		w.mu.Unlock()
		w.reply(ctx, m.Topic, msg.ID, true)
		w.keys.Delete(m.Topic)
		_ = w.transport.Unsubscribe(ctx, m.Topic)
	case signclient.MethodPairingPing, signclient.MethodSessionPing:
		w.reply(ctx, m.Topic, msg.ID, true)
	default:
		_ = w.publishSealed(ctx, m.Topic, jsonrpc.NewError(msg.ID, -32601, "method not found"))
	}
}

func (w *Wallet) onSessionPropose(ctx context.Context, pairingTopic string, msg jsonrpc.Message) {
	var params signclient.SessionProposeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		_ = w.publishSealed(ctx, pairingTopic, jsonrpc.NewError(msg.ID, -32602, "invalid params"))
		return
	}
	w.mu.Lock()
	w.proposals = append(w.proposals, params)
	reject := w.rejectReason
	meta := w.meta
	accounts := append([]string(nil), w.accounts...)
	w.mu.Unlock()
	if reject != nil {
		_ = w.publishSealed(ctx, pairingTopic, jsonrpc.NewError(msg.ID, reject.Code, reject.Message))
		return
	}

	peerPub, err := keychain.ParsePublicKey(params.Proposer.PublicKey)
	if err != nil {
		_ = w.publishSealed(ctx, pairingTopic, jsonrpc.NewError(msg.ID, -32602, err.Error()))
		return
	}
	kp, err := keychain.GenerateKeyPair()
	if err != nil {
		return
	}
	sym, err := keychain.DeriveSymKey(kp.Private, peerPub)
	if err != nil {
		return
	}
	topic := keychain.TopicForKey(sym)
	w.keys.Set(topic, sym)
	if err := w.transport.Subscribe(ctx, topic); err != nil {
		return
	}
	w.mu.Lock()
	w.sessions[topic] = session{topic: topic, pairing: pairingTopic, peer: params.Proposer.Metadata}
	w.mu.Unlock()
	w.reply(ctx, pairingTopic, msg.ID, signclient.SessionApproveResult{
		Responder: signclient.PeerInfo{PublicKey: kp.PublicHex(), Metadata: meta},
		State:     signclient.SessionState{Accounts: accounts},
	})
}

func (w *Wallet) onPayload(ctx context.Context, topic string, msg jsonrpc.Message) {
	var params struct {
		ChainID string `json:"chainId"`
		Request struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		} `json:"request"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		_ = w.publishSealed(ctx, topic, jsonrpc.NewError(msg.ID, -32602, "invalid params"))
		return
	}
	w.mu.Lock()
	w.requests = append(w.requests, Request{
		Topic:   topic,
		ChainID: params.ChainID,
		Method:  params.Request.Method,
		Params:  params.Request.Params,
	})
	sign := w.sign
	w.mu.Unlock()

	result, reason := sign(params.Request.Method, params.Request.Params)
	if reason != nil {
		_ = w.publishSealed(ctx, topic, jsonrpc.NewError(msg.ID, reason.Code, reason.Message))
		return
	}
	w.reply(ctx, topic, msg.ID, result)
}

func (w *Wallet) reply(ctx context.Context, topic string, id uint64, result any) {
	msg, err := jsonrpc.NewResult(id, result)
	if err != nil {
		return
	}
	if err := w.publishSealed(ctx, topic, msg); err != nil {
		w.logger.Debug().Err(err).Msg("reply failed")
	}
}

func (w *Wallet) publishSealed(ctx context.Context, topic string, msg jsonrpc.Message) error {
	key, ok := w.keys.Get(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	sealed, err := keychain.Seal(key, data)
	if err != nil {
		return err
	}
	return w.transport.Publish(ctx, topic, sealed)
}

func (w *Wallet) publishPlain(ctx context.Context, topic string, msg jsonrpc.Message) error {
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	return w.transport.Publish(ctx, topic, string(data))
}
