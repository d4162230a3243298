package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
	"github.com/AquaToken/dao-aquarius-sub003/internal/ledger"
	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/AquaToken/dao-aquarius-sub003/internal/observability"
	"github.com/AquaToken/dao-aquarius-sub003/internal/signclient"
	"github.com/AquaToken/dao-aquarius-sub003/internal/ui"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	MethodSignXDR          = "stellar_signXDR"
	MethodSignAndSubmitXDR = "stellar_signAndSubmitXDR"

	DefaultChainID     = "stellar:pubnet"
	DefaultMaxPairings = 3
	DefaultSettleDelay = 500 * time.Millisecond

	canceledByUserText     = "Connection canceled by the user"
	moreSignaturesText     = "More signatures required to complete the transaction"
	proposalReleaseTimeout = 10 * time.Second
)

var (
	ErrFactoryRequired   = errors.New("session: client factory required")
	ErrPresenterRequired = errors.New("session: presenter required")
	ErrNoSession         = errors.New("session: no active session")
	ErrMalformedAccount  = errors.New("session: malformed account")
	ErrMissingSignedXDR  = errors.New("session: wallet response has no signedXDR")
	ErrUnexpectedStatus  = errors.New("session: unexpected submit status")
)

// SubmitStatus is the status discriminator of a sign-and-submit result.
type SubmitStatus string

const (
	SubmitSuccess SubmitStatus = "success"
	// SubmitPending means the transaction needs more co-signers.
	SubmitPending SubmitStatus = "pending"
)

// SubmitResult is the raw wallet answer to a sign-and-submit request.
type SubmitResult struct {
	Status SubmitStatus    `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

type Options struct {
	Factory     ClientFactory
	Presenter   ui.Presenter
	Metadata    appmeta.Metadata
	ChainID     string
	MaxPairings int
	SettleDelay time.Duration
	// Settle replaces awaitClientSettle when set.
	Settle func(ctx context.Context) error
}

// Snapshot is a point-in-time view of the Manager.
type Snapshot struct {
	State        string            `json:"state"`
	PublicKey    string            `json:"public_key,omitempty"`
	SessionTopic string            `json:"session_topic,omitempty"`
	PairingTopic string            `json:"pairing_topic,omitempty"`
	Accounts     []string          `json:"accounts,omitempty"`
	Peer         *appmeta.Metadata `json:"peer,omitempty"`
}

// active binds a session to the peer it was negotiated with. It is replaced
// as a whole, never field by field.
type active struct {
	session   signclient.Session
	peer      appmeta.Metadata
	publicKey string
}

// Manager owns the client handle and the current session.
type Manager struct {
	opts   Options
	bus    *Bus
	logger zerolog.Logger

	initMu sync.Mutex

	mu          sync.Mutex
	client      Client
	unsubscribe func()
	state       State
	current     *active
	// peer is the latest peer metadata seen during negotiation.
	peer           *appmeta.Metadata
	createdPairing string
}

func New(opts Options) (*Manager, error) {
	if opts.Factory == nil {
		return nil, ErrFactoryRequired
	}
	if opts.Presenter == nil {
		return nil, ErrPresenterRequired
	}
	if strings.TrimSpace(opts.ChainID) == "" {
		opts.ChainID = DefaultChainID
	}
	if opts.MaxPairings <= 0 {
		opts.MaxPairings = DefaultMaxPairings
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Settle == nil {
		delay := opts.SettleDelay
		opts.Settle = func(ctx context.Context) error { return awaitClientSettle(ctx, delay) }
	}
	return &Manager{
		opts:   opts,
		bus:    NewBus(),
		logger: logging.Component("session"),
		state:  StateIdle,
	}, nil
}

// awaitClientSettle waits out the window right after client creation in
// which the client's pairing and session registries are not yet reliable.
// It runs once per client.
func awaitClientSettle(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn for login/logout events.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.bus.Subscribe(fn)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PublicKey returns the account key of the active session, if any.
func (m *Manager) PublicKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.publicKey
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{State: m.state.String()}
	if m.peer != nil {
		peer := *m.peer
		snap.Peer = &peer
	}
	if m.current != nil {
		snap.PublicKey = m.current.publicKey
		snap.SessionTopic = m.current.session.Topic
		snap.PairingTopic = m.current.session.PairingTopic
		snap.Accounts = append([]string(nil), m.current.session.Accounts...)
	}
	return snap
}

// Pairings lists the client's stored pairings, most recent first. It is
// empty before Initialize.
func (m *Manager) Pairings() []signclient.Pairing {
	client := m.currentClient()
	if client == nil {
		return nil
	}
	list := client.Pairings()
	out := make([]signclient.Pairing, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out
}

// Initialize creates the client once and restores its latest session. It
// reports whether a session was restored and is a no-op returning false
// once a client exists.
func (m *Manager) Initialize(ctx context.Context) (bool, error) {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.currentClient() != nil {
		return false, nil
	}

	client, err := m.opts.Factory(ctx)
	if err != nil {
		return false, fmt.Errorf("session: create client: %w", err)
	}
	unsubscribe := client.Subscribe(m.onClientEvent)
	m.mu.Lock()
	m.client = client
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	if err := m.opts.Settle(ctx); err != nil {
		return false, err
	}

	topics := client.SessionTopics()
	if len(topics) == 0 {
		m.logger.Debug().Msg("no session to restore")
		return false, nil
	}
	s, ok := client.Session(topics[len(topics)-1])
	if !ok {
		return false, nil
	}
	if err := m.activate(s, triggerRestored); err != nil {
		return false, err
	}
	m.logger.Info().Str("session", s.Topic).Str("peer", s.Peer.Name).Msg("session restored")
	return true, nil
}

// Login restores a session or starts a new one. With stored pairings it
// asks the user to pick one and returns nil if that choice is dismissed.
func (m *Manager) Login(ctx context.Context) error {
	restored, err := m.Initialize(ctx)
	if err != nil {
		return err
	}
	if restored {
		return nil
	}
	client := m.currentClient()

	if err := m.evictPairings(ctx, client); err != nil {
		return err
	}
	pairings := m.Pairings()
	if len(pairings) == 0 {
		return m.Connect(ctx, nil)
	}

	options := make([]ui.PairingOption, 0, len(pairings))
	for _, p := range pairings {
		options = append(options, ui.PairingOption{
			Topic:     p.Topic,
			Name:      p.Peer.Name,
			Icon:      p.Peer.Icon(),
			URL:       p.Peer.URL,
			CreatedAt: p.CreatedAt,
		})
	}
	var res ui.ModalResult
	select {
	case res = <-m.opts.Presenter.OpenModal(ui.ModalPairingSelect, ui.PairingSelectParams{Pairings: options}):
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.Err != nil {
		return res.Err
	}
	if !res.Confirmed {
		m.logger.Debug().Msg("pairing selection dismissed")
		return nil
	}
	topic, _ := res.Value.(string)
	if topic == "" {
		return m.Connect(ctx, nil)
	}
	for _, p := range pairings {
		if p.Topic == topic {
			pairing := p
			return m.Connect(ctx, &pairing)
		}
	}
	return fmt.Errorf("%w: %s", signclient.ErrPairingNotFound, topic)
}

// evictPairings keeps the MaxPairings most recent pairings and deletes the
// rest concurrently.
func (m *Manager) evictPairings(ctx context.Context, client Client) error {
	pairings := client.Pairings()
	if len(pairings) <= m.opts.MaxPairings {
		return nil
	}
	stale := pairings[:len(pairings)-m.opts.MaxPairings]
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range stale {
		topic := p.Topic
		g.Go(func() error {
			return client.DeletePairing(gctx, topic, signclient.ReasonPairingDeleted)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("session: evict pairings: %w", err)
	}
	observability.RecordEvictedPairings(len(stale))
	m.logger.Info().Int("evicted", len(stale)).Int("kept", m.opts.MaxPairings).Msg("stale pairings deleted")
	return nil
}

// Connect negotiates a new session, reusing pairing when given. Benign
// failures return nil; anything else is toasted and returned.
func (m *Manager) Connect(ctx context.Context, pairing *signclient.Pairing) error {
	if _, err := m.Initialize(ctx); err != nil {
		return err
	}
	client := m.currentClient()
	reused := pairing != nil

	params := signclient.ConnectParams{
		Metadata: m.opts.Metadata,
		Permissions: signclient.Permissions{
			Chains:  []string{m.opts.ChainID},
			Methods: []string{MethodSignXDR, MethodSignAndSubmitXDR},
		},
	}
	if reused {
		params.PairingTopic = pairing.Topic
		m.fire(triggerConnectReuse)
		m.opts.Presenter.OpenModal(ui.ModalConnecting, ui.ConnectingParams{
			Name: pairing.Peer.Name,
			Icon: pairing.Peer.Icon(),
		})
	} else {
		m.fire(triggerConnectNew)
	}

	s, err := client.Connect(ctx, params)
	if err != nil {
		return m.connectFailed(err, reused)
	}
	if err := m.activate(s, triggerSettled); err != nil {
		return m.connectFailed(err, reused)
	}
	if reused {
		if err := client.UpdatePairingMetadata(pairing.Topic, s.Peer); err != nil {
			m.logger.Warn().Err(err).Str("pairing", pairing.Topic).Msg("pairing metadata not saved")
		}
	}
	observability.RecordConnect("success", reused)
	m.logger.Info().Str("session", s.Topic).Str("peer", s.Peer.Name).Bool("reused", reused).Msg("session established")
	return nil
}

func (m *Manager) connectFailed(err error, reused bool) error {
	m.mu.Lock()
	if m.current != nil {
		m.transitionLocked(triggerSettled)
		m.mu.Unlock()
		observability.RecordConnect("superseded", reused)
		m.logger.Debug().Err(err).Msg("connect error ignored, session exists")
		return nil
	}
	m.peer = nil
	m.createdPairing = ""
	m.transitionLocked(triggerConnectFailed)
	m.mu.Unlock()

	if signclient.IsUnknown(err) {
		observability.RecordConnect("abandoned", reused)
		m.logger.Debug().Err(err).Msg("connect abandoned")
		return nil
	}

	text := err.Error()
	if signclient.IsUserRejected(err) {
		text = canceledByUserText
	}
	observability.RecordConnect("failed", reused)
	m.logger.Warn().Err(err).Bool("reused", reused).Msg("connect failed")
	m.opts.Presenter.Toast(ui.ToastError, text)
	m.opts.Presenter.CloseURI()
	m.opts.Presenter.CloseAllModals()
	return err
}

// activate stores s with its peer, emits login and closes interactions.
func (m *Manager) activate(s signclient.Session, t trigger) error {
	if len(s.Accounts) == 0 {
		return signclient.ErrNoAccountsApproved
	}
	publicKey, err := accountPublicKey(s.Accounts[0])
	if err != nil {
		return err
	}
	peer := s.Peer
	m.mu.Lock()
	m.current = &active{session: s, peer: peer, publicKey: publicKey}
	m.peer = &peer
	m.createdPairing = ""
	m.transitionLocked(t)
	m.mu.Unlock()

	m.bus.Publish(LoginEvent{PublicKey: publicKey, Metadata: peer})
	m.opts.Presenter.CloseAllModals()
	return nil
}

// SignTx asks the wallet to sign tx and returns the signed envelope.
func (m *Manager) SignTx(ctx context.Context, tx ledger.Transaction) (string, error) {
	var signed string
	err := m.request(ctx, tx, MethodSignXDR, func(raw json.RawMessage) (ui.Outcome, error) {
		var out struct {
			SignedXDR string `json:"signedXDR"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return ui.OutcomeFailed, fmt.Errorf("session: decode sign result: %w", err)
		}
		if out.SignedXDR == "" {
			return ui.OutcomeFailed, ErrMissingSignedXDR
		}
		signed = out.SignedXDR
		return ui.OutcomeSuccess, nil
	})
	if err != nil {
		return "", err
	}
	return signed, nil
}

// SignAndSubmitTx asks the wallet to sign and submit tx. A pending status
// is not an error; it raises a toast that more signatures are needed.
func (m *Manager) SignAndSubmitTx(ctx context.Context, tx ledger.Transaction) (SubmitResult, error) {
	var res SubmitResult
	err := m.request(ctx, tx, MethodSignAndSubmitXDR, func(raw json.RawMessage) (ui.Outcome, error) {
		decoded, err := decodeSubmit(raw)
		if err != nil {
			return ui.OutcomeFailed, err
		}
		res = decoded
		if res.Status == SubmitPending {
			return ui.OutcomePending, nil
		}
		return ui.OutcomeSuccess, nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if res.Status == SubmitPending {
		m.opts.Presenter.Toast(ui.ToastInfo, moreSignaturesText)
	}
	return res, nil
}

// decodeSubmit accepts only the success and pending statuses.
func decodeSubmit(raw json.RawMessage) (SubmitResult, error) {
	var res SubmitResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return SubmitResult{}, fmt.Errorf("session: decode submit result: %w", err)
	}
	switch res.Status {
	case SubmitSuccess, SubmitPending:
	default:
		return SubmitResult{}, fmt.Errorf("%w: %q", ErrUnexpectedStatus, res.Status)
	}
	res.Raw = append(json.RawMessage(nil), raw...)
	return res, nil
}

// request sends method for tx on the held session. accept validates the
// wallet reply before the request interaction is resolved.
func (m *Manager) request(ctx context.Context, tx ledger.Transaction, method string, accept func(json.RawMessage) (ui.Outcome, error)) error {
	m.mu.Lock()
	client, cur := m.client, m.current
	m.mu.Unlock()
	if client == nil || cur == nil {
		return ErrNoSession
	}
	envelope, err := tx.EnvelopeXDR()
	if err != nil {
		return fmt.Errorf("session: serialize transaction: %w", err)
	}
	hash := ledger.HashHex(tx)

	resolved := make(chan ui.RequestResolution, 1)
	m.opts.Presenter.OpenModal(ui.ModalRequest, ui.RequestParams{
		PeerName: cur.peer.Name,
		Method:   method,
		TxHash:   hash,
		Resolved: resolved,
	})

	start := time.Now()
	raw, err := client.Request(ctx, signclient.RequestParams{
		Topic:   cur.session.Topic,
		ChainID: m.opts.ChainID,
		Method:  method,
		Params:  map[string]string{"xdr": envelope},
	})
	outcome := ui.OutcomeFailed
	switch {
	case err == nil:
		outcome, err = accept(raw)
	case signclient.IsUserRejected(err):
		outcome = ui.OutcomeRejected
	}
	resolved <- ui.RequestResolution{Outcome: outcome, Err: err}
	observability.RecordSignRequest(method, string(outcome), time.Since(start))
	m.logger.Info().
		Str("method", method).
		Str("tx", hash).
		Str("outcome", string(outcome)).
		Dur("took", time.Since(start)).
		Msg("request resolved")
	return err
}

// Logout disconnects the active session. Pairings are kept for reuse.
// Local state is cleared by the resulting session-deleted event.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	client, cur := m.client, m.current
	m.mu.Unlock()
	if client == nil || cur == nil {
		return nil
	}
	return client.Disconnect(ctx, cur.session.Topic, signclient.ReasonUserDisconnected)
}

// Close detaches from and closes the client.
func (m *Manager) Close() error {
	m.mu.Lock()
	client, unsubscribe := m.client, m.unsubscribe
	m.mu.Unlock()
	if client == nil {
		return nil
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	return client.Close()
}

func (m *Manager) onClientEvent(ev signclient.Event) {
	switch ev.Kind {
	case signclient.EventPairingCreated:
		if ev.Pairing != nil {
			m.onPairingCreated(*ev.Pairing)
		}
	case signclient.EventPairingUpdated:
		if ev.Pairing != nil {
			m.onPairingUpdated(*ev.Pairing)
		}
	case signclient.EventSessionDeleted:
		if ev.Session != nil {
			m.onSessionDeleted(*ev.Session)
		}
	case signclient.EventPairingProposal:
		if ev.Proposal != nil {
			m.onProposal(*ev.Proposal)
		}
	}
}

func (m *Manager) onPairingCreated(p signclient.Pairing) {
	peer := p.Peer
	m.mu.Lock()
	m.peer = &peer
	m.createdPairing = p.Topic
	m.transitionLocked(triggerPairingCreated)
	m.mu.Unlock()
}

// onPairingUpdated opens the connecting interaction for the first update of
// a just-created pairing. Later updates only refresh peer metadata.
func (m *Manager) onPairingUpdated(p signclient.Pairing) {
	peer := p.Peer
	m.mu.Lock()
	m.peer = &peer
	handshake := false
	if p.Topic == m.createdPairing {
		if _, ok := nextState(m.state, triggerPairingUpdated); ok {
			handshake = true
			m.createdPairing = ""
			m.transitionLocked(triggerPairingUpdated)
		}
	}
	m.mu.Unlock()
	if !handshake {
		return
	}
	m.opts.Presenter.CloseURI()
	m.opts.Presenter.OpenModal(ui.ModalConnecting, ui.ConnectingParams{Name: peer.Name, Icon: peer.Icon()})
}

// onSessionDeleted clears state only for the held session. Topic equality
// is the only check.
func (m *Manager) onSessionDeleted(s signclient.Session) {
	m.mu.Lock()
	if m.current == nil || m.current.session.Topic != s.Topic {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.peer = nil
	m.transitionLocked(triggerSessionDeleted)
	m.mu.Unlock()
	m.logger.Info().Str("session", s.Topic).Msg("session deleted")
	m.bus.Publish(LogoutEvent{})
}

func (m *Manager) onProposal(p signclient.Proposal) {
	m.opts.Presenter.ShowURI(p.URI, func() { m.abandonProposal(p) })
}

// abandonProposal rejects a proposal the user walked away from and releases
// its proposer key.
func (m *Manager) abandonProposal(p signclient.Proposal) {
	client := m.currentClient()
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), proposalReleaseTimeout)
	defer cancel()
	if err := client.Reject(ctx, p, signclient.ReasonUnknown); err != nil {
		m.logger.Debug().Err(err).Msg("proposal reject failed")
	}
	client.ReleaseKey(p.ProposerPublicKey)
}

func (m *Manager) fire(t trigger) {
	m.mu.Lock()
	m.transitionLocked(t)
	m.mu.Unlock()
}

func (m *Manager) transitionLocked(t trigger) {
	to, ok := nextState(m.state, t)
	if !ok {
		m.logger.Trace().Str("state", m.state.String()).Str("trigger", string(t)).Msg("trigger absorbed")
		return
	}
	if to != m.state {
		m.logger.Debug().Str("from", m.state.String()).Str("to", to.String()).Str("trigger", string(t)).Msg("state change")
	}
	m.state = to
}

func (m *Manager) currentClient() Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// accountPublicKey extracts the key from a chain:network:publicKey account.
func accountPublicKey(account string) (string, error) {
	parts := strings.Split(account, ":")
	if len(parts) != 3 || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedAccount, account)
	}
	return parts[2], nil
}
