package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
	"github.com/AquaToken/dao-aquarius-sub003/internal/ledger"
	"github.com/AquaToken/dao-aquarius-sub003/internal/signclient"
	"github.com/AquaToken/dao-aquarius-sub003/internal/testutil/testlog"
	"github.com/AquaToken/dao-aquarius-sub003/internal/ui"
)

type harness struct {
	m         *Manager
	client    *fakeClient
	presenter *ui.Recorder
	factory   int
	settles   int

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, client *fakeClient) *harness {
	t.Helper()
	h := &harness{client: client, presenter: ui.NewRecorder()}
	meta, err := appmeta.For(appmeta.TargetGovernance)
	if err != nil {
		t.Fatalf("unexpected metadata error: %v", err)
	}
	m, err := New(Options{
		Factory: func(context.Context) (Client, error) {
			h.factory++
			return client, nil
		},
		Presenter: h.presenter,
		Metadata:  meta,
		Settle: func(context.Context) error {
			h.settles++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected new error: %v", err)
	}
	h.m = m
	m.Subscribe(func(ev Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) recorded() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func mustEnvelope(t *testing.T) *ledger.RawEnvelope {
	t.Helper()
	env, err := ledger.ParseEnvelope("AAAAAgAAAAA=")
	if err != nil {
		t.Fatalf("unexpected envelope error: %v", err)
	}
	return env
}

func TestNewRequiresFactoryAndPresenter(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Options{Presenter: ui.NewRecorder()}); !errors.Is(err, ErrFactoryRequired) {
		t.Fatalf("unexpected err: %v", err)
	}
	factory := func(context.Context) (Client, error) { return newFakeClient(), nil }
	if _, err := New(Options{Factory: factory}); !errors.Is(err, ErrPresenterRequired) {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestInitializeRestoresLatestSession(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	s := fakeSession("s1")
	client.sessions[s.Topic] = s
	h := newHarness(t, client)

	restored, err := h.m.Initialize(context.Background())
	if err != nil || !restored {
		t.Fatalf("unexpected initialize: restored=%v err=%v", restored, err)
	}
	if h.m.State() != StateActive {
		t.Fatalf("unexpected state: %v", h.m.State())
	}
	events := h.recorded()
	if len(events) != 1 {
		t.Fatalf("unexpected events: %+v", events)
	}
	login, ok := events[0].(LoginEvent)
	if !ok || login.PublicKey != "GPUBLICs1" || login.Metadata.Name != walletPeer.Name {
		t.Fatalf("unexpected login event: %+v", events[0])
	}
	if h.presenter.Count("close_all", "") != 1 {
		t.Fatalf("expected modals to be closed after restore")
	}

	restored, err = h.m.Initialize(context.Background())
	if err != nil || restored {
		t.Fatalf("second initialize must be a no-op: restored=%v err=%v", restored, err)
	}
	if h.factory != 1 || h.settles != 1 {
		t.Fatalf("unexpected factory=%d settles=%d", h.factory, h.settles)
	}
}

func TestInitializeWithoutSession(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, newFakeClient())
	restored, err := h.m.Initialize(context.Background())
	if err != nil || restored {
		t.Fatalf("unexpected initialize: restored=%v err=%v", restored, err)
	}
	if h.m.State() != StateIdle || len(h.recorded()) != 0 {
		t.Fatalf("unexpected state=%v events=%+v", h.m.State(), h.recorded())
	}
}

func TestInitializeFactoryError(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("boom")
	m, err := New(Options{
		Factory:   func(context.Context) (Client, error) { return nil, boom },
		Presenter: ui.NewRecorder(),
	})
	if err != nil {
		t.Fatalf("unexpected new error: %v", err)
	}
	if _, err := m.Initialize(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestLoginWithoutPairingsConnectsDirectly(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, newFakeClient())
	if err := h.m.Login(context.Background()); err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if n := h.presenter.Count("open", ui.ModalPairingSelect); n != 0 {
		t.Fatalf("pairing selection must not open, opened %d", n)
	}
	if len(h.client.connects) != 1 || h.client.connects[0].PairingTopic != "" {
		t.Fatalf("unexpected connects: %+v", h.client.connects)
	}
	c := h.client.connects[0]
	if c.Metadata.Name != "Aquarius Governance" || c.Permissions.Chains[0] != DefaultChainID {
		t.Fatalf("unexpected connect params: %+v", c)
	}
	if len(c.Permissions.Methods) != 2 || c.Permissions.Methods[0] != MethodSignXDR || c.Permissions.Methods[1] != MethodSignAndSubmitXDR {
		t.Fatalf("unexpected methods: %v", c.Permissions.Methods)
	}
	if h.m.State() != StateActive || h.m.PublicKey() != "GPUBLICs1" {
		t.Fatalf("unexpected state=%v key=%q", h.m.State(), h.m.PublicKey())
	}
}

func TestLoginEvictsOldestPairingsAndListsRecentFirst(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	client.addPairings(5)
	h := newHarness(t, client)
	h.presenter.Script(ui.ModalPairingSelect, ui.ModalResult{Confirmed: false})

	if err := h.m.Login(context.Background()); err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if len(client.deleted) != 2 {
		t.Fatalf("unexpected deletions: %v", client.deleted)
	}
	gone := map[string]bool{client.deleted[0]: true, client.deleted[1]: true}
	if !gone["pa"] || !gone["pb"] {
		t.Fatalf("oldest pairings not evicted: %v", client.deleted)
	}
	remaining := client.Pairings()
	if len(remaining) != 3 {
		t.Fatalf("unexpected remaining: %+v", remaining)
	}

	var params ui.PairingSelectParams
	for _, c := range h.presenter.Calls() {
		if c.Op == "open" && c.Kind == ui.ModalPairingSelect {
			params = c.Params.(ui.PairingSelectParams)
		}
	}
	if len(params.Pairings) != 3 {
		t.Fatalf("unexpected selection: %+v", params)
	}
	want := []string{"pe", "pd", "pc"}
	for i, opt := range params.Pairings {
		if opt.Topic != want[i] {
			t.Fatalf("selection not most-recent first: %+v", params.Pairings)
		}
	}
	if len(client.connects) != 0 {
		t.Fatalf("dismissed selection must not connect: %+v", client.connects)
	}
}

func TestLoginSelectionReusesPairing(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	client.addPairings(2)
	h := newHarness(t, client)
	h.presenter.Script(ui.ModalPairingSelect, ui.ModalResult{Confirmed: true, Value: "pa"})

	if err := h.m.Login(context.Background()); err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if len(client.connects) != 1 || client.connects[0].PairingTopic != "pa" {
		t.Fatalf("unexpected connects: %+v", client.connects)
	}
	var connecting ui.ConnectingParams
	for _, c := range h.presenter.Calls() {
		if c.Op == "open" && c.Kind == ui.ModalConnecting {
			connecting = c.Params.(ui.ConnectingParams)
		}
	}
	if connecting.Name != "wallet a" {
		t.Fatalf("connecting modal must show stored peer: %+v", connecting)
	}
	if got := client.updated["pa"]; got.Name != walletPeer.Name {
		t.Fatalf("reused pairing metadata not saved: %+v", client.updated)
	}
}

func TestLoginSelectionNewPairing(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	client.addPairings(1)
	h := newHarness(t, client)
	h.presenter.Script(ui.ModalPairingSelect, ui.ModalResult{Confirmed: true, Value: ""})
	if err := h.m.Login(context.Background()); err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if len(client.connects) != 1 || client.connects[0].PairingTopic != "" {
		t.Fatalf("unexpected connects: %+v", client.connects)
	}
}

func TestPairingUpdatedOpensConnectingOncePerCreatedPairing(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	h := newHarness(t, client)
	if _, err := h.m.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	pairing := func(topic, name string) *signclient.Pairing {
		return &signclient.Pairing{Topic: topic, Peer: appmeta.Metadata{Name: name}}
	}
	created := func(topic string) {
		client.emit(signclient.Event{Kind: signclient.EventPairingCreated, Pairing: pairing(topic, "")})
	}
	updated := func(topic, name string) {
		client.emit(signclient.Event{Kind: signclient.EventPairingUpdated, Pairing: pairing(topic, name)})
	}

	updated("stale", "Stale")
	if n := h.presenter.Count("open", ui.ModalConnecting); n != 0 {
		t.Fatalf("update without create opened %d", n)
	}
	if h.m.Snapshot().Peer.Name != "Stale" {
		t.Fatalf("update must refresh peer metadata")
	}

	created("a")
	if h.m.State() != StatePairCreated {
		t.Fatalf("unexpected state: %v", h.m.State())
	}
	updated("other", "Other")
	if n := h.presenter.Count("open", ui.ModalConnecting); n != 0 {
		t.Fatalf("unrelated update opened %d", n)
	}
	updated("a", "Wallet A")
	updated("a", "Wallet A2")
	if n := h.presenter.Count("open", ui.ModalConnecting); n != 1 {
		t.Fatalf("expected exactly one connecting modal, got %d", n)
	}
	if h.m.State() != StateNegotiating {
		t.Fatalf("unexpected state: %v", h.m.State())
	}
	if h.presenter.Count("close_uri", "") != 1 {
		t.Fatalf("uri display must close on handshake update")
	}

	created("b")
	updated("b", "Wallet B")
	if n := h.presenter.Count("open", ui.ModalConnecting); n != 2 {
		t.Fatalf("expected a second connecting modal, got %d", n)
	}
}

func TestEventsDuringSettleAreHandled(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	presenter := ui.NewRecorder()
	var afterSettle State
	var m *Manager
	m, err := New(Options{
		Factory:   func(context.Context) (Client, error) { return client, nil },
		Presenter: presenter,
		Settle: func(context.Context) error {
			client.emit(signclient.Event{Kind: signclient.EventPairingCreated, Pairing: &signclient.Pairing{Topic: "early"}})
			client.emit(signclient.Event{Kind: signclient.EventPairingUpdated, Pairing: &signclient.Pairing{
				Topic: "early",
				Peer:  appmeta.Metadata{Name: "Early Wallet"},
			}})
			afterSettle = m.State()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected new error: %v", err)
	}
	if _, err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	if afterSettle != StateNegotiating {
		t.Fatalf("events during settle were not handled: state %v", afterSettle)
	}
	if n := presenter.Count("open", ui.ModalConnecting); n != 1 {
		t.Fatalf("expected connecting modal, got %d", n)
	}
	if peer := m.Snapshot().Peer; peer == nil || peer.Name != "Early Wallet" {
		t.Fatalf("unexpected peer: %+v", peer)
	}
}

func TestSessionDeletedForOtherTopicIgnored(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	s := fakeSession("s1")
	client.sessions[s.Topic] = s
	h := newHarness(t, client)
	if _, err := h.m.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	before := h.m.Snapshot()

	other := fakeSession("old")
	client.emit(signclient.Event{Kind: signclient.EventSessionDeleted, Session: &other})
	after := h.m.Snapshot()
	if after.State != before.State || after.SessionTopic != before.SessionTopic || after.Peer == nil {
		t.Fatalf("unrelated delete mutated state: before=%+v after=%+v", before, after)
	}
	if len(h.recorded()) != 1 {
		t.Fatalf("unexpected events: %+v", h.recorded())
	}

	client.emit(signclient.Event{Kind: signclient.EventSessionDeleted, Session: &s})
	snap := h.m.Snapshot()
	if snap.State != StateIdle.String() || snap.SessionTopic != "" || snap.Peer != nil {
		t.Fatalf("unexpected snapshot after delete: %+v", snap)
	}
	events := h.recorded()
	if _, ok := events[len(events)-1].(LogoutEvent); !ok {
		t.Fatalf("expected logout event, got %+v", events)
	}
}

func TestConnectUnknownErrorIsSilent(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	client.connectFn = func(ctx context.Context, p signclient.ConnectParams) (signclient.Session, error) {
		client.emit(signclient.Event{Kind: signclient.EventPairingCreated, Pairing: &signclient.Pairing{Topic: "x", Peer: walletPeer}})
		return signclient.Session{}, &signclient.ReasonError{Reason: signclient.ReasonUnknown}
	}
	h := newHarness(t, client)
	if err := h.m.Connect(context.Background(), nil); err != nil {
		t.Fatalf("unknown error must be suppressed: %v", err)
	}
	snap := h.m.Snapshot()
	if snap.Peer != nil || snap.State != StateIdle.String() {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if toasts := h.presenter.Toasts(ui.ToastError); len(toasts) != 0 {
		t.Fatalf("unexpected toasts: %v", toasts)
	}
}

func TestConnectFailureClosesModals(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		err  error
		text string
	}{
		{name: "generic", err: errors.New("relay unreachable"), text: "relay unreachable"},
		{name: "user rejected", err: &signclient.ReasonError{Reason: signclient.ReasonUserRejected}, text: canceledByUserText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeClient()
			client.connectFn = func(context.Context, signclient.ConnectParams) (signclient.Session, error) {
				return signclient.Session{}, tc.err
			}
			h := newHarness(t, client)
			if err := h.m.Connect(context.Background(), nil); !errors.Is(err, tc.err) {
				t.Fatalf("unexpected err: %v", err)
			}
			if h.presenter.Count("close_all", "") == 0 {
				t.Fatalf("closeAllModals not invoked")
			}
			toasts := h.presenter.Toasts(ui.ToastError)
			if len(toasts) != 1 || toasts[0] != tc.text {
				t.Fatalf("unexpected toasts: %v", toasts)
			}
			if h.m.Snapshot().Peer != nil {
				t.Fatalf("peer metadata must be cleared")
			}
		})
	}
}

func TestConnectErrorWithExistingSessionIsSuccess(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	s := fakeSession("s1")
	client.sessions[s.Topic] = s
	h := newHarness(t, client)
	if _, err := h.m.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	client.connectFn = func(context.Context, signclient.ConnectParams) (signclient.Session, error) {
		return signclient.Session{}, errors.New("late failure")
	}
	if err := h.m.Connect(context.Background(), nil); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if h.m.State() != StateActive || len(h.presenter.Toasts(ui.ToastError)) != 0 {
		t.Fatalf("unexpected state=%v toasts=%v", h.m.State(), h.presenter.Toasts(ui.ToastError))
	}
}

func activeHarness(t *testing.T) *harness {
	t.Helper()
	client := newFakeClient()
	s := fakeSession("s1")
	client.sessions[s.Topic] = s
	h := newHarness(t, client)
	if _, err := h.m.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	return h
}

func requestResolution(t *testing.T, p *ui.Recorder) ui.RequestResolution {
	t.Helper()
	for _, c := range p.Calls() {
		if c.Op == "open" && c.Kind == ui.ModalRequest {
			params := c.Params.(ui.RequestParams)
			if params.PeerName != walletPeer.Name {
				t.Fatalf("request modal must show peer name: %+v", params)
			}
			return <-params.Resolved
		}
	}
	t.Fatalf("request modal not opened")
	return ui.RequestResolution{}
}

func TestSignTxUnwrapsSignedXDR(t *testing.T) {
	testlog.Start(t)
	h := activeHarness(t)
	h.client.requestFn = func(p signclient.RequestParams) (json.RawMessage, error) {
		return json.RawMessage(`{"signedXDR":"AAAA..."}`), nil
	}
	got, err := h.m.SignTx(context.Background(), mustEnvelope(t))
	if err != nil {
		t.Fatalf("unexpected sign error: %v", err)
	}
	if got != "AAAA..." {
		t.Fatalf("unexpected signed payload: %q", got)
	}
	req := h.client.requests[0]
	if req.Topic != "s1" || req.ChainID != DefaultChainID || req.Method != MethodSignXDR {
		t.Fatalf("unexpected request: %+v", req)
	}
	if params := req.Params.(map[string]string); params["xdr"] != "AAAAAgAAAAA=" {
		t.Fatalf("unexpected params: %+v", req.Params)
	}
	if r := requestResolution(t, h.presenter); r.Outcome != ui.OutcomeSuccess {
		t.Fatalf("unexpected resolution: %+v", r)
	}
}

func TestSignTxMissingField(t *testing.T) {
	testlog.Start(t)
	h := activeHarness(t)
	h.client.requestFn = func(signclient.RequestParams) (json.RawMessage, error) {
		return json.RawMessage(`{"status":"success"}`), nil
	}
	if _, err := h.m.SignTx(context.Background(), mustEnvelope(t)); !errors.Is(err, ErrMissingSignedXDR) {
		t.Fatalf("unexpected err: %v", err)
	}
	r := requestResolution(t, h.presenter)
	if r.Outcome != ui.OutcomeFailed || !errors.Is(r.Err, ErrMissingSignedXDR) {
		t.Fatalf("unexpected resolution: %+v", r)
	}
}

func TestSignAndSubmitMalformedReplyFails(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{name: "not an object", reply: `"not an object"`},
		{name: "unknown status", reply: `{"status":"queued"}`, wantErr: ErrUnexpectedStatus},
		{name: "missing status", reply: `{}`, wantErr: ErrUnexpectedStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := activeHarness(t)
			h.client.requestFn = func(signclient.RequestParams) (json.RawMessage, error) {
				return json.RawMessage(tc.reply), nil
			}
			res, err := h.m.SignAndSubmitTx(context.Background(), mustEnvelope(t))
			if err == nil {
				t.Fatalf("expected error, got %+v", res)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("unexpected err: %v", err)
			}
			r := requestResolution(t, h.presenter)
			if r.Outcome != ui.OutcomeFailed || r.Err == nil {
				t.Fatalf("unexpected resolution: %+v", r)
			}
			if toasts := h.presenter.Toasts(ui.ToastInfo); len(toasts) != 0 {
				t.Fatalf("unexpected toasts: %v", toasts)
			}
		})
	}
}

func TestSignAndSubmitPendingToastsAndSucceeds(t *testing.T) {
	testlog.Start(t)
	h := activeHarness(t)
	h.client.requestFn = func(signclient.RequestParams) (json.RawMessage, error) {
		return json.RawMessage(`{"status":"pending"}`), nil
	}
	res, err := h.m.SignAndSubmitTx(context.Background(), mustEnvelope(t))
	if err != nil {
		t.Fatalf("pending must not fail: %v", err)
	}
	if res.Status != SubmitPending {
		t.Fatalf("unexpected status: %+v", res)
	}
	if toasts := h.presenter.Toasts(ui.ToastInfo); len(toasts) != 1 || toasts[0] != moreSignaturesText {
		t.Fatalf("unexpected toasts: %v", toasts)
	}
	if r := requestResolution(t, h.presenter); r.Outcome != ui.OutcomePending {
		t.Fatalf("unexpected resolution: %+v", r)
	}
	if h.client.requests[0].Method != MethodSignAndSubmitXDR {
		t.Fatalf("unexpected method: %+v", h.client.requests[0])
	}
}

func TestSignAndSubmitRejected(t *testing.T) {
	testlog.Start(t)
	h := activeHarness(t)
	rejected := &signclient.ReasonError{Reason: signclient.ReasonUserRejected}
	h.client.requestFn = func(signclient.RequestParams) (json.RawMessage, error) {
		return nil, rejected
	}
	if _, err := h.m.SignAndSubmitTx(context.Background(), mustEnvelope(t)); !errors.Is(err, rejected) {
		t.Fatalf("unexpected err: %v", err)
	}
	if r := requestResolution(t, h.presenter); r.Outcome != ui.OutcomeRejected {
		t.Fatalf("unexpected resolution: %+v", r)
	}
	if toasts := h.presenter.Toasts(ui.ToastError); len(toasts) != 0 {
		t.Fatalf("request failures must not use the global error toast: %v", toasts)
	}
	if len(h.client.requests) != 1 {
		t.Fatalf("requests must not be retried: %d", len(h.client.requests))
	}
}

func TestSignWithoutSession(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, newFakeClient())
	if _, err := h.m.SignTx(context.Background(), mustEnvelope(t)); !errors.Is(err, ErrNoSession) {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestProposalDismissRejectsAndReleasesKey(t *testing.T) {
	testlog.Start(t)
	client := newFakeClient()
	h := newHarness(t, client)
	if _, err := h.m.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	p := signclient.Proposal{Topic: "prop", URI: "wc:prop@2?publicKey=ab", ProposerPublicKey: "ab"}
	client.emit(signclient.Event{Kind: signclient.EventPairingProposal, Proposal: &p})
	if h.presenter.URI() != p.URI {
		t.Fatalf("uri not shown: %q", h.presenter.URI())
	}
	h.presenter.DismissURI()
	if len(client.rejected) != 1 || client.rejected[0].Code != signclient.ReasonUnknown.Code {
		t.Fatalf("unexpected rejects: %+v", client.rejected)
	}
	if len(client.released) != 1 || client.released[0] != "ab" {
		t.Fatalf("unexpected releases: %+v", client.released)
	}

	client.emit(signclient.Event{Kind: signclient.EventPairingProposal, Proposal: &p})
	h.presenter.CloseURI()
	h.presenter.DismissURI()
	if len(client.rejected) != 1 {
		t.Fatalf("programmatic close must not reject: %+v", client.rejected)
	}
}

func TestLogoutDisconnectsAndKeepsPairings(t *testing.T) {
	testlog.Start(t)
	h := activeHarness(t)
	h.client.addPairings(2)
	if err := h.m.Logout(context.Background()); err != nil {
		t.Fatalf("unexpected logout error: %v", err)
	}
	events := h.recorded()
	if _, ok := events[len(events)-1].(LogoutEvent); !ok {
		t.Fatalf("expected logout event, got %+v", events)
	}
	if h.m.State() != StateIdle || len(h.client.Pairings()) != 2 {
		t.Fatalf("unexpected state=%v pairings=%d", h.m.State(), len(h.client.Pairings()))
	}
	if err := h.m.Logout(context.Background()); err != nil {
		t.Fatalf("logout without session must be a no-op: %v", err)
	}
}

func TestAccountPublicKey(t *testing.T) {
	testlog.Start(t)
	got, err := accountPublicKey("stellar:pubnet:GABC")
	if err != nil || got != "GABC" {
		t.Fatalf("unexpected key=%q err=%v", got, err)
	}
	for _, bad := range []string{"", "GABC", "stellar:GABC", "stellar:pubnet:"} {
		if _, err := accountPublicKey(bad); !errors.Is(err, ErrMalformedAccount) {
			t.Fatalf("expected malformed for %q, got %v", bad, err)
		}
	}
}

func TestAwaitClientSettleHonoursContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := awaitClientSettle(ctx, DefaultSettleDelay); !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := awaitClientSettle(context.Background(), 0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
