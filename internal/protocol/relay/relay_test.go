package relay

import (
	"context"
	"errors"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 9, nil); got != 5*time.Second {
		t.Fatalf("attempt9 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 1, rng)
	if got < 125*time.Millisecond || got > 375*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestEndpointAddsProjectID(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.ProjectID = "proj-123"
	got, err := cfg.Endpoint()
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}
	if got != "wss://relay.walletconnect.com?projectId=proj-123" {
		t.Fatalf("unexpected endpoint: %q", got)
	}
}

func recv(t *testing.T, tr Transport) Message {
	t.Helper()
	select {
	case m, ok := <-tr.Messages():
		if !ok {
			t.Fatalf("messages closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestHubDeliversToOtherSubscribers(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	hub := NewHub()
	a, b := hub.Connect(), hub.Connect()
	defer a.Close()
	defer b.Close()

	if err := a.Subscribe(ctx, "topic.1"); err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if err := b.Subscribe(ctx, "topic.1"); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	if err := a.Publish(ctx, "topic.1", "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := recv(t, b)
	if got.Topic != "topic.1" || got.Payload != "hello" {
		t.Fatalf("unexpected message: %+v", got)
	}
	select {
	case m := <-a.Messages():
		t.Fatalf("publisher received its own message: %+v", m)
	default:
	}
}

func TestHubMailboxFlushesOnSubscribe(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	hub := NewHub()
	a, b := hub.Connect(), hub.Connect()
	defer a.Close()
	defer b.Close()

	_ = a.Publish(ctx, "late", "one")
	_ = a.Publish(ctx, "late", "two")
	if err := b.Subscribe(ctx, "late"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := recv(t, b); got.Payload != "one" {
		t.Fatalf("unexpected first: %+v", got)
	}
	if got := recv(t, b); got.Payload != "two" {
		t.Fatalf("unexpected second: %+v", got)
	}
}

func TestMemoryTransportErrors(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	hub := NewHub()
	tr := hub.Connect()
	if err := tr.Subscribe(ctx, " "); !errors.Is(err, ErrTopicRequired) {
		t.Fatalf("expected ErrTopicRequired, got %v", err)
	}
	if err := tr.Unsubscribe(ctx, "never"); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
	_ = tr.Subscribe(ctx, "x")
	if hub.Topics() != 1 {
		t.Fatalf("unexpected topic count: %d", hub.Topics())
	}
	_ = tr.Close()
	_ = tr.Close()
	if hub.Topics() != 0 {
		t.Fatalf("close should drop subscriptions, topics=%d", hub.Topics())
	}
	if err := tr.Publish(ctx, "x", "y"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, ok := <-tr.Messages(); ok {
		t.Fatalf("messages should be closed")
	}
}

func TestWebsocketTransportRoundTrip(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(ts.URL, "http")
	cfg.ProjectID = "test"
	cfg.MaxConnectAttempts = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, err := Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	peer := srv.Hub().Connect()
	defer peer.Close()
	if err := peer.Subscribe(ctx, "from.ws"); err != nil {
		t.Fatalf("peer subscribe: %v", err)
	}
	if err := ws.Subscribe(ctx, "to.ws"); err != nil {
		t.Fatalf("ws subscribe: %v", err)
	}

	if err := ws.Publish(ctx, "from.ws", "ping"); err != nil {
		t.Fatalf("ws publish: %v", err)
	}
	if got := recv(t, peer); got.Payload != "ping" {
		t.Fatalf("unexpected peer message: %+v", got)
	}

	if err := peer.Publish(ctx, "to.ws", "pong"); err != nil {
		t.Fatalf("peer publish: %v", err)
	}
	if got := recv(t, ws); got.Topic != "to.ws" || got.Payload != "pong" {
		t.Fatalf("unexpected ws message: %+v", got)
	}

	if err := ws.Unsubscribe(ctx, "to.ws"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := ws.Unsubscribe(ctx, "to.ws"); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.URL = "ws://127.0.0.1:1"
	cfg.MaxConnectAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	if _, err := Dial(context.Background(), cfg); err == nil {
		t.Fatalf("expected dial failure")
	}
	if _, err := Dial(context.Background(), Config{}); !errors.Is(err, ErrRelayURLRequired) {
		t.Fatalf("expected ErrRelayURLRequired, got %v", err)
	}
}
