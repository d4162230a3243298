package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/logging"
	"github.com/AquaToken/dao-aquarius-sub003/internal/observability"
	"github.com/AquaToken/dao-aquarius-sub003/internal/protocol/jsonrpc"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrRelayURLRequired = errors.New("relay: url required")
	ErrRequestTimeout   = errors.New("relay: request timeout")
)

// WSTransport is a Transport over a relay websocket.
type WSTransport struct {
	cfg    Config
	conn   *websocket.Conn
	ids    *jsonrpc.IDs
	logger zerolog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan jsonrpc.Message

	subMu sync.Mutex
	subs  map[string]string

	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*WSTransport)(nil)

// Dial connects to the relay, retrying with backoff up to
// cfg.MaxConnectAttempts (0 means unbounded until ctx ends).
func Dial(ctx context.Context, cfg Config) (*WSTransport, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrRelayURLRequired
	}
	cfg = cfg.WithDefaults()
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, fmt.Errorf("relay: parse url: %w", err)
	}
	logger := logging.Component("relay.ws")
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}

	var attempt int
	for {
		attempt++
		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err == nil {
			t := newWSTransport(cfg, conn, logger)
			logger.Info().Str("url", cfg.URL).Int("attempt", attempt).Msg("relay connected")
			return t, nil
		}
		logger.Warn().Int("attempt", attempt).Str("url", cfg.URL).Err(err).Msg("relay dial failed")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("relay: dial %s: %w", cfg.URL, err)
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func newWSTransport(cfg Config, conn *websocket.Conn, logger zerolog.Logger) *WSTransport {
	t := &WSTransport{
		cfg:      cfg,
		conn:     conn,
		ids:      jsonrpc.NewIDs(),
		logger:   logger,
		pending:  make(map[uint64]chan jsonrpc.Message),
		subs:     make(map[string]string),
		messages: make(chan Message, peerBuffer),
		done:     make(chan struct{}),
	}
	go t.readLoop()
	go t.pingLoop()
	return t
}

func (t *WSTransport) Publish(ctx context.Context, topic, payload string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrTopicRequired
	}
	_, err := t.request(ctx, methodPublish, publishParams{
		Topic:   topic,
		Message: payload,
		TTL:     int64(t.cfg.MessageTTL / time.Second),
	})
	if err == nil {
		observability.RecordRelayMessage("out")
	}
	return err
}

func (t *WSTransport) Subscribe(ctx context.Context, topic string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrTopicRequired
	}
	res, err := t.request(ctx, methodSubscribe, subscribeParams{Topic: topic})
	if err != nil {
		return err
	}
	var id string
	if err := json.Unmarshal(res, &id); err != nil {
		return fmt.Errorf("relay: subscribe result: %w", err)
	}
	t.subMu.Lock()
	t.subs[topic] = id
	t.subMu.Unlock()
	return nil
}

func (t *WSTransport) Unsubscribe(ctx context.Context, topic string) error {
	t.subMu.Lock()
	id, ok := t.subs[topic]
	delete(t.subs, topic)
	t.subMu.Unlock()
	if !ok {
		return ErrNotSubscribed
	}
	_, err := t.request(ctx, methodUnsubscribe, unsubscribeParams{Topic: topic, ID: id})
	return err
}

func (t *WSTransport) Messages() <-chan Message {
	return t.messages
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *WSTransport) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	msg, err := jsonrpc.NewRequest(t.ids.Next(), method, params)
	if err != nil {
		return nil, err
	}
	ch := make(chan jsonrpc.Message, 1)
	t.pendingMu.Lock()
	t.pending[msg.ID] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, msg.ID)
		t.pendingMu.Unlock()
	}()

	if err := t.write(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(t.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, method)
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (t *WSTransport) write(msg jsonrpc.Message) error {
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) readLoop() {
	defer func() {
		t.pendingMu.Lock()
		for id, ch := range t.pending {
			close(ch)
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		close(t.messages)
		_ = t.Close()
	}()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn().Err(err).Msg("relay connection closed unexpectedly")
			}
			return
		}
		msg, err := jsonrpc.Decode(data)
		if err != nil {
			t.logger.Debug().Err(err).Msg("dropping malformed relay frame")
			continue
		}
		if msg.IsResponse() {
			t.route(msg)
			continue
		}
		if msg.Method != methodSubscription {
			t.logger.Debug().Str("method", msg.Method).Msg("ignoring relay request")
			continue
		}
		var p subscriptionParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			t.logger.Debug().Err(err).Msg("bad subscription params")
			continue
		}
		if ack, err := jsonrpc.NewResult(msg.ID, true); err == nil {
			_ = t.write(ack)
		}
		observability.RecordRelayMessage("in")
		select {
		case t.messages <- Message{Topic: p.Data.Topic, Payload: p.Data.Message}:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) route(msg jsonrpc.Message) {
	t.pendingMu.Lock()
	ch, ok := t.pending[msg.ID]
	if ok {
		delete(t.pending, msg.ID)
	}
	t.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

func (t *WSTransport) pingLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug().Err(err).Msg("relay ping failed")
			}
		}
	}
}
