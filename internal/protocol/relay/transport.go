package relay

import (
	"context"
	"errors"
)

var (
	ErrClosed        = errors.New("relay: transport closed")
	ErrTopicRequired = errors.New("relay: topic required")
	ErrNotSubscribed = errors.New("relay: not subscribed")
)

// Message is one payload delivered on a subscribed topic.
type Message struct {
	Topic   string
	Payload string
}

// Transport is a topic publish/subscribe channel to the relay.
type Transport interface {
	Publish(ctx context.Context, topic, payload string) error
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	// Messages delivers inbound payloads in arrival order. It is closed when
	// the transport shuts down.
	Messages() <-chan Message
	Close() error
}
