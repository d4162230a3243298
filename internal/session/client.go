package session

import (
	"context"
	"encoding/json"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
	"github.com/AquaToken/dao-aquarius-sub003/internal/signclient"
)

// Client is the protocol client surface the Manager drives.
// *signclient.Client satisfies it.
type Client interface {
	Connect(ctx context.Context, p signclient.ConnectParams) (signclient.Session, error)
	Request(ctx context.Context, p signclient.RequestParams) (json.RawMessage, error)
	Disconnect(ctx context.Context, topic string, reason signclient.Reason) error
	DeletePairing(ctx context.Context, topic string, reason signclient.Reason) error
	Reject(ctx context.Context, proposal signclient.Proposal, reason signclient.Reason) error
	ReleaseKey(publicKey string) bool
	UpdatePairingMetadata(topic string, peer appmeta.Metadata) error
	Pairings() []signclient.Pairing
	SessionTopics() []string
	Session(topic string) (signclient.Session, bool)
	Subscribe(fn func(signclient.Event)) func()
	Close() error
}

var _ Client = (*signclient.Client)(nil)

// ClientFactory builds the protocol client on first use.
type ClientFactory func(ctx context.Context) (Client, error)
