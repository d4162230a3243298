// Package ledger defines the signable envelope contract consumed by the
// session manager. Transaction building lives elsewhere; the manager only
// serializes what it is handed.
package ledger

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEnvelope = errors.New("ledger: invalid envelope")

// Transaction is an opaque signable transaction.
type Transaction interface {
	// EnvelopeXDR returns the base64 XDR of the transaction envelope.
	EnvelopeXDR() (string, error)
	// Hash identifies the transaction for logs and result correlation.
	Hash() ([32]byte, error)
}

// RawEnvelope wraps an already-built base64 XDR envelope.
type RawEnvelope struct {
	xdr string
	raw []byte
}

var _ Transaction = (*RawEnvelope)(nil)

func ParseEnvelope(b64 string) (*RawEnvelope, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidEnvelope)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: xdr length %d not 4-byte aligned", ErrInvalidEnvelope, len(raw))
	}
	return &RawEnvelope{xdr: b64, raw: raw}, nil
}

func (e *RawEnvelope) EnvelopeXDR() (string, error) {
	return e.xdr, nil
}

// Hash is the sha256 of the envelope bytes; RawEnvelope never decodes XDR.
func (e *RawEnvelope) Hash() ([32]byte, error) {
	return sha256.Sum256(e.raw), nil
}

// HashHex is a convenience for log fields.
func HashHex(tx Transaction) string {
	sum, err := tx.Hash()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(sum[:])
}
