// Package signer builds and signs outbound data items with an ed25519 nkey.
package signer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nkeys"

	"github.com/morezero/message-relay/pkg/relay"
)

const logPrefix = "signer:signer"

// ErrInvalidSignature is returned by Verify when a data item's signature or id does not match.
var ErrInvalidSignature = errors.New("invalid data item signature")

// DataItem is the signed unit written to a scheduler or the ledger.
type DataItem struct {
	Owner     string      `json:"owner"`
	Target    string      `json:"target"`
	Anchor    string      `json:"anchor,omitempty"`
	Tags      []relay.Tag `json:"tags"`
	Data      string      `json:"data"`
	Signature string      `json:"signature"`
	ID        string      `json:"id"`
}

// signingPayload is the canonical byte form covered by the signature.
type signingPayload struct {
	Owner  string      `json:"owner"`
	Target string      `json:"target"`
	Anchor string      `json:"anchor"`
	Tags   []relay.Tag `json:"tags"`
	Data   string      `json:"data"`
}

func (d *DataItem) payload() ([]byte, error) {
	tags := d.Tags
	if tags == nil {
		tags = []relay.Tag{}
	}
	return json.Marshal(signingPayload{Owner: d.Owner, Target: d.Target, Anchor: d.Anchor, Tags: tags, Data: d.Data})
}

// idFromSignature derives the item id: base64url(sha256(signature)).
func idFromSignature(sig []byte) string {
	sum := sha256.Sum256(sig)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Signer implements relay.TxBuilder.
type Signer struct {
	kp     nkeys.KeyPair
	owner  string
	logger *slog.Logger
}

// NewSigner creates a Signer from an nkey seed. An empty seed creates an ephemeral user key,
// which is only suitable for development since items cannot be attributed across restarts.
func NewSigner(seed string, logger *slog.Logger) (*Signer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		kp  nkeys.KeyPair
		err error
	)
	if seed == "" {
		kp, err = nkeys.CreateUser()
		if err != nil {
			return nil, fmt.Errorf("%s - failed to create ephemeral key: %w", logPrefix, err)
		}
		logger.Warn(fmt.Sprintf("%s - SIGNER_SEED not set, using an ephemeral signing key", logPrefix))
	} else {
		kp, err = nkeys.FromSeed([]byte(seed))
		if err != nil {
			return nil, fmt.Errorf("%s - invalid signer seed: %w", logPrefix, err)
		}
	}

	owner, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to derive public key: %w", logPrefix, err)
	}
	return &Signer{kp: kp, owner: owner, logger: logger}, nil
}

// Owner returns the public key items are signed with.
func (s *Signer) Owner() string {
	return s.owner
}

// BuildAndSign assembles a data item for in, signs it and returns the serialized tx.
func (s *Signer) BuildAndSign(_ context.Context, in relay.BuildInput) (*relay.Tx, error) {
	if in.Target == "" {
		return nil, fmt.Errorf("%s - target is required", logPrefix)
	}
	item := &DataItem{
		Owner:  s.owner,
		Target: in.Target,
		Anchor: in.Anchor,
		Tags:   in.Tags,
		Data:   in.Data,
	}
	if item.Tags == nil {
		item.Tags = []relay.Tag{}
	}

	payload, err := item.payload()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode payload: %w", logPrefix, err)
	}
	sig, err := s.kp.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to sign: %w", logPrefix, err)
	}
	item.Signature = base64.RawURLEncoding.EncodeToString(sig)
	item.ID = idFromSignature(sig)

	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode data item: %w", logPrefix, err)
	}

	s.logger.Debug(fmt.Sprintf("%s - signed data item %s for %s", logPrefix, item.ID, item.Target), "logId", in.LogID)
	return &relay.Tx{ID: item.ID, Target: item.Target, Data: raw}, nil
}

// Verify decodes a serialized data item and checks its signature and id.
func Verify(raw []byte) (*DataItem, error) {
	var item DataItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("%s - failed to decode data item: %w", logPrefix, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(item.Signature)
	if err != nil {
		return nil, fmt.Errorf("%s - bad signature encoding: %w", logPrefix, ErrInvalidSignature)
	}
	if idFromSignature(sig) != item.ID {
		return nil, fmt.Errorf("%s - id does not match signature: %w", logPrefix, ErrInvalidSignature)
	}

	pub, err := nkeys.FromPublicKey(item.Owner)
	if err != nil {
		return nil, fmt.Errorf("%s - bad owner key: %w", logPrefix, ErrInvalidSignature)
	}
	payload, err := item.payload()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode payload: %w", logPrefix, err)
	}
	if err := pub.Verify(payload, sig); err != nil {
		return nil, fmt.Errorf("%s - %v: %w", logPrefix, err, ErrInvalidSignature)
	}
	return &item, nil
}
