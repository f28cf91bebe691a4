package signer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nats-io/nkeys"

	"github.com/morezero/message-relay/pkg/relay"
)

const signerTestPrefix = "signer:signer_test"

func newSeededSigner(t *testing.T) (*Signer, string) {
	t.Helper()
	kp, err := nkeys.CreateUser()
	if err != nil {
		t.Fatalf("%s - CreateUser: %v", signerTestPrefix, err)
	}
	seed, err := kp.Seed()
	if err != nil {
		t.Fatalf("%s - Seed: %v", signerTestPrefix, err)
	}
	s, err := NewSigner(string(seed), nil)
	if err != nil {
		t.Fatalf("%s - NewSigner: %v", signerTestPrefix, err)
	}
	pub, _ := kp.PublicKey()
	return s, pub
}

func TestBuildAndSign_ProducesVerifiableItem(t *testing.T) {
	s, pub := newSeededSigner(t)
	if s.Owner() != pub {
		t.Fatalf("%s - owner = %s, want %s", signerTestPrefix, s.Owner(), pub)
	}

	in := relay.BuildInput{
		LogID:  "log-1",
		Target: "process-1",
		Anchor: "00000000000000000000000000000001",
		Tags:   []relay.Tag{{Name: "Action", Value: "Eval"}},
		Data:   "return 1",
	}
	tx, err := s.BuildAndSign(context.Background(), in)
	if err != nil {
		t.Fatalf("%s - BuildAndSign: %v", signerTestPrefix, err)
	}
	if tx.Target != "process-1" || tx.ID == "" {
		t.Errorf("%s - unexpected tx %+v", signerTestPrefix, tx)
	}

	item, err := Verify(tx.Data)
	if err != nil {
		t.Fatalf("%s - Verify: %v", signerTestPrefix, err)
	}
	if item.ID != tx.ID {
		t.Errorf("%s - item id %s != tx id %s", signerTestPrefix, item.ID, tx.ID)
	}
	if diff := cmp.Diff(in.Tags, item.Tags); diff != "" {
		t.Errorf("%s - tags mismatch (-want +got):\n%s", signerTestPrefix, diff)
	}
}

func TestVerify_RejectsTampering(t *testing.T) {
	s, _ := newSeededSigner(t)
	tx, err := s.BuildAndSign(context.Background(), relay.BuildInput{Target: "wallet-1", Data: "transfer"})
	if err != nil {
		t.Fatalf("%s - BuildAndSign: %v", signerTestPrefix, err)
	}

	var item DataItem
	if err := json.Unmarshal(tx.Data, &item); err != nil {
		t.Fatalf("%s - unmarshal: %v", signerTestPrefix, err)
	}

	tamperedData := item
	tamperedData.Data = "transfer everything"
	raw, _ := json.Marshal(tamperedData)
	if _, err := Verify(raw); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("%s - tampered data: err = %v", signerTestPrefix, err)
	}

	tamperedID := item
	tamperedID.ID = "not-the-id"
	raw, _ = json.Marshal(tamperedID)
	if _, err := Verify(raw); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("%s - tampered id: err = %v", signerTestPrefix, err)
	}
}

func TestBuildAndSign_DistinctAnchorsGiveDistinctIDs(t *testing.T) {
	s, _ := newSeededSigner(t)
	a, _ := s.BuildAndSign(context.Background(), relay.BuildInput{Target: "p", Anchor: "1"})
	b, _ := s.BuildAndSign(context.Background(), relay.BuildInput{Target: "p", Anchor: "2"})
	if a.ID == b.ID {
		t.Errorf("%s - expected distinct ids", signerTestPrefix)
	}
}

func TestBuildAndSign_RequiresTarget(t *testing.T) {
	s, _ := newSeededSigner(t)
	if _, err := s.BuildAndSign(context.Background(), relay.BuildInput{}); err == nil {
		t.Errorf("%s - expected error for empty target", signerTestPrefix)
	}
}

func TestNewSigner(t *testing.T) {
	if _, err := NewSigner("not-a-seed", nil); err == nil {
		t.Errorf("%s - expected error for invalid seed", signerTestPrefix)
	}
	s, err := NewSigner("", nil)
	if err != nil {
		t.Fatalf("%s - ephemeral signer: %v", signerTestPrefix, err)
	}
	if s.Owner() == "" {
		t.Errorf("%s - ephemeral signer has no owner", signerTestPrefix)
	}
}
