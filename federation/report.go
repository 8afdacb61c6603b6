package federation

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/auctionapi/parsing"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/transport"
)

// ErrInvalidReport is returned when a delegate report fails verification.
var ErrInvalidReport = errors.New("invalid delegate report")

// SignedOutcome is the payload of a delegate report.
type SignedOutcome struct {
	Delegate string `cbor:"delegate"`
	// Federation identifies the federated auction the report belongs to, so a report cannot be
	// replayed into a later federation of the same item.
	Federation string       `cbor:"federation"`
	Outcome    core.Outcome `cbor:"outcome"`
	// Hash is core.ComputeOutcomeHash chained to the federation id.
	Hash string `cbor:"hash"`
}

// SignReport produces a COSE_Sign1 message (ES256) over the encoded outcome.
func SignReport(km *KeyManager, delegate, federationID string, outcome core.Outcome) ([]byte, error) {
	payload, err := auctionapi.Marshal(SignedOutcome{
		Delegate:   delegate,
		Federation: federationID,
		Outcome:    outcome,
		Hash:       core.ComputeOutcomeHash(federationID, outcome),
	})
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}

	signer, err := km.Signer()
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
		},
	}
	signed, err := cose.Sign1(rand.Reader, signer, headers, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("sign outcome: %w", err)
	}
	return signed, nil
}

// VerifyReport checks the COSE signature with the delegate's public key and the outcome hash,
// and returns the signed outcome.
func VerifyReport(signed []byte, publicKey *ecdsa.PublicKey) (SignedOutcome, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(signed); err != nil {
		return SignedOutcome{}, fmt.Errorf("%w: parse COSE_Sign1: %v", ErrInvalidReport, err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, publicKey)
	if err != nil {
		return SignedOutcome{}, fmt.Errorf("%w: create verifier: %v", ErrInvalidReport, err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return SignedOutcome{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}

	var so SignedOutcome
	if err := parsing.Decode(msg.Payload, &so); err != nil {
		return SignedOutcome{}, fmt.Errorf("%w: decode outcome: %w", ErrInvalidReport, err)
	}
	if so.Hash != core.ComputeOutcomeHash(so.Federation, so.Outcome) {
		return SignedOutcome{}, fmt.Errorf("%w: outcome hash mismatch", ErrInvalidReport)
	}
	return so, nil
}

// Reporter signs a delegate's outcome and sends it to the aggregator over the delegate's own
// endpoint. It implements coordinator.Reporter.
type Reporter struct {
	Endpoint     transport.Endpoint
	Aggregator   string
	FederationID string
	Keys         *KeyManager
}

func (r Reporter) Report(ctx context.Context, outcome core.Outcome) error {
	signed, err := SignReport(r.Keys, r.Endpoint.Address(), r.FederationID, outcome)
	if err != nil {
		return err
	}

	env, err := auctionapi.NewEnvelope(auctionapi.TypeReport, outcome.ConversationID, r.Endpoint.Address(), 0,
		auctionapi.Report{Delegate: r.Endpoint.Address(), Signed: signed})
	if err != nil {
		return err
	}
	return r.Endpoint.Send(ctx, r.Aggregator, env)
}
