package auctionapi

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/cloudx-io/dutchauction/core"
)

// MessageType tags the payload carried by an Envelope.
type MessageType string

const (
	// TypeAnnounce is broadcast by a coordinator before round 1 of an auction.
	TypeAnnounce MessageType = "announce"
	// TypeOffer carries the item and the asking price of one round.
	TypeOffer MessageType = "offer"

	// Bidder replies to an offer.
	TypeBid           MessageType = "bid"
	TypeDecline       MessageType = "decline"
	TypeNotUnderstood MessageType = "not_understood"

	// Notices sent once an auction is decided.
	TypeAccept      MessageType = "accept"
	TypeReject      MessageType = "reject"
	TypeProvisional MessageType = "provisional"

	// TypeConfirm acknowledges a final acceptance.
	TypeConfirm MessageType = "confirm"
	// TypeReport carries a delegate coordinator's signed outcome to the aggregator.
	TypeReport MessageType = "report"
)

// IsReply reports whether t is one of the bidder answers to an offer.
func (t MessageType) IsReply() bool {
	return t == TypeBid || t == TypeDecline || t == TypeNotUnderstood
}

// IsNotice reports whether t is one of the post-auction notices sent to bidders.
func (t MessageType) IsNotice() bool {
	return t == TypeAccept || t == TypeReject || t == TypeProvisional
}

// Envelope is the unit exchanged over a transport. Every message of one auction carries the same
// ConversationID. Round is zero for messages that do not belong to a round.
type Envelope struct {
	ID             string          `cbor:"id"`
	Type           MessageType     `cbor:"type"`
	ConversationID string          `cbor:"conversation_id"`
	Sender         string          `cbor:"sender"`
	Round          int             `cbor:"round,omitempty"`
	Payload        cbor.RawMessage `cbor:"payload,omitempty"`
	SentAt         time.Time       `cbor:"sent_at"`
}

// Announcement tells bidders that an auction for an item is starting.
type Announcement struct {
	Item        core.Item `cbor:"item"`
	Coordinator string    `cbor:"coordinator"`
}

// Offer is the call for proposals of one round.
type Offer struct {
	Item        core.Item `cbor:"item"`
	AskingPrice float64   `cbor:"asking_price"`
	Round       int       `cbor:"round"`
}

// Reply is a bidder's answer to an offer. Amount is set for bids, Reason for declines and
// not-understood replies.
type Reply struct {
	Amount float64 `cbor:"amount,omitempty"`
	Reason string  `cbor:"reason,omitempty"`
}

// Notice informs a bidder of the result of an auction it took part in.
type Notice struct {
	Item   string  `cbor:"item"`
	Amount float64 `cbor:"amount,omitempty"`
	Reason string  `cbor:"reason,omitempty"`
}

// Report carries a delegate outcome signed as a COSE_Sign1 message.
type Report struct {
	Delegate string `cbor:"delegate"`
	Signed   []byte `cbor:"signed"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("auctionapi: cbor encoder: %v", err))
	}
}

// Marshal encodes v with deterministic CBOR encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// NewEnvelope builds an envelope with a fresh id around the encoded payload.
// A nil payload produces an envelope without a body.
func NewEnvelope(t MessageType, conversationID, sender string, round int, payload any) (Envelope, error) {
	env := Envelope{
		ID:             uuid.NewString(),
		Type:           t,
		ConversationID: conversationID,
		Sender:         sender,
		Round:          round,
		SentAt:         time.Now().UTC(),
	}
	if payload != nil {
		body, err := Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = body
	}
	return env, nil
}

// Encode serializes the whole envelope for transports that move bytes.
func (e Envelope) Encode() ([]byte, error) {
	return Marshal(e)
}

// ReplyFor converts a bidder decision into the wire reply type and body.
func ReplyFor(r core.Response) (MessageType, Reply) {
	switch r.Kind {
	case core.ResponseBid:
		return TypeBid, Reply{Amount: r.Amount}
	case core.ResponseProtocolFault:
		return TypeNotUnderstood, Reply{Reason: r.Reason}
	default:
		return TypeDecline, Reply{Reason: r.Reason}
	}
}
