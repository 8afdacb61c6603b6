package parsing

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/core"
)

// ErrMalformed is returned for any message that cannot be interpreted.
// Callers turn it into a protocol fault of the sender.
var ErrMalformed = errors.New("malformed message")

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("parsing: cbor decoder: %v", err))
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Decode decodes CBOR data into v. Duplicate map keys and indefinite-length items are rejected,
// so every well-formed input has exactly one reading.
func Decode(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return malformed("%v", err)
	}
	return nil
}

// DecodeEnvelope decodes a serialized envelope and checks its header fields.
func DecodeEnvelope(data []byte) (auctionapi.Envelope, error) {
	var env auctionapi.Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return auctionapi.Envelope{}, malformed("envelope: %v", err)
	}
	if env.Type == "" || env.Sender == "" {
		return auctionapi.Envelope{}, malformed("envelope %q without type or sender", env.ID)
	}
	return env, nil
}

func decodePayload[T any](env auctionapi.Envelope, want auctionapi.MessageType) (T, error) {
	var v T
	if env.Type != want {
		return v, malformed("expected %s, got %s", want, env.Type)
	}
	if len(env.Payload) == 0 {
		return v, malformed("%s without payload", env.Type)
	}
	if err := decMode.Unmarshal(env.Payload, &v); err != nil {
		return v, malformed("%s payload: %v", env.Type, err)
	}
	return v, nil
}

// DecodeAnnouncement decodes an auction announcement.
func DecodeAnnouncement(env auctionapi.Envelope) (auctionapi.Announcement, error) {
	a, err := decodePayload[auctionapi.Announcement](env, auctionapi.TypeAnnounce)
	if err != nil {
		return a, err
	}
	if err := core.ValidateItem(a.Item); err != nil {
		return a, malformed("announcement: %v", err)
	}
	return a, nil
}

// DecodeOffer decodes a round offer. The item must be valid, the asking price positive and the
// round number must agree with the envelope.
func DecodeOffer(env auctionapi.Envelope) (auctionapi.Offer, error) {
	o, err := decodePayload[auctionapi.Offer](env, auctionapi.TypeOffer)
	if err != nil {
		return o, err
	}
	if err := core.ValidateItem(o.Item); err != nil {
		return o, malformed("offer: %v", err)
	}
	if !core.Finite(o.AskingPrice) || o.AskingPrice <= 0 {
		return o, malformed("offer: asking price %.4f", o.AskingPrice)
	}
	if o.Round < 1 || o.Round != env.Round {
		return o, malformed("offer: round %d in envelope for round %d", o.Round, env.Round)
	}
	return o, nil
}

// DecodeReply converts a bidder reply into a core response. A reply that cannot be decoded
// yields ErrMalformed; the coordinator records it as a protocol fault of the sender.
func DecodeReply(env auctionapi.Envelope) (core.Response, error) {
	if !env.Type.IsReply() {
		return core.Response{}, malformed("expected reply, got %s", env.Type)
	}
	r, err := decodePayload[auctionapi.Reply](env, env.Type)
	if err != nil {
		// declines and not-understood replies may come without a body
		if env.Type != auctionapi.TypeBid && len(env.Payload) == 0 {
			r, err = auctionapi.Reply{}, nil
		} else {
			return core.Response{}, err
		}
	}

	switch env.Type {
	case auctionapi.TypeBid:
		if !core.Finite(r.Amount) || r.Amount <= 0 {
			return core.Response{}, malformed("bid amount %.4f", r.Amount)
		}
		return core.Bid(env.Sender, r.Amount), nil
	case auctionapi.TypeNotUnderstood:
		return core.ProtocolFault(env.Sender, r.Reason), nil
	default:
		return core.Decline(env.Sender, r.Reason), nil
	}
}

// DecodeNotice decodes an accept, reject or provisional notice.
func DecodeNotice(env auctionapi.Envelope) (auctionapi.Notice, error) {
	if !env.Type.IsNotice() {
		return auctionapi.Notice{}, malformed("expected notice, got %s", env.Type)
	}
	return decodePayload[auctionapi.Notice](env, env.Type)
}

// DecodeReport decodes a delegate report envelope. The signature is not checked here.
func DecodeReport(env auctionapi.Envelope) (auctionapi.Report, error) {
	r, err := decodePayload[auctionapi.Report](env, auctionapi.TypeReport)
	if err != nil {
		return r, err
	}
	if r.Delegate == "" || len(r.Signed) == 0 {
		return r, malformed("report without delegate or signature")
	}
	return r, nil
}
