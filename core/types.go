package core

import "fmt"

// Attributes are the categorical properties of an item that bidders match their interests against.
type Attributes struct {
	Subject string `json:"subject" cbor:"subject"`
	Medium  string `json:"medium" cbor:"medium"`
	Creator string `json:"creator" cbor:"creator"`
	Era     int    `json:"era,omitempty" cbor:"era,omitempty"` // century the item was created in
}

// Item is the immutable value object being sold.
type Item struct {
	Name       string     `json:"name" cbor:"name" validate:"required"`
	BaseValue  float64    `json:"base_value" cbor:"base_value" validate:"gt=0"`
	Attributes Attributes `json:"attributes" cbor:"attributes"`
}

// Strategy is the risk tier of a bidder. Higher tiers are willing to pay more.
type Strategy int

const (
	StrategyPassive Strategy = iota
	StrategyMedium
	StrategyAggressive
)

func (s Strategy) String() string {
	switch s {
	case StrategyPassive:
		return "passive"
	case StrategyMedium:
		return "medium"
	case StrategyAggressive:
		return "aggressive"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts the lower-case strategy name used in configuration into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "passive", "":
		return StrategyPassive, nil
	case "medium":
		return StrategyMedium, nil
	case "aggressive":
		return StrategyAggressive, nil
	default:
		return StrategyPassive, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Profile is the private interest profile of a bidder.
type Profile struct {
	Subjects []string `json:"subjects"`
	Media    []string `json:"media"`
	Creators []string `json:"creators"`
	Strategy Strategy `json:"strategy"`
}

// ResponseKind tags a bidder response.
type ResponseKind int

const (
	ResponseBid ResponseKind = iota
	ResponseDecline
	ResponseProtocolFault
	// ResponseTimeout marks a bidder that did not answer before the round deadline.
	ResponseTimeout
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseBid:
		return "bid"
	case ResponseDecline:
		return "decline"
	case ResponseProtocolFault:
		return "protocol_fault"
	case ResponseTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("response(%d)", int(k))
	}
}

// Response is one bidder's answer to an offer.
type Response struct {
	Bidder string       `json:"bidder"`
	Kind   ResponseKind `json:"kind"`
	Amount float64      `json:"amount,omitempty"` // set for ResponseBid
	Reason string       `json:"reason,omitempty"`
}

// Bid returns a bid response for the given amount.
func Bid(bidder string, amount float64) Response {
	return Response{Bidder: bidder, Kind: ResponseBid, Amount: amount}
}

// Decline returns a decline response.
func Decline(bidder, reason string) Response {
	return Response{Bidder: bidder, Kind: ResponseDecline, Reason: reason}
}

// ProtocolFault returns a response for a bidder whose message could not be interpreted.
func ProtocolFault(bidder, reason string) Response {
	return Response{Bidder: bidder, Kind: ResponseProtocolFault, Reason: reason}
}

// Round is the coordinator-local state of one open round.
type Round struct {
	Number      int
	AskingPrice float64
	FloorPrice  float64
	// Eligible lists bidders that may answer this round, in the order offers were sent.
	Eligible []string
}

// FailureReason explains why an auction ended without a winner.
type FailureReason string

const (
	ReasonReserveReached  FailureReason = "reserve reached"
	ReasonNoBiddersLeft   FailureReason = "no bidders left"
	ReasonNoBidders       FailureReason = "no bidders"
	ReasonNoLocalWinners  FailureReason = "no local winners"
	ReasonInvalidReport   FailureReason = "invalid report"
	ReasonCoordinatorDown FailureReason = "coordinator stopped"
)

// Outcome is the terminal result of one coordinator run.
// Exactly one of the Success or Failure shapes is populated, discriminated by Won.
type Outcome struct {
	ConversationID string        `json:"conversation_id"`
	Item           string        `json:"item"`
	Won            bool          `json:"won"`
	Winner         string        `json:"winner,omitempty"`
	WinningBid     float64       `json:"winning_bid,omitempty"`
	Reason         FailureReason `json:"reason,omitempty"`
	RoundsRun      int           `json:"rounds_run"`
}

// Success builds a successful outcome.
func Success(conversationID, item, winner string, amount float64, rounds int) Outcome {
	return Outcome{
		ConversationID: conversationID,
		Item:           item,
		Won:            true,
		Winner:         winner,
		WinningBid:     amount,
		RoundsRun:      rounds,
	}
}

// Failure builds a failed outcome.
func Failure(conversationID, item string, reason FailureReason, rounds int) Outcome {
	return Outcome{
		ConversationID: conversationID,
		Item:           item,
		Reason:         reason,
		RoundsRun:      rounds,
	}
}

func (o Outcome) String() string {
	if o.Won {
		return fmt.Sprintf("Success{%s, %.2f} after %d rounds", o.Winner, o.WinningBid, o.RoundsRun)
	}
	return fmt.Sprintf("Failure{%q} after %d rounds", o.Reason, o.RoundsRun)
}

// DelegateResult is one delegate coordinator's outcome as seen by the aggregator.
type DelegateResult struct {
	Delegate string  `json:"delegate"`
	Outcome  Outcome `json:"outcome"`
}

// GlobalDecision is the aggregator's verdict over all delegates of one federated auction.
type GlobalDecision struct {
	Item      string          `json:"item"`
	Won       bool            `json:"won"`
	Winner    *DelegateResult `json:"winner,omitempty"`
	Delegates int             `json:"delegates"`

	// Losers are local winners that were not selected globally and must be rejected.
	Losers []DelegateResult `json:"losers,omitempty"`
}
