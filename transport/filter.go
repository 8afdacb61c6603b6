package transport

import (
	"slices"

	"github.com/cloudx-io/dutchauction/auctionapi"
)

// Filter selects the messages a Receive call is interested in.
type Filter func(auctionapi.Envelope) bool

// Any matches every message.
func Any(auctionapi.Envelope) bool { return true }

// Conversation matches messages of one auction.
func Conversation(id string) Filter {
	return func(env auctionapi.Envelope) bool {
		return env.ConversationID == id
	}
}

// Types matches messages of the given types.
func Types(types ...auctionapi.MessageType) Filter {
	return func(env auctionapi.Envelope) bool {
		return slices.Contains(types, env.Type)
	}
}

// And matches messages accepted by every filter.
func And(filters ...Filter) Filter {
	return func(env auctionapi.Envelope) bool {
		for _, f := range filters {
			if !f(env) {
				return false
			}
		}
		return true
	}
}
