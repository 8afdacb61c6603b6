package core

import (
	"crypto/sha256"
	"fmt"
)

const conversationPrefix = "auction-"

// ConversationID returns the correlation key shared by every message of one auction of the item.
//
// Format: "auction-" + item name
func ConversationID(itemName string) string {
	return conversationPrefix + itemName
}

// ComputeOutcomeHash computes a digest of a recorded outcome chained to the previous record's hash.
// Ledgers store it so that a rewritten or reordered history is detectable.
//
// Formula: SHA256(prev_hash + "|" + conversation_id + "|" + winner + "|" + sprintf("%.4f", bid) + "|" + reason + "|" + rounds)
//
// The bid is formatted to exactly 4 decimal places, the monetary precision used everywhere else.
func ComputeOutcomeHash(prevHash string, o Outcome) string {
	data := fmt.Sprintf("%s|%s|%s|%.4f|%s|%d", prevHash, o.ConversationID, o.Winner, o.WinningBid, o.Reason, o.RoundsRun)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
