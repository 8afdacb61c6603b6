package core

import (
	"crypto/sha256"
	"fmt"
	"testing"
)

func TestConversationID(t *testing.T) {
	if got := ConversationID("Mona Lisa"); got != "auction-Mona Lisa" {
		t.Errorf("ConversationID() = %q, want %q", got, "auction-Mona Lisa")
	}
}

func TestComputeOutcomeHash(t *testing.T) {
	o := Success("auction-Bouquet", "Bouquet", "curator-1", 360, 3)

	hash := ComputeOutcomeHash("", o)

	// Verify hash is 64 characters (SHA256 hex encoding)
	if len(hash) != 64 {
		t.Errorf("ComputeOutcomeHash() hash length = %d, want 64", len(hash))
	}

	// Same inputs should produce same hash (deterministic)
	if hash != ComputeOutcomeHash("", o) {
		t.Errorf("ComputeOutcomeHash() not deterministic")
	}

	// Verify exact hash calculation
	expectedData := fmt.Sprintf("|%s|%s|%.4f|%s|%d", o.ConversationID, o.Winner, o.WinningBid, o.Reason, o.RoundsRun)
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData)))
	if hash != expectedHash {
		t.Errorf("ComputeOutcomeHash() = %v, want %v", hash, expectedHash)
	}
}

func TestComputeOutcomeHash_Chained(t *testing.T) {
	o := Failure("auction-Bouquet", "Bouquet", ReasonReserveReached, 7)

	first := ComputeOutcomeHash("", o)
	second := ComputeOutcomeHash(first, o)

	if first == second {
		t.Errorf("previous hash must change the digest")
	}
}

func TestComputeOutcomeHash_DifferentInputs(t *testing.T) {
	base := Success("auction-Bouquet", "Bouquet", "curator-1", 360, 3)

	variants := map[string]Outcome{
		"winner": Success("auction-Bouquet", "Bouquet", "curator-2", 360, 3),
		"bid":    Success("auction-Bouquet", "Bouquet", "curator-1", 324, 3),
		"rounds": Success("auction-Bouquet", "Bouquet", "curator-1", 360, 4),
		"reason": Failure("auction-Bouquet", "Bouquet", ReasonNoBiddersLeft, 3),
	}

	baseHash := ComputeOutcomeHash("", base)
	for name, v := range variants {
		if ComputeOutcomeHash("", v) == baseHash {
			t.Errorf("changing %s should change the hash", name)
		}
	}
}
