package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ExtractCOSEPayload extracts the payload from a COSE_Sign1 4-element array without verifying it.
// COSE_Sign1 structure: [protected, unprotected, payload, signature]
// Returns the payload bytes (element 2)
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	var coseArray []any
	err := cbor.Unmarshal(coseBytes, &coseArray)
	if err != nil {
		return nil, malformed("parse COSE array: %v", err)
	}

	if len(coseArray) != 4 {
		return nil, malformed("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	payload, ok := coseArray[2].([]byte)
	if !ok {
		return nil, malformed("invalid payload in COSE structure")
	}

	return payload, nil
}

// PeekOutcome decodes the unverified payload of a signed report, for diagnostics only.
func PeekOutcome(coseBytes []byte, v any) error {
	payload, err := ExtractCOSEPayload(coseBytes)
	if err != nil {
		return err
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: outcome: %v", ErrMalformed, err)
	}
	return nil
}
