package message

import (
	"encoding/json"
	"fmt"

	sharesync "github.com/steveoberholzer/ShareSync"
)

// Encode serializes the envelope after validating its shape, so a
// structurally broken envelope can never reach the broker.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("message: encode %s: %w", e.MessageID, err)
	}
	return b, nil
}

// Decode parses and validates a wire envelope. Both JSON errors and
// structural violations are reported as sharesync.ErrMalformedEnvelope
// (or sharesync.ErrUnknownKind); such messages are rejected without
// retry — they are not subject to the counted retry policy.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", sharesync.ErrMalformedEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
