// Package codec turns raw stream payloads into typed telemetry records,
// separating malformed payloads from structurally valid but invalid ones so
// the two can be counted apart.
package codec

import (
	"encoding/json"
	"fmt"

	"fleet-telemetry-pipeline/internal/telemetry"
)

type Reason string

const (
	ReasonMalformed Reason = "malformed"
	ReasonInvalid   Reason = "invalid"
)

// RejectionError marks a payload that must be dropped, never retried.
type RejectionError struct {
	Reason Reason
	Err    error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("payload rejected (%s): %v", e.Reason, e.Err)
}

func (e *RejectionError) Unwrap() error { return e.Err }

func reject(reason Reason, err error) error {
	return &RejectionError{Reason: reason, Err: err}
}

// Decode parses one raw payload for the given stream kind. The returned
// error, when non-nil, is always a *RejectionError.
func Decode(kind telemetry.Kind, payload []byte) (telemetry.Record, error) {
	switch kind {
	case telemetry.KindLocation:
		var rec telemetry.LocationRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, reject(ReasonMalformed, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, reject(ReasonInvalid, err)
		}
		return &rec, nil
	case telemetry.KindStatus:
		var rec telemetry.StatusRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, reject(ReasonMalformed, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, reject(ReasonInvalid, err)
		}
		return &rec, nil
	case telemetry.KindEvent:
		var ev telemetry.DomainEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, reject(ReasonMalformed, err)
		}
		if err := ev.Validate(); err != nil {
			return nil, reject(ReasonInvalid, err)
		}
		return &ev, nil
	}
	return nil, reject(ReasonInvalid, fmt.Errorf("unknown stream kind %q", kind))
}
