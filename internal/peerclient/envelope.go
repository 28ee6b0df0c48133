package peerclient

import (
	"encoding/json"

	"chainsyncd/internal/syncerrors"
)

// Pagination describes the pagination block of a modern envelope.
type Pagination struct {
	HasMore bool `json:"has_more"`
}

// envelope is the modern peer response shape:
// {"success":true,"data":...,"pagination":{"has_more":bool}}
type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination"`
}

// DecodeEnvelope accepts both response shapes documented in spec.md §6:
// the modern {success,data,pagination} envelope and legacy top-level
// arrays/objects. It unmarshals the payload into out and returns pagination
// info when present (nil otherwise, meaning "no pagination info").
func DecodeEnvelope(raw json.RawMessage, out any) (*Pagination, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, syncerrors.New(syncerrors.KindDecode, "decode envelope data", err)
		}
		return env.Pagination, nil
	}
	// Legacy shape: the raw payload itself is the array/object.
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, syncerrors.New(syncerrors.KindDecode, "decode legacy payload", err)
	}
	return nil, nil
}
