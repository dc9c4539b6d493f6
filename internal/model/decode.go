package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeRequest parses a single JSON object into a Request, rejecting
// unknown fields per spec §6 ("Unknown fields in the request are rejected
// to prevent silent misconfiguration").
func DecodeRequest(data []byte) (Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var req Request
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// Encode marshals the Response to its wire JSON form. Fields are never
// emitted as `null`; absent optional fields are omitted via `omitempty`.
func (r Response) Encode() ([]byte, error) {
	return json.Marshal(r)
}
