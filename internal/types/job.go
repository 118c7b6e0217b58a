package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	KeyTypeRSA     = "rsa"
	KeyTypeEd25519 = "ed25519"

	DefaultKeyType = KeyTypeRSA
	DefaultKeyBits = 2048
	MinKeyBits     = 1024
	MaxKeyBits     = 8192

	// UnknownRequestID is reported when neither the body nor the queue
	// correlation id carries a request id.
	UnknownRequestID = "unknown"
)

// JobRequest is the client payload of POST /keygen after default substitution.
type JobRequest struct {
	KeyType string `json:"key_type"`
	KeyBits int    `json:"key_bits"`

	// Warnings lists the substitutions applied while normalizing.
	Warnings []string `json:"-"`
}

// JobMessage is the body published to the keygen queue.
type JobMessage struct {
	RequestID string `json:"request_id"`
	KeyType   string `json:"key_type"`
	KeyBits   int    `json:"key_bits"`
}

// rawJob keeps fields undecoded so malformed values can fall back to defaults
// instead of failing the whole payload.
type rawJob struct {
	RequestID json.RawMessage `json:"request_id"`
	KeyType   json.RawMessage `json:"key_type"`
	KeyBits   json.RawMessage `json:"key_bits"`
}

// ParseJobRequest never fails: a missing or malformed body is treated as {}.
func ParseJobRequest(body []byte) JobRequest {
	var raw rawJob
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			raw = rawJob{}
		}
	}
	return normalize(raw)
}

// DecodeJobMessage decodes a queue body. Unlike ParseJobRequest it reports
// undecodable JSON, because the worker needs to know the body was unusable.
func DecodeJobMessage(body []byte) (*JobMessage, []string, error) {
	var raw rawJob
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, err
	}

	req := normalize(raw)
	var requestID string
	if len(raw.RequestID) > 0 {
		_ = json.Unmarshal(raw.RequestID, &requestID)
	}

	return &JobMessage{
		RequestID: strings.TrimSpace(requestID),
		KeyType:   req.KeyType,
		KeyBits:   req.KeyBits,
	}, req.Warnings, nil
}

func normalize(raw rawJob) JobRequest {
	req := JobRequest{KeyType: DefaultKeyType, KeyBits: DefaultKeyBits}

	if len(raw.KeyType) > 0 && string(raw.KeyType) != "null" {
		var keyType string
		if err := json.Unmarshal(raw.KeyType, &keyType); err != nil {
			req.Warnings = append(req.Warnings, "key_type is not a string, using rsa")
		} else {
			resolved, ok := ResolveKeyType(keyType)
			if !ok {
				req.Warnings = append(req.Warnings, "unsupported key_type "+strconv.Quote(keyType)+", using rsa")
			}
			req.KeyType = resolved
		}
	}

	if len(raw.KeyBits) > 0 && string(raw.KeyBits) != "null" {
		bits, ok := CoerceKeyBits(raw.KeyBits)
		if !ok {
			req.Warnings = append(req.Warnings, "key_bits is not a usable integer, using 2048")
		}
		req.KeyBits = bits
	}

	return req
}

// ResolveKeyType maps a client key type onto the supported set. Unknown values
// resolve to rsa and report ok=false.
func ResolveKeyType(keyType string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(keyType)) {
	case KeyTypeRSA:
		return KeyTypeRSA, true
	case KeyTypeEd25519:
		return KeyTypeEd25519, true
	default:
		return KeyTypeRSA, false
	}
}

// CoerceKeyBits accepts integral JSON numbers and numeric strings within
// [MinKeyBits, MaxKeyBits]. Anything else yields DefaultKeyBits and ok=false.
func CoerceKeyBits(raw json.RawMessage) (int, bool) {
	var value json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return DefaultKeyBits, false
	}

	switch t := v.(type) {
	case json.Number:
		value = t
	case string:
		value = json.Number(strings.TrimSpace(t))
	default:
		return DefaultKeyBits, false
	}

	bits, err := strconv.Atoi(value.String())
	if err != nil {
		f, ferr := value.Float64()
		if ferr != nil || f != float64(int(f)) {
			return DefaultKeyBits, false
		}
		bits = int(f)
	}

	if bits < MinKeyBits || bits > MaxKeyBits {
		return DefaultKeyBits, false
	}
	return bits, true
}
