package types

import "time"

type ResultStatus string

const (
	StatusQueued   ResultStatus = "queued"
	StatusPending  ResultStatus = "pending"
	StatusComplete ResultStatus = "complete"
	StatusError    ResultStatus = "error"
)

const DefaultResultTTL = 24 * time.Hour

// ResultDocument is the stored outcome of one job. ID always equals RequestID.
type ResultDocument struct {
	ID          string       `json:"id" yaml:"id"`
	RequestID   string       `json:"request_id" yaml:"request_id"`
	Status      ResultStatus `json:"status" yaml:"status"`
	KeyType     string       `json:"key_type" yaml:"key_type"`
	KeyBits     int          `json:"key_bits" yaml:"key_bits"`
	PublicKey   string       `json:"public_key,omitempty" yaml:"public_key,omitempty"`
	PrivateKey  string       `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Error       string       `json:"error,omitempty" yaml:"error,omitempty"`
	TTLSeconds  int          `json:"ttl_seconds" yaml:"ttl_seconds"`
	CreatedAt   int64        `json:"created_at" yaml:"created_at"`
}

// TTL returns the document expiry as a duration, falling back to the default
// when the document carries none.
func (d *ResultDocument) TTL() time.Duration {
	if d.TTLSeconds <= 0 {
		return DefaultResultTTL
	}
	return time.Duration(d.TTLSeconds) * time.Second
}

// ExpiresAt is relative to CreatedAt.
func (d *ResultDocument) ExpiresAt() time.Time {
	return time.Unix(d.CreatedAt, 0).Add(d.TTL())
}
