package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/amrrdev/keygen/internal/scylladb"
	"github.com/amrrdev/keygen/internal/types"
	"github.com/gocql/gocql"
)

// Scylla stores documents as rows written USING TTL, so expiry is enforced
// by the database itself.
type Scylla struct {
	db *scylladb.ScyllaDB
}

func NewScylla(db *scylladb.ScyllaDB) *Scylla {
	return &Scylla{db: db}
}

func (s *Scylla) Upsert(ctx context.Context, doc *types.ResultDocument) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	// INSERT in CQL overwrites an existing row with the same key.
	query := `
		INSERT INTO results (request_id, status, key_type, key_bits, public_key,
			private_key, fingerprint, error, ttl_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		USING TTL ?
	`
	err := s.db.Session.Query(query,
		doc.RequestID,
		string(doc.Status),
		doc.KeyType,
		doc.KeyBits,
		doc.PublicKey,
		doc.PrivateKey,
		doc.Fingerprint,
		doc.Error,
		doc.TTLSeconds,
		doc.CreatedAt,
		int(doc.TTL().Seconds()),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to upsert result %s: %w", doc.RequestID, err)
	}
	return nil
}

func (s *Scylla) Get(ctx context.Context, requestID string) (*types.ResultDocument, error) {
	var (
		doc    types.ResultDocument
		status string
	)

	query := `
		SELECT request_id, status, key_type, key_bits, public_key, private_key,
			fingerprint, error, ttl_seconds, created_at
		FROM results WHERE request_id = ?
	`
	err := s.db.Session.Query(query, requestID).WithContext(ctx).Scan(
		&doc.RequestID,
		&status,
		&doc.KeyType,
		&doc.KeyBits,
		&doc.PublicKey,
		&doc.PrivateKey,
		&doc.Fingerprint,
		&doc.Error,
		&doc.TTLSeconds,
		&doc.CreatedAt,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", requestID, err)
	}

	doc.ID = doc.RequestID
	doc.Status = types.ResultStatus(status)
	return &doc, nil
}

func (s *Scylla) Close() error {
	s.db.Close()
	return nil
}
