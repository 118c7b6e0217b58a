package store

import (
	"context"
	"errors"
	"strings"

	"github.com/amrrdev/keygen/internal/types"
)

// ErrNotFound means no live document exists for the request id. Expired and
// never-written documents are deliberately indistinguishable.
var ErrNotFound = errors.New("result not found")

// ResultStore persists one document per request id. Upsert must overwrite an
// existing document so redelivered jobs converge instead of failing.
type ResultStore interface {
	Upsert(ctx context.Context, doc *types.ResultDocument) error
	Get(ctx context.Context, requestID string) (*types.ResultDocument, error)
	Close() error
}

func validateDocument(doc *types.ResultDocument) error {
	if doc == nil {
		return errors.New("document is required")
	}
	if strings.TrimSpace(doc.RequestID) == "" {
		return errors.New("request_id is required")
	}
	if doc.ID != doc.RequestID {
		return errors.New("document id must equal request_id")
	}
	return nil
}
