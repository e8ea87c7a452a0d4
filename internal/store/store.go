// Package store is the warehouse boundary: paginated extraction of
// candidate records, batched existence checks, and idempotent write-back
// of remote identifiers.
package store

import (
	"context"

	"github.com/vertex-labs/crmsync/internal/model"
)

// UpsertResult is the warehouse's answer to an insert-or-update from the
// remote side. ProposalURL is generated by the warehouse on insert and is
// written back to the remote contact as a note.
type UpsertResult struct {
	FactID      string
	ProposalURL string
	Inserted    bool
}

// Store defines the datastore operations used by the reconciliation
// pipelines. All methods are remote-procedure style: a nil error is
// success.
type Store interface {
	// FetchPage returns one offset-paginated page of candidate records.
	// An empty page signals exhaustion.
	FetchPage(ctx context.Context, offset, limit int) ([]model.CandidateRecord, error)

	// KnownContactIDs reports which of the given remote contact ids are
	// already mapped to a warehouse row. One batched query per page.
	KnownContactIDs(ctx context.Context, contactIDs []string) (map[string]bool, error)

	// AssignOwner picks the next owner for a record via the warehouse
	// round-robin function.
	AssignOwner(ctx context.Context, rating, stage, publisher string) (string, error)

	// WriteBack persists the remote identifiers for a record. Keyed by
	// fact id and safe to repeat.
	WriteBack(ctx context.Context, factID, contactID, opportunityID, ownerID string) error

	// MarkDuplicate flags the record so future runs route it straight to
	// SkipDuplicate without a remote call.
	MarkDuplicate(ctx context.Context, factID string) error

	// UpsertFromRemote inserts or updates a warehouse row from a remote
	// contact, keyed by the remote contact id. exists comes from the
	// per-page batched existence check.
	UpsertFromRemote(ctx context.Context, up model.RemoteUpsert, exists bool) (UpsertResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
