// Package session persists UploadSession records in an expiring key/value
// store. The store is the single source of truth for session state; any
// in-memory structure elsewhere is a cache only.
package session

import (
	"context"
	"errors"

	"github.com/relaycast/relaycast/pkg/types"
)

// Common errors
var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
)

// Mutator is applied to a session inside Update. Returning an error aborts
// the update without persisting anything.
type Mutator func(*types.UploadSession) error

// Store is a durable, TTL'd session store keyed by session id.
//
// Update must be atomic per key: a read-modify-write on one session never
// races with another update to the same session. Different sessions may be
// updated concurrently.
type Store interface {
	// Create persists a new session. Fails with ErrAlreadyExists if the id
	// is taken.
	Create(ctx context.Context, s *types.UploadSession) error

	// Get returns a copy of the session, or ErrNotFound.
	Get(ctx context.Context, id string) (*types.UploadSession, error)

	// Update applies mutate atomically and returns the updated copy.
	// The TTL is refreshed on every successful update.
	Update(ctx context.Context, id string, mutate Mutator) (*types.UploadSession, error)

	// Delete removes the session. Deleting a missing session is not an
	// error.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns every live session owned by ownerID.
	ListByOwner(ctx context.Context, ownerID string) ([]*types.UploadSession, error)

	// List returns every live session. Used by the stale-session sweep.
	List(ctx context.Context) ([]*types.UploadSession, error)

	// Close releases the store's resources.
	Close() error
}
