package storage

import (
	"context"
	"errors"

	"linkvault/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for the store of record.
// This allows us to swap storage implementations (BadgerDB, PostgreSQL)
// without changing the core application logic that uses it.
type Repository interface {
	// Update runs fn as one atomic unit of work. Nothing fn did is visible
	// unless it returns nil. fn may be invoked more than once on write conflicts,
	// so it must not have side effects outside tx.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Access returns the owner and members of a collection, or nil when the
	// collection does not exist or userID can not see it.
	Access(ctx context.Context, userID, collectionID int64) (*domain.Access, error)

	// CreateCollection stores a new collection and appends it to the owner's order.
	// A non-nil ParentID must reference an existing collection.
	CreateCollection(ctx context.Context, c domain.Collection) (*domain.Collection, error)

	GetCollection(ctx context.Context, id int64) (*domain.Collection, error)

	// AddMember stores a membership relation and appends the collection to the member's order.
	AddMember(ctx context.Context, rel domain.Relation) error

	// SaveLink stores a new link in an existing collection.
	SaveLink(ctx context.Context, link domain.Link) (*domain.Link, error)

	GetLink(ctx context.Context, id int64) (*domain.Link, error)

	// GetLinksByCollection returns the direct links of a collection, newest first.
	GetLinksByCollection(ctx context.Context, collectionID int64) ([]domain.Link, error)

	SetLinkIndexVersion(ctx context.Context, linkID int64, version int) error

	// GetUser returns ErrNotFound if the user has no stored state yet.
	GetUser(ctx context.Context, id int64) (*domain.User, error)

	// Close gracefully shuts down the repository connection.
	Close() error
}

// Tx is the set of relational operations available inside Repository.Update.
type Tx interface {
	GetCollection(id int64) (*domain.Collection, error)

	// ChildCollectionIDs returns the ids of the direct children of a collection.
	ChildCollectionIDs(id int64) ([]int64, error)

	// LinkIDs returns the ids of the direct links of a collection.
	LinkIDs(collectionID int64) ([]int64, error)

	// DeleteRelations removes every membership of a collection and returns them.
	DeleteRelations(collectionID int64) ([]domain.Relation, error)

	// DeleteRelation removes one membership. Returns ErrNotFound if absent.
	DeleteRelation(userID, collectionID int64) (*domain.Relation, error)

	DeleteLinks(collectionID int64) error

	// ClearLinkIndexVersion unsets IndexVersion on every direct link of a collection.
	ClearLinkIndexVersion(collectionID int64) error

	// DeleteCollection removes the collection row. Returns ErrNotFound if absent.
	DeleteCollection(id int64) (*domain.Collection, error)

	// PruneCollectionOrder removes collectionID from the user's order.
	// It is a no-op when the user has no stored order.
	PruneCollectionOrder(userID, collectionID int64) error
}
