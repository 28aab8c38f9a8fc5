package collections

import (
	"context"
	"fmt"

	"linkvault/internal/storage"
)

// OrderRegistry maintains each user's preferred collection order.
type OrderRegistry struct {
	repo storage.Repository
}

func NewOrderRegistry(repo storage.Repository) *OrderRegistry {
	return &OrderRegistry{repo: repo}
}

// PruneCollection removes collectionID from the user's order in its own
// transaction. Users without a stored order are left alone.
func (o *OrderRegistry) PruneCollection(ctx context.Context, userID, collectionID int64) error {
	err := o.repo.Update(ctx, func(tx storage.Tx) error {
		return o.prune(tx, userID, collectionID)
	})
	if err != nil {
		return fmt.Errorf("failed to prune collection %d from order of user %d: %w", collectionID, userID, err)
	}
	return nil
}

func (o *OrderRegistry) prune(tx storage.Tx, userID, collectionID int64) error {
	return tx.PruneCollectionOrder(userID, collectionID)
}
