// Package collections implements deletion of collections: leaving a shared
// collection and destroying an owned collection together with its subtree.
package collections

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"linkvault/internal/archive"
	"linkvault/internal/cleanup"
	"linkvault/internal/domain"
	"linkvault/internal/storage"
)

// ErrCorruptTree is returned when the parent chain of a subtree loops.
var ErrCorruptTree = errors.New("collection tree contains a cycle")

// SubtreeDeleter destroys collections inside a store transaction.
type SubtreeDeleter struct {
	log logrus.FieldLogger
}

func NewSubtreeDeleter(logger logrus.FieldLogger) *SubtreeDeleter {
	return &SubtreeDeleter{log: logger.WithField("component", "subtree")}
}

type frame struct {
	id       int64
	expanded bool
}

// DeleteSubtree destroys every descendant of rootID, children before parents,
// and appends one cleanup step per destroyed collection to plan. The root
// itself is left in place for the caller.
func (d *SubtreeDeleter) DeleteSubtree(ctx context.Context, tx storage.Tx, rootID int64, plan *cleanup.Plan) error {
	stack := []frame{{id: rootID}}
	seen := map[int64]struct{}{rootID: {}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		top := &stack[len(stack)-1]
		if !top.expanded {
			top.expanded = true
			children, err := tx.ChildCollectionIDs(top.id)
			if err != nil {
				return fmt.Errorf("failed to list children of collection %d: %w", top.id, err)
			}
			for _, child := range children {
				if _, ok := seen[child]; ok {
					return fmt.Errorf("%w: collection %d reached twice under %d", ErrCorruptTree, child, rootID)
				}
				seen[child] = struct{}{}
				stack = append(stack, frame{id: child})
			}
			continue
		}

		id := top.id
		stack = stack[:len(stack)-1]
		if id == rootID {
			continue
		}
		if _, err := d.destroy(tx, id, plan); err != nil {
			return err
		}
	}
	return nil
}

// destroy removes a collection whose children are already gone. Every user who
// loses access has the id pruned from their order.
func (d *SubtreeDeleter) destroy(tx storage.Tx, id int64, plan *cleanup.Plan) (*domain.Collection, error) {
	rels, err := tx.DeleteRelations(id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete relations of collection %d: %w", id, err)
	}
	for _, rel := range rels {
		if err := tx.PruneCollectionOrder(rel.UserID, id); err != nil {
			return nil, fmt.Errorf("failed to prune collection %d from order of user %d: %w", id, rel.UserID, err)
		}
	}

	linkIDs, err := tx.LinkIDs(id)
	if err != nil {
		return nil, fmt.Errorf("failed to list links of collection %d: %w", id, err)
	}
	if err := tx.DeleteLinks(id); err != nil {
		return nil, fmt.Errorf("failed to delete links of collection %d: %w", id, err)
	}

	c, err := tx.DeleteCollection(id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete collection %d: %w", id, err)
	}
	if err := tx.PruneCollectionOrder(c.OwnerID, id); err != nil {
		return nil, fmt.Errorf("failed to prune collection %d from order of owner %d: %w", id, c.OwnerID, err)
	}

	plan.Add(cleanup.Step{
		CollectionID: id,
		LinkIDs:      linkIDs,
		Namespaces:   archive.Namespaces(id),
	})
	d.log.WithFields(logrus.Fields{
		"collection_id": id,
		"links":         len(linkIDs),
		"relations":     len(rels),
	}).Debug("Collection destroyed")
	return c, nil
}
