package collections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"linkvault/internal/cleanup"
	"linkvault/internal/domain"
	"linkvault/internal/lock"
	"linkvault/internal/metrics"
	"linkvault/internal/storage"
)

// PermissionGate resolves who can see a collection.
type PermissionGate interface {
	// Access returns nil when the collection does not exist or userID has no access.
	Access(ctx context.Context, userID, collectionID int64) (*domain.Access, error)
}

// Cleaner takes the secondary-store work of a committed deletion.
type Cleaner interface {
	Dispatch(plan cleanup.Plan)
}

// DeleteResult is the payload of a successful deletion. Exactly one field is set:
// Relation when the requester left a shared collection, Collection when the
// owner destroyed it.
type DeleteResult struct {
	Relation   *domain.Relation
	Collection *domain.Collection
}

// errGone marks a collection or relation removed after the access check.
var errGone = errors.New("gone")

// Service deletes collections on behalf of users.
type Service struct {
	repo    storage.Repository
	gate    PermissionGate
	subtree *SubtreeDeleter
	orders  *OrderRegistry
	cleaner Cleaner
	locker  lock.Locker
	log     logrus.FieldLogger
}

// NewService wires the deletion service. The repository doubles as the
// permission gate.
func NewService(repo storage.Repository, cleaner Cleaner, locker lock.Locker, logger logrus.FieldLogger) *Service {
	return &Service{
		repo:    repo,
		gate:    repo,
		subtree: NewSubtreeDeleter(logger),
		orders:  NewOrderRegistry(repo),
		cleaner: cleaner,
		locker:  locker,
		log:     logger.WithField("component", "collections"),
	}
}

// WithGate replaces the permission gate.
func (s *Service) WithGate(gate PermissionGate) *Service {
	s.gate = gate
	return s
}

// DeleteCollection removes collectionID from userID's view. A member leaves
// the collection; the owner destroys it with its whole subtree. Relational
// changes commit atomically before any search or archive cleanup is queued.
func (s *Service) DeleteCollection(ctx context.Context, userID, collectionID int64) (*DeleteResult, error) {
	if collectionID <= 0 {
		return nil, fmt.Errorf("%w: collection id is required", domain.ErrInvalidArgument)
	}

	log := s.log.WithFields(logrus.Fields{
		"user_id":       userID,
		"collection_id": collectionID,
	})
	log.Info("Attempting to delete collection")

	start := time.Now()
	defer func() {
		metrics.DeleteDuration.Observe(time.Since(start).Seconds())
	}()

	access, err := s.gate.Access(ctx, userID, collectionID)
	if err != nil {
		log.WithError(err).Error("Failed to check collection access")
		return nil, fmt.Errorf("%w: %w", domain.ErrRelational, err)
	}
	if access == nil {
		log.Info("Collection not accessible")
		return nil, domain.ErrNotAccessible
	}

	isOwner := access.IsOwner(userID)
	if !isOwner && !access.IsMember(userID) {
		log.Info("Collection not accessible")
		return nil, domain.ErrNotAccessible
	}

	release, err := s.locker.Acquire(ctx, fmt.Sprintf("collection:%d", collectionID))
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			log.Warn("Collection is locked by another request")
			return nil, domain.ErrBusy
		}
		log.WithError(err).Error("Failed to lock collection")
		return nil, fmt.Errorf("failed to lock collection %d: %w", collectionID, err)
	}
	defer release()

	if isOwner {
		return s.destroy(ctx, log, collectionID)
	}
	return s.leave(ctx, log, userID, collectionID)
}

func (s *Service) leave(ctx context.Context, log logrus.FieldLogger, userID, collectionID int64) (*DeleteResult, error) {
	var rel *domain.Relation
	err := s.repo.Update(ctx, func(tx storage.Tx) error {
		var err error
		rel, err = tx.DeleteRelation(userID, collectionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errGone
			}
			return fmt.Errorf("failed to delete relation: %w", err)
		}
		if err := tx.ClearLinkIndexVersion(collectionID); err != nil {
			return fmt.Errorf("failed to clear index version of links: %w", err)
		}
		return s.orders.prune(tx, userID, collectionID)
	})
	if err != nil {
		return nil, s.fail(log, err)
	}

	metrics.CollectionsDeleted.WithLabelValues("leave").Inc()
	log.Info("User left collection successfully")
	return &DeleteResult{Relation: rel}, nil
}

func (s *Service) destroy(ctx context.Context, log logrus.FieldLogger, collectionID int64) (*DeleteResult, error) {
	var (
		plan cleanup.Plan
		root *domain.Collection
	)
	err := s.repo.Update(ctx, func(tx storage.Tx) error {
		// Update may run this more than once.
		plan = cleanup.Plan{}

		if _, err := tx.GetCollection(collectionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errGone
			}
			return fmt.Errorf("failed to get collection: %w", err)
		}
		if err := s.subtree.DeleteSubtree(ctx, tx, collectionID, &plan); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		root, err = s.subtree.destroy(tx, collectionID, &plan)
		return err
	})
	if err != nil {
		return nil, s.fail(log, err)
	}

	linkIDs := plan.LinkIDs()
	metrics.CollectionsDeleted.WithLabelValues("owner").Add(float64(len(plan.Steps)))
	metrics.LinksDeleted.Add(float64(len(linkIDs)))

	s.cleaner.Dispatch(plan)

	log.WithFields(logrus.Fields{
		"collections": len(plan.Steps),
		"links":       len(linkIDs),
	}).Info("Collection deleted successfully")
	return &DeleteResult{Collection: root}, nil
}

func (s *Service) fail(log logrus.FieldLogger, err error) error {
	if errors.Is(err, errGone) {
		log.Info("Collection was deleted by a concurrent request")
		return domain.ErrNotAccessible
	}
	log.WithError(err).Error("Failed to delete collection")
	return fmt.Errorf("%w: %w", domain.ErrRelational, err)
}
