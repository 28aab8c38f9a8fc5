package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"linkvault/internal/archive"
	"linkvault/internal/collections"
	"linkvault/internal/domain"
	"linkvault/internal/lock"
	"linkvault/internal/search"
	"linkvault/internal/storage"
)

// UnorganizedName is the collection new links land in.
const UnorganizedName = "Unorganized"

// Library is what the bot can do with a user's links and collections.
type Library struct {
	repo     storage.Repository
	index    search.Index
	archives archive.Store
	capturer archive.Capturer
	locker   lock.Locker
	timeout  time.Duration
	log      logrus.FieldLogger

	wg sync.WaitGroup
}

func NewLibrary(repo storage.Repository, index search.Index, archives archive.Store, capturer archive.Capturer, locker lock.Locker, captureTimeout time.Duration, logger logrus.FieldLogger) *Library {
	if captureTimeout <= 0 {
		captureTimeout = time.Minute
	}
	return &Library{
		repo:     repo,
		index:    index,
		archives: archives,
		capturer: capturer,
		locker:   locker,
		timeout:  captureTimeout,
		log:      logger.WithField("component", "library"),
	}
}

// CreateCollection creates a collection owned by userID, nested under parentID if set.
// The parent must be owned by the same user.
func (l *Library) CreateCollection(ctx context.Context, userID int64, name string, parentID *int64) (*domain.Collection, error) {
	if parentID != nil {
		parent, err := l.repo.GetCollection(ctx, *parentID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, domain.ErrNotAccessible
			}
			return nil, err
		}
		if parent.OwnerID != userID {
			return nil, domain.ErrNotAccessible
		}
	}
	return l.repo.CreateCollection(ctx, domain.Collection{Name: name, OwnerID: userID, ParentID: parentID})
}

// Collections returns the user's collections in their preferred order.
func (l *Library) Collections(ctx context.Context, userID int64) ([]domain.Collection, error) {
	u, err := l.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]domain.Collection, 0, len(u.CollectionOrder))
	for _, id := range u.CollectionOrder {
		c, err := l.repo.GetCollection(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				l.log.WithFields(logrus.Fields{"user_id": userID, "collection_id": id}).Warn("Order references a missing collection")
				continue
			}
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (l *Library) unorganized(ctx context.Context, userID int64) (int64, error) {
	cols, err := l.Collections(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, c := range cols {
		if c.OwnerID == userID && c.IsRoot() && c.Name == UnorganizedName {
			return c.ID, nil
		}
	}
	c, err := l.repo.CreateCollection(ctx, domain.Collection{Name: UnorganizedName, OwnerID: userID})
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// SaveURL stores url in the user's Unorganized collection and indexes it.
// An index failure leaves the link saved but unindexed.
func (l *Library) SaveURL(ctx context.Context, userID int64, url string) (*domain.Link, error) {
	log := l.log.WithFields(logrus.Fields{
		"user_id": userID,
		"url":     url,
	})
	log.Info("Attempting to save URL")

	cid, err := l.unorganized(ctx, userID)
	if err != nil {
		log.WithError(err).Error("Failed to resolve Unorganized collection")
		return nil, fmt.Errorf("failed to resolve collection: %w", err)
	}

	link, err := l.repo.SaveLink(ctx, domain.Link{CollectionID: cid, URL: url})
	if err != nil {
		return nil, err
	}

	if err := l.indexLink(ctx, link); err != nil {
		log.WithError(err).Warn("Link saved without search document")
		return link, nil
	}

	log.WithField("link_id", link.ID).Info("URL saved successfully")
	return link, nil
}

func (l *Library) indexLink(ctx context.Context, link *domain.Link) error {
	err := l.index.IndexDocument(ctx, search.Document{
		LinkID:       link.ID,
		CollectionID: link.CollectionID,
		URL:          link.URL,
		Title:        link.Title,
		Description:  link.Description,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSearchIndex, err)
	}
	if err := l.repo.SetLinkIndexVersion(ctx, link.ID, search.Version); err != nil {
		return err
	}
	v := search.Version
	link.IndexVersion = &v
	return nil
}

// ArchiveAsync captures the link in the background. Wait blocks until every
// started capture has finished.
func (l *Library) ArchiveAsync(link domain.Link) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.log.WithFields(logrus.Fields{
					"link_id": link.ID,
					"panic":   fmt.Sprint(r),
				}).Error("Archiving panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.Archive(ctx, link); err != nil {
			l.log.WithError(err).WithField("link_id", link.ID).Error("Failed to archive link")
		}
	}()
}

func (l *Library) Wait() {
	l.wg.Wait()
}

// Archive renders the link and stores its snapshot. Nothing is written if the
// link or any collection above it was deleted while the page was rendering.
func (l *Library) Archive(ctx context.Context, link domain.Link) error {
	log := l.log.WithFields(logrus.Fields{
		"link_id":       link.ID,
		"collection_id": link.CollectionID,
	})
	log.Info("Attempting to archive link")

	snap, err := l.capturer.Capture(ctx, link.URL)
	if err != nil {
		return fmt.Errorf("failed to capture %s: %w", link.URL, err)
	}

	release, err := l.lockLineage(ctx, link.CollectionID)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			log.Warn("Collection is being modified, skipping archive")
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			log.Info("Collection deleted during capture, skipping archive")
			return nil
		}
		return err
	}
	defer release()

	current, err := l.repo.GetLink(ctx, link.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Info("Link deleted during capture, skipping archive")
			return nil
		}
		return err
	}

	if err := archive.SaveSnapshot(ctx, l.archives, link.CollectionID, link.ID, snap); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrArtifactStore, err)
	}

	if snap.Title != "" || snap.Description != "" {
		current.Title = snap.Title
		current.Description = snap.Description
		if err := l.indexLink(ctx, current); err != nil {
			log.WithError(err).Warn("Failed to index captured metadata")
		}
	}

	log.Info("Link archived successfully")
	return nil
}

// lockLineage takes the delete lock of the collection and of every ancestor.
// A delete of any of them holds one of these locks for its whole run.
func (l *Library) lockLineage(ctx context.Context, collectionID int64) (func(), error) {
	var releases []func()
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	seen := make(map[int64]bool)
	for id := &collectionID; id != nil; {
		if seen[*id] {
			releaseAll()
			return nil, fmt.Errorf("%w: collection %d is its own ancestor", collections.ErrCorruptTree, *id)
		}
		seen[*id] = true

		release, err := l.locker.Acquire(ctx, fmt.Sprintf("collection:%d", *id))
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)

		c, err := l.repo.GetCollection(ctx, *id)
		if err != nil {
			releaseAll()
			return nil, err
		}
		id = c.ParentID
	}
	return releaseAll, nil
}

// Search returns the user's links matching query, best match first.
func (l *Library) Search(ctx context.Context, userID int64, query string, limit int) ([]domain.Link, error) {
	ids, err := l.index.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSearchIndex, err)
	}

	var out []domain.Link
	for _, id := range ids {
		link, err := l.repo.GetLink(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// stale document; the cleanup sweep has not caught up yet
				continue
			}
			return nil, err
		}
		access, err := l.repo.Access(ctx, userID, link.CollectionID)
		if err != nil {
			return nil, err
		}
		if access == nil {
			continue
		}
		out = append(out, *link)
	}
	return out, nil
}
