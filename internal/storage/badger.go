package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"linkvault/internal/domain"
)

const defaultMaxRetries = 10

// BadgerRepository implements the Repository interface using BadgerDB.
// Badger transactions are serializable, so a whole deletion runs in one
// transaction and conflicting writers are retried.
type BadgerRepository struct {
	db            *badger.DB
	log           logrus.FieldLogger
	maxRetries    int
	collectionSeq *badger.Sequence
	linkSeq       *badger.Sequence
}

// BadgerOption customizes a BadgerRepository.
type BadgerOption func(*BadgerRepository)

// WithMaxRetries sets how many times a conflicting transaction is attempted.
func WithMaxRetries(n int) BadgerOption {
	return func(r *BadgerRepository) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// NewBadgerRepository creates and initializes a new BadgerDB repository.
// It opens the database at the specified path.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger, opts ...BadgerOption) (*BadgerRepository, error) {
	bopts := badger.DefaultOptions(dbPath)
	bopts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(bopts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	logger.Info("BadgerDB opened successfully at path: ", dbPath)

	repo := &BadgerRepository{
		db:         db,
		log:        logger.WithField("component", "repository"),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(repo)
	}

	if repo.collectionSeq, err = db.GetSequence([]byte("seq:collection"), 100); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open collection sequence: %w", err)
	}
	if repo.linkSeq, err = db.GetSequence([]byte("seq:link"), 100); err != nil {
		_ = repo.collectionSeq.Release()
		_ = db.Close()
		return nil, fmt.Errorf("failed to open link sequence: %w", err)
	}

	return repo, nil
}

// Close releases the id sequences and closes the BadgerDB database connection.
func (r *BadgerRepository) Close() error {
	r.log.Info("Closing BadgerDB...")
	if err := r.collectionSeq.Release(); err != nil {
		r.log.WithError(err).Warn("Error releasing collection sequence")
	}
	if err := r.linkSeq.Release(); err != nil {
		r.log.WithError(err).Warn("Error releasing link sequence")
	}
	err := r.db.Close()
	if err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	r.log.Info("BadgerDB closed.")
	return nil
}

// --- Key layout ---
//
//	collection:{id}                   collection row
//	collection:{parent}:child:{id}    parent -> child index
//	collection:{id}:link:{linkID}     collection -> link index
//	collection:{id}:member:{userID}   membership relation
//	link:{id}                         link row
//	user:{id}                         user state (collection order)

func collectionKey(id int64) []byte {
	return []byte(fmt.Sprintf("collection:%d", id))
}

func childPrefix(parentID int64) []byte {
	return []byte(fmt.Sprintf("collection:%d:child:", parentID))
}

func childKey(parentID, id int64) []byte {
	return append(childPrefix(parentID), strconv.FormatInt(id, 10)...)
}

func collectionLinkPrefix(collectionID int64) []byte {
	return []byte(fmt.Sprintf("collection:%d:link:", collectionID))
}

func collectionLinkKey(collectionID, linkID int64) []byte {
	return append(collectionLinkPrefix(collectionID), strconv.FormatInt(linkID, 10)...)
}

func memberPrefix(collectionID int64) []byte {
	return []byte(fmt.Sprintf("collection:%d:member:", collectionID))
}

func memberKey(collectionID, userID int64) []byte {
	return append(memberPrefix(collectionID), strconv.FormatInt(userID, 10)...)
}

func linkKey(id int64) []byte {
	return []byte(fmt.Sprintf("link:%d", id))
}

func userKey(id int64) []byte {
	return []byte(fmt.Sprintf("user:%d", id))
}

// update runs fn in a read-write transaction, retrying on badger.ErrConflict.
func (r *BadgerRepository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < r.maxRetries {
			r.log.WithField("attempt", attempt).Debug("Transaction conflict, retrying")
			continue
		}
		return err
	}
}

// Update runs fn inside one serializable Badger transaction.
func (r *BadgerRepository) Update(ctx context.Context, fn func(tx Tx) error) error {
	return r.update(ctx, func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (r *BadgerRepository) nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	// Sequences start at zero; zero is reserved for "no id".
	return int64(n) + 1, nil
}

// Access resolves the owner and members of a collection as seen by userID.
func (r *BadgerRepository) Access(ctx context.Context, userID, collectionID int64) (*domain.Access, error) {
	log := r.log.WithFields(logrus.Fields{
		"user_id":       userID,
		"collection_id": collectionID,
	})

	var access *domain.Access
	err := r.db.View(func(txn *badger.Txn) error {
		var c domain.Collection
		if err := getJSON(txn, collectionKey(collectionID), &c); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		members, err := scanRelations(txn, collectionID)
		if err != nil {
			return err
		}
		a := &domain.Access{OwnerID: c.OwnerID, Members: members}
		if a.IsOwner(userID) || a.IsMember(userID) {
			access = a
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to resolve collection access")
		return nil, fmt.Errorf("failed to resolve access to collection %d: %w", collectionID, err)
	}
	return access, nil
}

// CreateCollection stores a new collection and appends it to the owner's order.
func (r *BadgerRepository) CreateCollection(ctx context.Context, c domain.Collection) (*domain.Collection, error) {
	log := r.log.WithFields(logrus.Fields{
		"owner_id": c.OwnerID,
		"name":     c.Name,
	})
	log.Info("Attempting to create collection")

	id, err := r.nextID(r.collectionSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate collection id: %w", err)
	}
	c.ID = id
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	err = r.update(ctx, func(txn *badger.Txn) error {
		if c.ParentID != nil {
			if _, err := touchCollection(txn, *c.ParentID); err != nil {
				return fmt.Errorf("parent collection %d: %w", *c.ParentID, err)
			}
			if err := txn.Set(childKey(*c.ParentID, c.ID), nil); err != nil {
				return err
			}
		}
		if err := setJSON(txn, collectionKey(c.ID), c); err != nil {
			return err
		}
		return appendOrder(txn, c.OwnerID, c.ID)
	})
	if err != nil {
		log.WithError(err).Error("Failed to create collection")
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	log.WithField("collection_id", c.ID).Info("Collection created successfully")
	return &c, nil
}

func (r *BadgerRepository) GetCollection(ctx context.Context, id int64) (*domain.Collection, error) {
	var c domain.Collection
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, collectionKey(id), &c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %d: %w", id, err)
	}
	return &c, nil
}

// AddMember stores a membership relation and appends the collection to the member's order.
func (r *BadgerRepository) AddMember(ctx context.Context, rel domain.Relation) error {
	log := r.log.WithFields(logrus.Fields{
		"user_id":       rel.UserID,
		"collection_id": rel.CollectionID,
	})
	log.Info("Attempting to add member")

	if rel.Role == "" {
		rel.Role = domain.RoleMember
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}

	err := r.update(ctx, func(txn *badger.Txn) error {
		if _, err := touchCollection(txn, rel.CollectionID); err != nil {
			return fmt.Errorf("collection %d: %w", rel.CollectionID, err)
		}
		if err := setJSON(txn, memberKey(rel.CollectionID, rel.UserID), rel); err != nil {
			return err
		}
		return appendOrder(txn, rel.UserID, rel.CollectionID)
	})
	if err != nil {
		log.WithError(err).Error("Failed to add member")
		return fmt.Errorf("failed to add member %d to collection %d: %w", rel.UserID, rel.CollectionID, err)
	}

	log.Info("Member added successfully")
	return nil
}

// SaveLink stores a new link in BadgerDB.
func (r *BadgerRepository) SaveLink(ctx context.Context, link domain.Link) (*domain.Link, error) {
	log := r.log.WithFields(logrus.Fields{
		"collection_id": link.CollectionID,
		"url":           link.URL,
	})
	log.Info("Attempting to save link")

	id, err := r.nextID(r.linkSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate link id: %w", err)
	}
	link.ID = id
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}

	err = r.update(ctx, func(txn *badger.Txn) error {
		if _, err := touchCollection(txn, link.CollectionID); err != nil {
			return fmt.Errorf("collection %d: %w", link.CollectionID, err)
		}
		if err := setJSON(txn, linkKey(link.ID), link); err != nil {
			return err
		}
		return txn.Set(collectionLinkKey(link.CollectionID, link.ID), nil)
	})
	if err != nil {
		log.WithError(err).Error("Failed to save link to BadgerDB")
		return nil, fmt.Errorf("failed to save link: %w", err)
	}

	log.WithField("link_id", link.ID).Info("Link saved successfully")
	return &link, nil
}

func (r *BadgerRepository) GetLink(ctx context.Context, id int64) (*domain.Link, error) {
	var link domain.Link
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, linkKey(id), &link)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get link %d: %w", id, err)
	}
	return &link, nil
}

// GetLinksByCollection retrieves all direct links of a collection, newest first.
func (r *BadgerRepository) GetLinksByCollection(ctx context.Context, collectionID int64) ([]domain.Link, error) {
	log := r.log.WithField("collection_id", collectionID)

	var links []domain.Link
	err := r.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, collectionLinkPrefix(collectionID))
		if err != nil {
			return err
		}
		for _, id := range ids {
			var link domain.Link
			if err := getJSON(txn, linkKey(id), &link); err != nil {
				return fmt.Errorf("link %d: %w", id, err)
			}
			links = append(links, link)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to retrieve links from BadgerDB")
		return nil, fmt.Errorf("failed to get links for collection %d: %w", collectionID, err)
	}

	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
	return links, nil
}

func (r *BadgerRepository) SetLinkIndexVersion(ctx context.Context, linkID int64, version int) error {
	err := r.update(ctx, func(txn *badger.Txn) error {
		var link domain.Link
		if err := getJSON(txn, linkKey(linkID), &link); err != nil {
			return err
		}
		link.IndexVersion = &version
		return setJSON(txn, linkKey(linkID), link)
	})
	if err != nil {
		return fmt.Errorf("failed to set index version of link %d: %w", linkID, err)
	}
	return nil
}

func (r *BadgerRepository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &u)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &u, nil
}

// --- Transaction helpers ---

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("failed to unmarshal value for key %s: %w", string(key), err)
		}
		return nil
	})
}

// touchCollection reads a collection row and writes it back unchanged.
// Badger only detects conflicts on keys a transaction read and another one
// wrote, so anything attached to a collection must write its row: a delete
// that started earlier then conflicts and retries instead of orphaning it.
func touchCollection(txn *badger.Txn, id int64) (*domain.Collection, error) {
	var c domain.Collection
	if err := getJSON(txn, collectionKey(id), &c); err != nil {
		return nil, err
	}
	if err := setJSON(txn, collectionKey(id), c); err != nil {
		return nil, err
	}
	return &c, nil
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", string(key), err)
	}
	return txn.SetEntry(badger.NewEntry(key, b))
}

// scanKeys returns copies of every key under prefix.
func scanKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// scanIDs parses the trailing numeric id of every key under prefix.
func scanIDs(txn *badger.Txn, prefix []byte) ([]int64, error) {
	keys := scanKeys(txn, prefix)
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.ParseInt(string(k[len(prefix):]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed key %s: %w", string(k), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func scanRelations(txn *badger.Txn, collectionID int64) ([]domain.Relation, error) {
	var rels []domain.Relation
	for _, k := range scanKeys(txn, memberPrefix(collectionID)) {
		var rel domain.Relation
		if err := getJSON(txn, k, &rel); err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

func appendOrder(txn *badger.Txn, userID, collectionID int64) error {
	u := domain.User{ID: userID}
	if err := getJSON(txn, userKey(userID), &u); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	for _, id := range u.CollectionOrder {
		if id == collectionID {
			return nil
		}
	}
	u.CollectionOrder = append(u.CollectionOrder, collectionID)
	return setJSON(txn, userKey(userID), u)
}

// --- BadgerDB Internal Logger ---

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Infof(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
