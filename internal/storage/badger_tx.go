package storage

import (
	"errors"

	"github.com/dgraph-io/badger/v4"

	"linkvault/internal/domain"
)

// badgerTx implements Tx on top of a read-write Badger transaction.
type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) GetCollection(id int64) (*domain.Collection, error) {
	var c domain.Collection
	if err := getJSON(t.txn, collectionKey(id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *badgerTx) ChildCollectionIDs(id int64) ([]int64, error) {
	return scanIDs(t.txn, childPrefix(id))
}

func (t *badgerTx) LinkIDs(collectionID int64) ([]int64, error) {
	return scanIDs(t.txn, collectionLinkPrefix(collectionID))
}

func (t *badgerTx) DeleteRelations(collectionID int64) ([]domain.Relation, error) {
	rels, err := scanRelations(t.txn, collectionID)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		if err := t.txn.Delete(memberKey(collectionID, rel.UserID)); err != nil {
			return nil, err
		}
	}
	return rels, nil
}

func (t *badgerTx) DeleteRelation(userID, collectionID int64) (*domain.Relation, error) {
	key := memberKey(collectionID, userID)
	var rel domain.Relation
	if err := getJSON(t.txn, key, &rel); err != nil {
		return nil, err
	}
	if err := t.txn.Delete(key); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (t *badgerTx) DeleteLinks(collectionID int64) error {
	ids, err := t.LinkIDs(collectionID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := t.txn.Delete(linkKey(id)); err != nil {
			return err
		}
		if err := t.txn.Delete(collectionLinkKey(collectionID, id)); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) ClearLinkIndexVersion(collectionID int64) error {
	ids, err := t.LinkIDs(collectionID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		var link domain.Link
		if err := getJSON(t.txn, linkKey(id), &link); err != nil {
			return err
		}
		if link.IndexVersion == nil {
			continue
		}
		link.IndexVersion = nil
		if err := setJSON(t.txn, linkKey(id), link); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) DeleteCollection(id int64) (*domain.Collection, error) {
	c, err := t.GetCollection(id)
	if err != nil {
		return nil, err
	}
	if err := t.txn.Delete(collectionKey(id)); err != nil {
		return nil, err
	}
	if c.ParentID != nil {
		if err := t.txn.Delete(childKey(*c.ParentID, id)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (t *badgerTx) PruneCollectionOrder(userID, collectionID int64) error {
	var u domain.User
	if err := getJSON(t.txn, userKey(userID), &u); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	pruned := domain.WithoutID(u.CollectionOrder, collectionID)
	if len(pruned) == len(u.CollectionOrder) {
		return nil
	}
	u.CollectionOrder = pruned
	return setJSON(t.txn, userKey(userID), u)
}
