package collections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkvault/internal/cleanup"
	"linkvault/internal/domain"
	"linkvault/internal/storage"
)

// memTx is an in-memory storage.Tx that records the order of destructive calls.
type memTx struct {
	collections map[int64]*domain.Collection
	children    map[int64][]int64
	links       map[int64][]int64
	relations   map[int64][]domain.Relation
	orders      map[int64][]int64

	events []string
	failOn string
}

func newMemTx() *memTx {
	return &memTx{
		collections: map[int64]*domain.Collection{},
		children:    map[int64][]int64{},
		links:       map[int64][]int64{},
		relations:   map[int64][]domain.Relation{},
		orders:      map[int64][]int64{},
	}
}

func (m *memTx) add(id, owner int64, parent *int64, links ...int64) {
	m.collections[id] = &domain.Collection{ID: id, OwnerID: owner, ParentID: parent}
	if parent != nil {
		m.children[*parent] = append(m.children[*parent], id)
	}
	m.links[id] = links
	m.orders[owner] = append(m.orders[owner], id)
}

func (m *memTx) record(event string) error {
	m.events = append(m.events, event)
	if event == m.failOn {
		return errors.New("connection reset")
	}
	return nil
}

func (m *memTx) GetCollection(id int64) (*domain.Collection, error) {
	c, ok := m.collections[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func (m *memTx) ChildCollectionIDs(id int64) ([]int64, error) {
	return m.children[id], nil
}

func (m *memTx) LinkIDs(collectionID int64) ([]int64, error) {
	return m.links[collectionID], nil
}

func (m *memTx) DeleteRelations(collectionID int64) ([]domain.Relation, error) {
	if err := m.record(eventf("relations", collectionID)); err != nil {
		return nil, err
	}
	rels := m.relations[collectionID]
	delete(m.relations, collectionID)
	return rels, nil
}

func (m *memTx) DeleteRelation(userID, collectionID int64) (*domain.Relation, error) {
	return nil, storage.ErrNotFound
}

func (m *memTx) DeleteLinks(collectionID int64) error {
	if err := m.record(eventf("links", collectionID)); err != nil {
		return err
	}
	delete(m.links, collectionID)
	return nil
}

func (m *memTx) ClearLinkIndexVersion(collectionID int64) error {
	return nil
}

func (m *memTx) DeleteCollection(id int64) (*domain.Collection, error) {
	if err := m.record(eventf("collection", id)); err != nil {
		return nil, err
	}
	c, ok := m.collections[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(m.collections, id)
	return c, nil
}

func (m *memTx) PruneCollectionOrder(userID, collectionID int64) error {
	if order, ok := m.orders[userID]; ok {
		m.orders[userID] = domain.WithoutID(order, collectionID)
	}
	return nil
}

func eventf(kind string, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func ptr(id int64) *int64 { return &id }

func TestDeleteSubtree_PostOrder(t *testing.T) {
	tx := newMemTx()
	tx.add(1, 1, nil, 10)
	tx.add(2, 1, ptr(1), 20, 21)
	tx.add(3, 1, ptr(2), 30)
	tx.add(4, 1, ptr(1))
	tx.relations[3] = []domain.Relation{{UserID: 7, CollectionID: 3, Role: domain.RoleMember}}
	tx.orders[7] = []int64{3, 9}

	var plan cleanup.Plan
	err := NewSubtreeDeleter(testLogger()).DeleteSubtree(context.Background(), tx, 1, &plan)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"relations:4", "links:4", "collection:4",
		"relations:3", "links:3", "collection:3",
		"relations:2", "links:2", "collection:2",
	}, tx.events, "each child is fully removed before its parent")

	assert.Contains(t, tx.collections, int64(1), "root is left to the caller")
	assert.Equal(t, []int64{10}, tx.links[1])

	assert.Equal(t, []int64{4, 3, 2}, plan.CollectionIDs())
	assert.Equal(t, []int64{30, 20, 21}, plan.LinkIDs())
	assert.Equal(t, []string{"archives/4", "archives/preview/4"}, plan.Steps[0].Namespaces, "empty collections still clear their archives")

	assert.Equal(t, []int64{1}, tx.orders[1])
	assert.Equal(t, []int64{9}, tx.orders[7])
}

func TestDeleteSubtree_LeafRoot(t *testing.T) {
	tx := newMemTx()
	tx.add(1, 1, nil, 10)

	var plan cleanup.Plan
	require.NoError(t, NewSubtreeDeleter(testLogger()).DeleteSubtree(context.Background(), tx, 1, &plan))
	assert.True(t, plan.Empty())
	assert.Empty(t, tx.events)
}

func TestDeleteSubtree_StopsOnFailure(t *testing.T) {
	tx := newMemTx()
	tx.add(1, 1, nil)
	tx.add(2, 1, ptr(1))
	tx.add(3, 1, ptr(2))
	tx.failOn = "links:2"

	var plan cleanup.Plan
	err := NewSubtreeDeleter(testLogger()).DeleteSubtree(context.Background(), tx, 1, &plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, []string{"relations:3", "links:3", "collection:3", "relations:2", "links:2"}, tx.events)
	assert.Contains(t, tx.collections, int64(2))
}

func TestDeleteSubtree_DetectsCycle(t *testing.T) {
	tx := newMemTx()
	tx.add(1, 1, nil)
	tx.add(2, 1, ptr(1))
	tx.children[2] = append(tx.children[2], 1)

	var plan cleanup.Plan
	err := NewSubtreeDeleter(testLogger()).DeleteSubtree(context.Background(), tx, 1, &plan)
	assert.ErrorIs(t, err, ErrCorruptTree)
	assert.Empty(t, tx.events)
}

func TestDeleteSubtree_Cancelled(t *testing.T) {
	tx := newMemTx()
	tx.add(1, 1, nil)
	tx.add(2, 1, ptr(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var plan cleanup.Plan
	err := NewSubtreeDeleter(testLogger()).DeleteSubtree(ctx, tx, 1, &plan)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tx.events)
}
