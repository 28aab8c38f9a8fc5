package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkvault/internal/domain"
)

// setupTestDB creates a temporary BadgerDB instance for testing.
// It returns the repository instance and a cleanup function.
func setupTestDB(t *testing.T) (*BadgerRepository, func()) {
	t.Helper()

	testLogger := logrus.New()
	testLogger.SetOutput(os.Stderr)
	testLogger.SetLevel(logrus.ErrorLevel)

	repo, err := NewBadgerRepository(t.TempDir(), testLogger)
	require.NoError(t, err, "Failed to create test BadgerDB repository")

	cleanup := func() {
		err := repo.Close()
		assert.NoError(t, err, "Failed to close test BadgerDB repository")
	}

	return repo, cleanup
}

func int64Ptr(v int64) *int64 { return &v }

func TestBadgerRepository_CreateCollectionAndAccess(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	owner, member, stranger := int64(1), int64(2), int64(3)

	root, err := repo.CreateCollection(ctx, domain.Collection{Name: "Reading", OwnerID: owner})
	require.NoError(t, err)
	require.NotZero(t, root.ID)
	assert.True(t, root.IsRoot())

	child, err := repo.CreateCollection(ctx, domain.Collection{Name: "Papers", OwnerID: owner, ParentID: &root.ID})
	require.NoError(t, err)
	assert.NotEqual(t, root.ID, child.ID)

	require.NoError(t, repo.AddMember(ctx, domain.Relation{UserID: member, CollectionID: root.ID}))

	// --- Owner and member see the collection, strangers do not ---
	access, err := repo.Access(ctx, owner, root.ID)
	require.NoError(t, err)
	require.NotNil(t, access)
	assert.True(t, access.IsOwner(owner))
	assert.True(t, access.IsMember(member))

	access, err = repo.Access(ctx, member, root.ID)
	require.NoError(t, err)
	require.NotNil(t, access)
	assert.False(t, access.IsOwner(member))
	require.Len(t, access.Members, 1)
	assert.Equal(t, domain.RoleMember, access.Members[0].Role)

	access, err = repo.Access(ctx, stranger, root.ID)
	require.NoError(t, err)
	assert.Nil(t, access, "stranger should have no access record")

	access, err = repo.Access(ctx, owner, 9999)
	require.NoError(t, err)
	assert.Nil(t, access, "missing collection should have no access record")

	// --- Orders follow creation and membership ---
	ownerState, err := repo.GetUser(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []int64{root.ID, child.ID}, ownerState.CollectionOrder)

	memberState, err := repo.GetUser(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, []int64{root.ID}, memberState.CollectionOrder)

	_, err = repo.GetUser(ctx, stranger)
	assert.ErrorIs(t, err, ErrNotFound)

	// --- Parent must exist ---
	_, err = repo.CreateCollection(ctx, domain.Collection{Name: "Orphan", OwnerID: owner, ParentID: int64Ptr(4242)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerRepository_SaveAndGetLinks(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	c, err := repo.CreateCollection(ctx, domain.Collection{Name: "News", OwnerID: 1})
	require.NoError(t, err)

	older, err := repo.SaveLink(ctx, domain.Link{
		CollectionID: c.ID,
		URL:          "https://example.com/page1",
		Title:        "Example Page 1",
		CreatedAt:    time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	newer, err := repo.SaveLink(ctx, domain.Link{
		CollectionID: c.ID,
		URL:          "https://example.com/page2",
		Title:        "Example Page 2",
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)

	links, err := repo.GetLinksByCollection(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, newer.ID, links[0].ID, "newest link first")
	assert.Equal(t, older.ID, links[1].ID)
	assert.False(t, links[0].Indexed())

	require.NoError(t, repo.SetLinkIndexVersion(ctx, older.ID, 1))
	got, err := repo.GetLink(ctx, older.ID)
	require.NoError(t, err)
	require.True(t, got.Indexed())
	assert.Equal(t, 1, *got.IndexVersion)

	empty, err := repo.GetLinksByCollection(ctx, 9999)
	require.NoError(t, err, "Getting links for a missing collection should not error")
	assert.Empty(t, empty)

	_, err = repo.SaveLink(ctx, domain.Link{CollectionID: 9999, URL: "https://nowhere.example"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerRepository_TxDeletes(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	parent, err := repo.CreateCollection(ctx, domain.Collection{Name: "Parent", OwnerID: 1})
	require.NoError(t, err)
	child, err := repo.CreateCollection(ctx, domain.Collection{Name: "Child", OwnerID: 1, ParentID: &parent.ID})
	require.NoError(t, err)
	require.NoError(t, repo.AddMember(ctx, domain.Relation{UserID: 2, CollectionID: child.ID}))
	link, err := repo.SaveLink(ctx, domain.Link{CollectionID: child.ID, URL: "https://example.com"})
	require.NoError(t, err)

	err = repo.Update(ctx, func(tx Tx) error {
		ids, err := tx.ChildCollectionIDs(parent.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{child.ID}, ids)

		rels, err := tx.DeleteRelations(child.ID)
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, int64(2), rels[0].UserID)

		linkIDs, err := tx.LinkIDs(child.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{link.ID}, linkIDs)

		require.NoError(t, tx.DeleteLinks(child.ID))
		deleted, err := tx.DeleteCollection(child.ID)
		require.NoError(t, err)
		assert.Equal(t, "Child", deleted.Name)
		return nil
	})
	require.NoError(t, err)

	_, err = repo.GetCollection(ctx, child.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetLink(ctx, link.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.Update(ctx, func(tx Tx) error {
		ids, err := tx.ChildCollectionIDs(parent.ID)
		require.NoError(t, err)
		assert.Empty(t, ids, "child index entry should be removed with the child")

		_, err = tx.DeleteCollection(child.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = tx.DeleteRelation(2, child.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestBadgerRepository_UpdateRollsBackOnError(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	c, err := repo.CreateCollection(ctx, domain.Collection{Name: "Keep", OwnerID: 1})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = repo.Update(ctx, func(tx Tx) error {
		if _, err := tx.DeleteCollection(c.ID); err != nil {
			return err
		}
		if err := tx.PruneCollectionOrder(1, c.ID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.GetCollection(ctx, c.ID)
	assert.NoError(t, err, "collection must survive a failed transaction")
	u, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, u.CollectionOrder)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = repo.Update(cancelled, func(tx Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerRepository_ClearLinkIndexVersionAndPrune(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	c, err := repo.CreateCollection(ctx, domain.Collection{Name: "Shared", OwnerID: 1})
	require.NoError(t, err)
	other, err := repo.CreateCollection(ctx, domain.Collection{Name: "Other", OwnerID: 1})
	require.NoError(t, err)
	link, err := repo.SaveLink(ctx, domain.Link{CollectionID: c.ID, URL: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, repo.SetLinkIndexVersion(ctx, link.ID, 1))

	err = repo.Update(ctx, func(tx Tx) error {
		if err := tx.ClearLinkIndexVersion(c.ID); err != nil {
			return err
		}
		if err := tx.PruneCollectionOrder(1, c.ID); err != nil {
			return err
		}
		// No stored state for this user: no-op.
		return tx.PruneCollectionOrder(777, c.ID)
	})
	require.NoError(t, err)

	got, err := repo.GetLink(ctx, link.ID)
	require.NoError(t, err)
	assert.False(t, got.Indexed())

	u, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{other.ID}, u.CollectionOrder)

	_, err = repo.GetUser(ctx, 777)
	assert.ErrorIs(t, err, ErrNotFound, "pruning must not create user state")
}
