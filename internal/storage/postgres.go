package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"linkvault/internal/domain"
)

type collectionRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"not null"`
	OwnerID   int64  `gorm:"not null;index"`
	ParentID  *int64 `gorm:"index"`
	CreatedAt time.Time
}

func (collectionRow) TableName() string { return "collections" }

type linkRow struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	CollectionID int64 `gorm:"not null;index"`
	URL          string
	Title        string
	Description  string
	IndexVersion *int
	CreatedAt    time.Time
}

func (linkRow) TableName() string { return "links" }

type relationRow struct {
	UserID       int64 `gorm:"primaryKey;autoIncrement:false"`
	CollectionID int64 `gorm:"primaryKey;autoIncrement:false;index"`
	Role         string
	CreatedAt    time.Time
}

func (relationRow) TableName() string { return "users_and_collections" }

type userRow struct {
	ID              int64         `gorm:"primaryKey;autoIncrement:false"`
	CollectionOrder pq.Int64Array `gorm:"type:bigint[];not null;default:'{}'"`
}

func (userRow) TableName() string { return "users" }

// PostgresRepository implements the Repository interface with gorm on PostgreSQL.
type PostgresRepository struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// NewPostgresRepository connects to PostgreSQL and makes sure the tables exist.
func NewPostgresRepository(dsn string, logger logrus.FieldLogger) (*PostgresRepository, error) {
	log := logger.WithField("component", "repository")

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(logger.WithField("component", "gorm"), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		log.WithError(err).Error("Failed to connect to PostgreSQL")
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.AutoMigrate(&collectionRow{}, &linkRow{}, &relationRow{}, &userRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	log.Info("PostgreSQL repository ready")
	return &PostgresRepository{db: db, log: log}, nil
}

func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	r.log.Info("Closing PostgreSQL connection...")
	return sqlDB.Close()
}

// Update runs fn inside one database transaction.
func (r *PostgresRepository) Update(ctx context.Context, fn func(tx Tx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (r *PostgresRepository) Access(ctx context.Context, userID, collectionID int64) (*domain.Access, error) {
	db := r.db.WithContext(ctx)
	c, err := findCollection(db, collectionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve access to collection %d: %w", collectionID, err)
	}

	var rows []relationRow
	if err := db.Where("collection_id = ?", collectionID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve access to collection %d: %w", collectionID, err)
	}
	a := &domain.Access{OwnerID: c.OwnerID, Members: relationsFromRows(rows)}
	if !a.IsOwner(userID) && !a.IsMember(userID) {
		return nil, nil
	}
	return a, nil
}

func (r *PostgresRepository) CreateCollection(ctx context.Context, c domain.Collection) (*domain.Collection, error) {
	log := r.log.WithFields(logrus.Fields{
		"owner_id": c.OwnerID,
		"name":     c.Name,
	})
	log.Info("Attempting to create collection")

	row := collectionRow{Name: c.Name, OwnerID: c.OwnerID, ParentID: c.ParentID, CreatedAt: c.CreatedAt}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.ParentID != nil {
			if _, err := findCollection(tx.Clauses(clause.Locking{Strength: "SHARE"}), *c.ParentID); err != nil {
				return fmt.Errorf("parent collection %d: %w", *c.ParentID, err)
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return appendOrderSQL(tx, row.OwnerID, row.ID)
	})
	if err != nil {
		log.WithError(err).Error("Failed to create collection")
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	out := row.toDomain()
	return &out, nil
}

func (r *PostgresRepository) GetCollection(ctx context.Context, id int64) (*domain.Collection, error) {
	c, err := findCollection(r.db.WithContext(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %d: %w", id, err)
	}
	return c, nil
}

func (r *PostgresRepository) AddMember(ctx context.Context, rel domain.Relation) error {
	if rel.Role == "" {
		rel.Role = domain.RoleMember
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCollection(tx.Clauses(clause.Locking{Strength: "SHARE"}), rel.CollectionID); err != nil {
			return fmt.Errorf("collection %d: %w", rel.CollectionID, err)
		}
		row := relationRow{UserID: rel.UserID, CollectionID: rel.CollectionID, Role: string(rel.Role), CreatedAt: rel.CreatedAt}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return appendOrderSQL(tx, rel.UserID, rel.CollectionID)
	})
	if err != nil {
		r.log.WithError(err).WithField("collection_id", rel.CollectionID).Error("Failed to add member")
		return fmt.Errorf("failed to add member %d to collection %d: %w", rel.UserID, rel.CollectionID, err)
	}
	return nil
}

func (r *PostgresRepository) SaveLink(ctx context.Context, link domain.Link) (*domain.Link, error) {
	row := linkRow{
		CollectionID: link.CollectionID,
		URL:          link.URL,
		Title:        link.Title,
		Description:  link.Description,
		IndexVersion: link.IndexVersion,
		CreatedAt:    link.CreatedAt,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCollection(tx.Clauses(clause.Locking{Strength: "SHARE"}), link.CollectionID); err != nil {
			return fmt.Errorf("collection %d: %w", link.CollectionID, err)
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		r.log.WithError(err).WithField("url", link.URL).Error("Failed to save link")
		return nil, fmt.Errorf("failed to save link: %w", err)
	}
	out := row.toDomain()
	return &out, nil
}

func (r *PostgresRepository) GetLink(ctx context.Context, id int64) (*domain.Link, error) {
	var row linkRow
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get link %d: %w", id, notFound(err))
	}
	out := row.toDomain()
	return &out, nil
}

func (r *PostgresRepository) GetLinksByCollection(ctx context.Context, collectionID int64) ([]domain.Link, error) {
	var rows []linkRow
	err := r.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get links for collection %d: %w", collectionID, err)
	}
	links := make([]domain.Link, 0, len(rows))
	for _, row := range rows {
		links = append(links, row.toDomain())
	}
	return links, nil
}

func (r *PostgresRepository) SetLinkIndexVersion(ctx context.Context, linkID int64, version int) error {
	res := r.db.WithContext(ctx).Model(&linkRow{}).Where("id = ?", linkID).Update("index_version", version)
	if res.Error != nil {
		return fmt.Errorf("failed to set index version of link %d: %w", linkID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to set index version of link %d: %w", linkID, ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, notFound(err))
	}
	return &domain.User{ID: row.ID, CollectionOrder: []int64(row.CollectionOrder)}, nil
}

// gormTx implements Tx on a gorm transaction handle.
//
// Collection rows are locked FOR UPDATE as the delete walk reaches them, and
// writers attaching links, members or children hold FOR SHARE on the same row.
// Under READ COMMITTED this makes a writer either finish before the walk reads
// the collection's contents or find the row gone.
type gormTx struct {
	db *gorm.DB
}

func findCollection(db *gorm.DB, id int64) (*domain.Collection, error) {
	var row collectionRow
	if err := db.First(&row, id).Error; err != nil {
		return nil, notFound(err)
	}
	c := row.toDomain()
	return &c, nil
}

func (t *gormTx) forUpdate() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) GetCollection(id int64) (*domain.Collection, error) {
	return findCollection(t.forUpdate(), id)
}

func (t *gormTx) ChildCollectionIDs(id int64) ([]int64, error) {
	var ids []int64
	err := t.forUpdate().Model(&collectionRow{}).Where("parent_id = ?", id).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (t *gormTx) LinkIDs(collectionID int64) ([]int64, error) {
	var ids []int64
	err := t.db.Model(&linkRow{}).Where("collection_id = ?", collectionID).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (t *gormTx) DeleteRelations(collectionID int64) ([]domain.Relation, error) {
	var rows []relationRow
	if err := t.db.Where("collection_id = ?", collectionID).Find(&rows).Error; err != nil {
		return nil, err
	}
	if err := t.db.Where("collection_id = ?", collectionID).Delete(&relationRow{}).Error; err != nil {
		return nil, err
	}
	return relationsFromRows(rows), nil
}

func (t *gormTx) DeleteRelation(userID, collectionID int64) (*domain.Relation, error) {
	var row relationRow
	err := t.db.Where("user_id = ? AND collection_id = ?", userID, collectionID).First(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	if err := t.db.Where("user_id = ? AND collection_id = ?", userID, collectionID).Delete(&relationRow{}).Error; err != nil {
		return nil, err
	}
	rel := row.toDomain()
	return &rel, nil
}

func (t *gormTx) DeleteLinks(collectionID int64) error {
	return t.db.Where("collection_id = ?", collectionID).Delete(&linkRow{}).Error
}

func (t *gormTx) ClearLinkIndexVersion(collectionID int64) error {
	return t.db.Model(&linkRow{}).Where("collection_id = ?", collectionID).Update("index_version", nil).Error
}

func (t *gormTx) DeleteCollection(id int64) (*domain.Collection, error) {
	c, err := t.GetCollection(id)
	if err != nil {
		return nil, err
	}
	if err := t.db.Delete(&collectionRow{}, id).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// PruneCollectionOrder is a single atomic set-difference; no read-modify-write.
func (t *gormTx) PruneCollectionOrder(userID, collectionID int64) error {
	return t.db.Model(&userRow{}).
		Where("id = ?", userID).
		Update("collection_order", gorm.Expr("array_remove(collection_order, ?)", collectionID)).Error
}

func appendOrderSQL(tx *gorm.DB, userID, collectionID int64) error {
	return tx.Exec(`
		INSERT INTO users (id, collection_order) VALUES (?, ARRAY[?]::bigint[])
		ON CONFLICT (id) DO UPDATE SET collection_order =
			CASE WHEN ? = ANY(users.collection_order) THEN users.collection_order
			ELSE array_append(users.collection_order, ?) END`,
		userID, collectionID, collectionID, collectionID).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (row collectionRow) toDomain() domain.Collection {
	return domain.Collection{
		ID:        row.ID,
		Name:      row.Name,
		OwnerID:   row.OwnerID,
		ParentID:  row.ParentID,
		CreatedAt: row.CreatedAt,
	}
}

func (row linkRow) toDomain() domain.Link {
	return domain.Link{
		ID:           row.ID,
		CollectionID: row.CollectionID,
		URL:          row.URL,
		Title:        row.Title,
		Description:  row.Description,
		IndexVersion: row.IndexVersion,
		CreatedAt:    row.CreatedAt,
	}
}

func (row relationRow) toDomain() domain.Relation {
	return domain.Relation{
		UserID:       row.UserID,
		CollectionID: row.CollectionID,
		Role:         domain.Role(row.Role),
		CreatedAt:    row.CreatedAt,
	}
}

func relationsFromRows(rows []relationRow) []domain.Relation {
	rels := make([]domain.Relation, 0, len(rows))
	for _, row := range rows {
		rels = append(rels, row.toDomain())
	}
	return rels
}
