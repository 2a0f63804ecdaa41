// Package sqlitestore implements flyer.Store on SQLite through GORM.
// Documents are kept as JSON columns; image blobs are content addressed
// and shared between documents.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/phanxgames/flyer"
	"github.com/phanxgames/flyer/internal/config"
)

// SceneRecord is one saved flyer document.
type SceneRecord struct {
	ID        uint           `gorm:"primarykey"`
	Name      string         `gorm:"uniqueIndex;not null"`
	Version   int            `gorm:"not null"`
	Markers   int            `gorm:"not null;default:0"`
	Document  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName implements gorm's Tabler.
func (SceneRecord) TableName() string { return "scenes" }

// BlobRecord is one uploaded image, keyed by its content reference.
type BlobRecord struct {
	Ref       string `gorm:"primarykey"`
	Data      []byte `gorm:"not null"`
	Size      int    `gorm:"not null"`
	CreatedAt time.Time
}

// TableName implements gorm's Tabler.
func (BlobRecord) TableName() string { return "blobs" }

// Backend is a SQLite-backed document store.
type Backend struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects to the database at cfg.Path and migrates the schema. An
// empty path opens a shared in-memory database.
func Open(cfg config.SQLiteConfig, log zerolog.Logger) (*Backend, error) {
	dsn := cfg.Path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	b := &Backend{db: db, log: log}
	if err := b.Setup(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		log.Info().Msg("Using SQLite document store in memory")
	} else {
		log.Info().Str("path", cfg.Path).Msg("Using SQLite document store")
	}
	return b, nil
}

// Setup migrates tables.
func (b *Backend) Setup() error {
	if err := b.db.AutoMigrate(&SceneRecord{}, &BlobRecord{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB { return b.db }

// Close closes the database connection.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}

// SaveDocument upserts doc under name.
func (b *Backend) SaveDocument(ctx context.Context, name string, doc flyer.Document) error {
	data, err := flyer.EncodeDocument(doc)
	if err != nil {
		return err
	}
	rec := SceneRecord{
		Name:     name,
		Version:  doc.Version,
		Markers:  len(doc.Markers),
		Document: datatypes.JSON(data),
	}
	err = b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "markers", "document", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save document %q: %w", name, err)
	}
	b.log.Debug().Str("name", name).Int("markers", rec.Markers).Msg("document saved")
	return nil
}

// LoadDocument returns the document stored under name.
func (b *Backend) LoadDocument(ctx context.Context, name string) (flyer.Document, error) {
	var rec SceneRecord
	err := b.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return flyer.Document{}, fmt.Errorf("document %q: %w", name, flyer.ErrNotFound)
	}
	if err != nil {
		return flyer.Document{}, fmt.Errorf("load document %q: %w", name, err)
	}
	return flyer.DecodeDocument(rec.Document)
}

// ListDocuments returns stored document names in sorted order.
func (b *Backend) ListDocuments(ctx context.Context) ([]string, error) {
	var names []string
	err := b.db.WithContext(ctx).Model(&SceneRecord{}).Order("name").Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return names, nil
}

// DeleteDocument removes the document stored under name.
func (b *Backend) DeleteDocument(ctx context.Context, name string) error {
	res := b.db.WithContext(ctx).Where("name = ?", name).Delete(&SceneRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete document %q: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %q: %w", name, flyer.ErrNotFound)
	}
	return nil
}

// PutBlob stores data under ref unless a blob with that ref exists.
func (b *Backend) PutBlob(ctx context.Context, ref string, data []byte) error {
	rec := BlobRecord{Ref: ref, Data: data, Size: len(data)}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("put blob %s: %w", ref, err)
	}
	return nil
}

// GetBlob returns the blob stored under ref.
func (b *Backend) GetBlob(ctx context.Context, ref string) ([]byte, error) {
	var rec BlobRecord
	err := b.db.WithContext(ctx).Where("ref = ?", ref).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("blob %q: %w", ref, flyer.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", ref, err)
	}
	return rec.Data, nil
}

// PruneBlobs deletes blobs no stored document references and returns how
// many were removed.
func (b *Backend) PruneBlobs(ctx context.Context) (int, error) {
	var recs []SceneRecord
	if err := b.db.WithContext(ctx).Select("document").Find(&recs).Error; err != nil {
		return 0, fmt.Errorf("prune blobs: %w", err)
	}
	keep := make(map[string]struct{})
	for _, rec := range recs {
		doc, err := flyer.DecodeDocument(rec.Document)
		if err != nil {
			return 0, fmt.Errorf("prune blobs: %w", err)
		}
		for _, ref := range flyer.Refs(doc) {
			keep[ref] = struct{}{}
		}
	}

	var refs []string
	if err := b.db.WithContext(ctx).Model(&BlobRecord{}).Pluck("ref", &refs).Error; err != nil {
		return 0, fmt.Errorf("prune blobs: %w", err)
	}
	var drop []string
	for _, ref := range refs {
		if _, ok := keep[ref]; !ok {
			drop = append(drop, ref)
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}
	res := b.db.WithContext(ctx).Where("ref IN ?", drop).Delete(&BlobRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune blobs: %w", res.Error)
	}
	b.log.Info().Int64("removed", res.RowsAffected).Msg("pruned unreferenced blobs")
	return int(res.RowsAffected), nil
}
