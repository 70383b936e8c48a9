package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/billarchive/internal/hotstore/domain"
	pkgdb "github.com/smallbiznis/billarchive/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentModel is the row layout of the billing_documents table.
type DocumentModel struct {
	ID           string         `gorm:"primaryKey;size:255"`
	PartitionKey string         `gorm:"primaryKey;size:255"`
	DocType      string         `gorm:"size:32;not null;uniqueIndex:idx_billing_documents_type_record,priority:1;index:idx_billing_documents_type_created,priority:1"`
	RecordID     string         `gorm:"size:255;not null;uniqueIndex:idx_billing_documents_type_record,priority:2"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_billing_documents_type_created,priority:2"`
	Body         datatypes.JSON `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

func (DocumentModel) TableName() string {
	return "billing_documents"
}

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Store {
	return &repo{db: db}
}

// AutoMigrate creates the document table on dialects without SQL migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&DocumentModel{})
}

func (r *repo) Get(ctx context.Context, id, partitionKey string) (domain.Document, error) {
	var row DocumentModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND partition_key = ?", id, partitionKey).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, domain.ErrNotFound
		}
		return domain.Document{}, err
	}
	return row.toDocument(), nil
}

func (r *repo) Query(ctx context.Context, filter domain.Filter) ([]domain.Document, error) {
	stmt := r.db.WithContext(ctx).Model(&DocumentModel{})
	if filter.Type != "" {
		stmt = stmt.Where("doc_type = ?", filter.Type)
	}
	if filter.ID != "" {
		stmt = stmt.Where("id = ?", filter.ID)
	}
	if filter.RecordID != "" {
		stmt = stmt.Where("record_id = ?", filter.RecordID)
	}
	if filter.PartitionKey != "" {
		stmt = stmt.Where("partition_key = ?", filter.PartitionKey)
	}
	if filter.CreatedBefore != nil {
		stmt = stmt.Where("created_at < ?", filter.CreatedBefore.UTC())
	}
	if filter.RecordIDAfter != "" {
		stmt = stmt.Where("record_id > ?", filter.RecordIDAfter)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var rows []DocumentModel
	err := stmt.
		Order("record_id asc, id asc, partition_key asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, row.toDocument())
	}
	return docs, nil
}

func (r *repo) Upsert(ctx context.Context, doc domain.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	row := DocumentModel{
		ID:           doc.ID,
		PartitionKey: doc.PartitionKey,
		DocType:      doc.Type,
		RecordID:     doc.RecordID,
		CreatedAt:    doc.CreatedAt.UTC(),
		Body:         datatypes.JSON(doc.Body),
		UpdatedAt:    time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}, {Name: "partition_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"doc_type", "record_id", "created_at", "body", "updated_at"}),
		}).
		Create(&row).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrConflict, doc.Type, doc.RecordID, err)
	}
	return err
}

func (r *repo) Delete(ctx context.Context, id, partitionKey string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND partition_key = ?", id, partitionKey).
		Delete(&DocumentModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m DocumentModel) toDocument() domain.Document {
	return domain.Document{
		ID:           m.ID,
		PartitionKey: m.PartitionKey,
		Type:         m.DocType,
		RecordID:     m.RecordID,
		CreatedAt:    m.CreatedAt.UTC(),
		Body:         []byte(m.Body),
	}
}
