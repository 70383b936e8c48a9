package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
)

var (
	ErrNotFound        = errors.New("not_found")
	ErrInvalidDocument = errors.New("invalid_document")
	// ErrConflict means another partition already holds a document of the
	// same type for the record id.
	ErrConflict = errors.New("document_conflict")
)

// Document is one entry of the hot store. Records and archival metadata share
// the store and are told apart by Type.
type Document struct {
	ID           string
	PartitionKey string
	Type         string
	RecordID     string
	CreatedAt    time.Time
	Body         json.RawMessage
}

// Filter selects documents across partitions. Zero fields do not constrain
// the query. Results are ordered by record_id, id, partition_key.
type Filter struct {
	Type          string
	ID            string
	RecordID      string
	PartitionKey  string
	CreatedBefore *time.Time
	RecordIDAfter string
	Limit         int
}

// Store is the capability the archival core needs from the primary store.
// A record id owns at most one document of each type across all partitions;
// Upsert returns ErrConflict otherwise.
type Store interface {
	Get(ctx context.Context, id, partitionKey string) (Document, error)
	Query(ctx context.Context, filter Filter) ([]Document, error)
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id, partitionKey string) error
}

func (d Document) Validate() error {
	switch {
	case d.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidDocument)
	case d.PartitionKey == "":
		return fmt.Errorf("%w: missing partition key", ErrInvalidDocument)
	case d.Type != recorddomain.TypeRecord && d.Type != recorddomain.TypeMetadata:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDocument, d.Type)
	case len(d.Body) == 0:
		return fmt.Errorf("%w: empty body", ErrInvalidDocument)
	}
	return nil
}

// Matches applies the filter predicates to a single document.
func (f Filter) Matches(d Document) bool {
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	if f.ID != "" && d.ID != f.ID {
		return false
	}
	if f.RecordID != "" && d.RecordID != f.RecordID {
		return false
	}
	if f.PartitionKey != "" && d.PartitionKey != f.PartitionKey {
		return false
	}
	if f.CreatedBefore != nil && !d.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.RecordIDAfter != "" && d.RecordID <= f.RecordIDAfter {
		return false
	}
	return true
}

func RecordDocument(record recorddomain.Record) (Document, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:           record.ID,
		PartitionKey: record.CustomerID,
		Type:         recorddomain.TypeRecord,
		RecordID:     record.ID,
		CreatedAt:    record.CreatedAt.UTC(),
		Body:         body,
	}, nil
}

func MetadataDocument(md recorddomain.ArchivalMetadata) (Document, error) {
	if err := md.Validate(); err != nil {
		return Document{}, err
	}
	body, err := json.Marshal(md)
	if err != nil {
		return Document{}, err
	}
	createdAt, err := recorddomain.ParseTimestamp(md.CreatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("%w: created_at: %v", recorddomain.ErrInvalidMetadata, err)
	}
	return Document{
		ID:           md.ID,
		PartitionKey: md.CustomerID,
		Type:         recorddomain.TypeMetadata,
		RecordID:     md.RecordID,
		CreatedAt:    createdAt,
		Body:         body,
	}, nil
}

func (d Document) Record() (recorddomain.Record, error) {
	if d.Type != recorddomain.TypeRecord {
		return recorddomain.Record{}, fmt.Errorf("%w: document %s is %q", recorddomain.ErrInvalidRecord, d.ID, d.Type)
	}
	return recorddomain.ParseRecord(d.Body)
}

func (d Document) Metadata() (recorddomain.ArchivalMetadata, error) {
	if d.Type != recorddomain.TypeMetadata {
		return recorddomain.ArchivalMetadata{}, fmt.Errorf("%w: document %s is %q", recorddomain.ErrInvalidMetadata, d.ID, d.Type)
	}
	return recorddomain.ParseMetadata(d.Body)
}
