package domain

import (
	"context"
	"time"

	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"github.com/smallbiznis/billarchive/pkg/db/pagination"
)

type Tier string

const (
	TierHot  Tier = "hot"
	TierCold Tier = "cold"
)

// Migrator moves an aged record from the hot store to the cold store.
type Migrator interface {
	Migrate(ctx context.Context, record recorddomain.Record) (recorddomain.ArchivalMetadata, error)
	ProcessChanges(ctx context.Context, records []recorddomain.Record, now time.Time) (Summary, error)
}

// Retriever reads a record from whichever tier holds it.
type Retriever interface {
	Retrieve(ctx context.Context, id string) (recorddomain.Record, error)
	RetrieveInPartition(ctx context.Context, id, customerID string) (recorddomain.Record, error)
	// Locate is Retrieve that also reports the tier that served the record.
	// An empty customerID searches every partition.
	Locate(ctx context.Context, id, customerID string) (recorddomain.Record, Tier, error)
	VerifyArchive(ctx context.Context, recordID string) error
}

// Catalog covers the live-record writes and archive listing served over HTTP.
type Catalog interface {
	PutRecord(ctx context.Context, record recorddomain.Record) error
	ListArchived(ctx context.Context, req ListArchivedRequest) (ListArchivedResponse, error)
}

type ListArchivedRequest struct {
	CustomerID string
	PageToken  string
	PageSize   int32
}

type ListArchivedResponse struct {
	Items    []recorddomain.ArchivalMetadata `json:"items"`
	PageInfo pagination.PageInfo            `json:"page_info"`
}

// Summary counts the outcome of a change batch.
type Summary struct {
	Archived        int `json:"archived"`
	Skipped         int `json:"skipped"`
	AlreadyMigrated int `json:"already_migrated"`
	Failed          int `json:"failed"`
}

func (s Summary) Total() int {
	return s.Archived + s.Skipped + s.AlreadyMigrated + s.Failed
}
