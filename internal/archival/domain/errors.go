package domain

import (
	"errors"
	"fmt"

	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
)

var (
	// ErrNotFound is the umbrella for every not-found outcome of a retrieval.
	ErrNotFound = errors.New("not_found")

	ErrRecordNotFound  = fmt.Errorf("record_not_found: %w", ErrNotFound)
	ErrCorrupted       = errors.New("data_corruption")
	ErrAlreadyMigrated = errors.New("already_migrated")
	ErrInvalidRecord   = recorddomain.ErrInvalidRecord
	ErrInvalidID       = errors.New("invalid_id")

	// ErrIDConflict is returned when a record id is already live or
	// archived for a different customer.
	ErrIDConflict = errors.New("id_conflict")

	// ErrStoredDocument marks a hot store document that no longer parses.
	// It is a server-side data fault, never a caller input error.
	ErrStoredDocument = errors.New("stored_document_invalid")
)

// ErrArchiveInconsistent is returned when metadata points at a blob that no
// longer exists. It matches ErrNotFound but not ErrRecordNotFound.
var ErrArchiveInconsistent = fmt.Errorf("archive_inconsistent: %w", ErrNotFound)

type Stage string

const (
	StageLoad      Stage = "load"
	StageEncode    Stage = "encode"
	StageColdWrite Stage = "cold_write"
	StageMetadata  Stage = "metadata"
	StageDeleteHot Stage = "delete_hot"
)

// MigrationError reports the step a migration stopped at. Err is the
// collaborator error, unmodified.
type MigrationError struct {
	Stage    Stage
	RecordID string
	Err      error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate %s: %s: %v", e.RecordID, e.Stage, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// StageOf returns the failed stage when err carries a MigrationError.
func StageOf(err error) (Stage, bool) {
	var me *MigrationError
	if errors.As(err, &me) {
		return me.Stage, true
	}
	return "", false
}
