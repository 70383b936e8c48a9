package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	FieldID         = "id"
	FieldCustomerID = "customer_id"
	FieldCreatedAt  = "created_at"

	// MetadataIDPrefix is prepended to the record id to build the metadata id.
	// Record ids carrying this prefix are rejected so both id spaces stay disjoint.
	MetadataIDPrefix = "meta_"

	TypeRecord   = "record"
	TypeMetadata = "metadata"
)

var (
	ErrInvalidRecord   = errors.New("invalid_record")
	ErrInvalidMetadata = errors.New("invalid_metadata")
)

// Record is a billing entity. Fields holds the complete document, including
// id, customer_id and created_at, so unknown billing fields pass through.
type Record struct {
	ID         string
	CustomerID string
	CreatedAt  time.Time
	Fields     map[string]any
}

// ArchivalMetadata points at an archived blob and the checksum it must hash to.
type ArchivalMetadata struct {
	ID         string `json:"id"`
	RecordID   string `json:"record_id"`
	BlobURI    string `json:"blob_uri"`
	Checksum   string `json:"checksum"`
	CreatedAt  string `json:"created_at"`
	CustomerID string `json:"customer_id"`
	Type       string `json:"type"`
}

// MetadataID derives the metadata document id for a record id.
func MetadataID(recordID string) string {
	return MetadataIDPrefix + recordID
}

// NewMetadata builds the metadata entry for an archived record.
func NewMetadata(record Record, blobURI, checksum string) ArchivalMetadata {
	return ArchivalMetadata{
		ID:         MetadataID(record.ID),
		RecordID:   record.ID,
		BlobURI:    blobURI,
		Checksum:   checksum,
		CreatedAt:  record.CreatedAtString(),
		CustomerID: record.CustomerID,
		Type:       TypeMetadata,
	}
}

// NewRecord builds a record from a field map and validates the required fields.
func NewRecord(fields map[string]any) (Record, error) {
	if fields == nil {
		return Record{}, fmt.Errorf("%w: empty document", ErrInvalidRecord)
	}

	id, err := requiredString(fields, FieldID)
	if err != nil {
		return Record{}, err
	}
	if err := ValidateID(id); err != nil {
		return Record{}, err
	}
	customerID, err := requiredString(fields, FieldCustomerID)
	if err != nil {
		return Record{}, err
	}
	rawCreatedAt, err := requiredString(fields, FieldCreatedAt)
	if err != nil {
		return Record{}, err
	}
	createdAt, err := ParseTimestamp(rawCreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: created_at: %v", ErrInvalidRecord, err)
	}

	return Record{
		ID:         id,
		CustomerID: customerID,
		CreatedAt:  createdAt,
		Fields:     fields,
	}, nil
}

// ParseRecord decodes a JSON document into a Record. Numbers are kept as
// json.Number so re-serialization reproduces them exactly.
func ParseRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if dec.More() {
		return Record{}, fmt.Errorf("%w: trailing data", ErrInvalidRecord)
	}
	return NewRecord(fields)
}

// MarshalJSON renders the full document.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

// UnmarshalJSON parses and validates a record document.
func (r *Record) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRecord(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// CreatedAtString returns created_at exactly as it appears in the document.
func (r Record) CreatedAtString() string {
	if raw, ok := r.Fields[FieldCreatedAt].(string); ok {
		return raw
	}
	return r.CreatedAt.UTC().Format(time.RFC3339Nano)
}

// ParseMetadata decodes and validates a metadata document.
func ParseMetadata(data []byte) (ArchivalMetadata, error) {
	var md ArchivalMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return ArchivalMetadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if err := md.Validate(); err != nil {
		return ArchivalMetadata{}, err
	}
	return md, nil
}

// Validate checks that every metadata field is present and well formed.
func (m ArchivalMetadata) Validate() error {
	switch {
	case m.Type != TypeMetadata:
		return fmt.Errorf("%w: type %q", ErrInvalidMetadata, m.Type)
	case strings.TrimSpace(m.RecordID) == "":
		return fmt.Errorf("%w: missing record_id", ErrInvalidMetadata)
	case ValidateID(m.RecordID) != nil:
		return fmt.Errorf("%w: record_id %q", ErrInvalidMetadata, m.RecordID)
	case m.ID != MetadataID(m.RecordID):
		return fmt.Errorf("%w: id %q does not match record_id", ErrInvalidMetadata, m.ID)
	case strings.TrimSpace(m.BlobURI) == "":
		return fmt.Errorf("%w: missing blob_uri", ErrInvalidMetadata)
	case !isHexDigest(m.Checksum):
		return fmt.Errorf("%w: malformed checksum", ErrInvalidMetadata)
	case strings.TrimSpace(m.CustomerID) == "":
		return fmt.Errorf("%w: missing customer_id", ErrInvalidMetadata)
	}
	return nil
}

// ValidateID checks that a record id can name exactly one archive blob. Path
// separators, dot segments and control characters are rejected.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	case strings.HasPrefix(id, MetadataIDPrefix):
		return fmt.Errorf("%w: id must not start with %q", ErrInvalidRecord, MetadataIDPrefix)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: id must not contain path separators", ErrInvalidRecord)
	case id == "." || strings.Contains(id, ".."):
		return fmt.Errorf("%w: id must not contain dot segments", ErrInvalidRecord)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: id must not contain control characters", ErrInvalidRecord)
	}
	return nil
}

// ParseTimestamp accepts RFC 3339 timestamps and offset-less ISO-8601
// timestamps, which are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func requiredString(fields map[string]any, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidRecord, key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidRecord, key)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: empty %s", ErrInvalidRecord, key)
	}
	return value, nil
}

func isHexDigest(value string) bool {
	if len(value) != 64 {
		return false
	}
	for _, c := range value {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
