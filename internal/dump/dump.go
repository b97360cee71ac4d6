// Package dump defines the on-disk snapshot a migration reads and writes: a
// manifest, one record-set file per database, and the identifier mapping
// store skeleton.
package dump

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ndm-tool/ndm/internal/notion"
)

// FormatVersion is bumped whenever the dump layout changes incompatibly.
// Loaders reject any other version.
const FormatVersion = 1

const (
	ManifestFile = "manifest.json"
	DatabasesDir = "databases"
)

// FormatError marks a malformed or unsupported dump; always fatal.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return e.Reason }

func formatErrorf(format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// Manifest describes a dump directory. Write-once.
type Manifest struct {
	FormatVersion int             `json:"format_version"`
	CreatedAt     time.Time       `json:"created_at"`
	NotionVersion string          `json:"notion_version,omitempty"`
	IncludeData   bool            `json:"include_data"`
	Compression   string          `json:"compression,omitempty"`
	Databases     []ManifestEntry `json:"databases"`
}

type ManifestEntry struct {
	SourceDatabaseID string `json:"source_database_id"`
	File             string `json:"file"`
	PageCount        int    `json:"page_count"`
}

// RecordSet is the captured schema and rows of one source database.
type RecordSet struct {
	SourceDatabaseID string           `json:"source_database_id"`
	Database         *notion.Database `json:"database"`
	Pages            []notion.Page    `json:"pages"`
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SafeFileName sanitizes a database id into a portable record file name.
func SafeFileName(databaseID, ext string) string {
	return unsafeFileChars.ReplaceAllString(databaseID, "_") + ".json" + ext
}
