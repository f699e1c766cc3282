package gdrive

import (
	"strings"

	"google.golang.org/api/drive/v3"
)

const (
	// FolderMimeType is the MIME type Drive assigns to folders.
	FolderMimeType = "application/vnd.google-apps.folder"
	// ShortcutMimeType is the MIME type Drive assigns to shortcuts. Shortcuts
	// are not traversable and never act as hierarchy containers.
	ShortcutMimeType = "application/vnd.google-apps.shortcut"
)

// RecordType discriminates the record union.
type RecordType string

const (
	RecordTypeFile     RecordType = "normal"
	RecordTypeFolder   RecordType = "folder"
	RecordTypeShortcut RecordType = "shortcut"
)

// Record is the flat, provider-returned description of a file, folder or
// shortcut. Position in the hierarchy is a pure function of
// ParentID/DriveID/SharedWithMeTime; the Drive API supports multiple parents
// but only the first is tracked.
type Record struct {
	ID               string     `json:"id"`
	Type             RecordType `json:"type"`
	Name             string     `json:"name"`
	MimeType         string     `json:"mimeType"`
	ParentID         string     `json:"parentId,omitempty"`
	DriveID          string     `json:"driveId,omitempty"`
	SharedWithMeTime string     `json:"sharedWithMeTime,omitempty"`
	Trashed          bool       `json:"trashed,omitempty"`
	Shared           bool       `json:"shared,omitempty"`
	Size             int64      `json:"size,omitempty"`
	Version          int64      `json:"version,omitempty"`
	ModifiedTime     string     `json:"modifiedTime,omitempty"`
	MD5Checksum      string     `json:"md5Checksum,omitempty"`
	SHA256Checksum   string     `json:"sha256Checksum,omitempty"`
}

// IsFolder reports whether the record is a folder.
func (r *Record) IsFolder() bool {
	return r.MimeType == FolderMimeType
}

// IsShortcut reports whether the record is a shortcut.
func (r *Record) IsShortcut() bool {
	return r.MimeType == ShortcutMimeType
}

// TypeForMime maps a MIME type onto the record union tag.
func TypeForMime(mimeType string) RecordType {
	switch mimeType {
	case FolderMimeType:
		return RecordTypeFolder
	case ShortcutMimeType:
		return RecordTypeShortcut
	default:
		return RecordTypeFile
	}
}

// Validate checks the invariants every record must satisfy before it is
// allowed anywhere near the tree or the cache.
func (r *Record) Validate() error {
	if r == nil || strings.TrimSpace(r.ID) == "" {
		return &InvalidRecordError{Field: "id"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &InvalidRecordError{FileID: r.ID, Field: "name"}
	}
	if strings.TrimSpace(r.MimeType) == "" {
		return &InvalidRecordError{FileID: r.ID, Field: "mimeType"}
	}
	return nil
}

// RecordFromFile converts a Drive API file into a Record. A file missing a
// required field yields an InvalidRecordError; the offending record must
// never be inserted into the tree or cache.
func RecordFromFile(f *drive.File) (*Record, error) {
	if f == nil {
		return nil, &InvalidRecordError{Field: "id"}
	}

	rec := &Record{
		ID:               strings.TrimSpace(f.Id),
		Name:             strings.TrimSpace(f.Name),
		MimeType:         strings.TrimSpace(f.MimeType),
		DriveID:          strings.TrimSpace(f.DriveId),
		SharedWithMeTime: strings.TrimSpace(f.SharedWithMeTime),
		Trashed:          f.Trashed,
		Shared:           f.Shared,
		Size:             f.Size,
		Version:          f.Version,
		ModifiedTime:     strings.TrimSpace(f.ModifiedTime),
		MD5Checksum:      f.Md5Checksum,
		SHA256Checksum:   f.Sha256Checksum,
	}
	if len(f.Parents) > 0 {
		rec.ParentID = strings.TrimSpace(f.Parents[0])
	}
	rec.Type = TypeForMime(rec.MimeType)

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
