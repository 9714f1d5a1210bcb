package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// FileStatus is the state-machine value carried on every File row.
type FileStatus string

const (
	StatusDiscovered     FileStatus = "discovered"
	StatusHashing        FileStatus = "hashing"
	StatusReadyForUpload FileStatus = "ready_for_upload"
	StatusUploading      FileStatus = "uploading"
	StatusCompleted      FileStatus = "completed"
	StatusFailed         FileStatus = "failed"
	StatusDeleted        FileStatus = "deleted"
	// StatusSymlink is terminal, like StatusCompleted, but deliberately
	// outside the {ready_for_upload, uploading, completed} set that
	// carries a non-null sha256: a symlink is recorded but never read or
	// hashed, so it has no content to fingerprint.
	StatusSymlink FileStatus = "symlink"
)

// QueueKind identifies which of the three durable queues a QueueEntry belongs to.
type QueueKind string

const (
	QueueChecksum QueueKind = "pending_checksum"
	QueueUpload   QueueKind = "pending_upload"
	QueueDeletion QueueKind = "pending_deletion"
)

// EventKind enumerates the activity envelope kinds from spec.md section 6.
type EventKind string

const (
	EventScanStarted         EventKind = "scan_started"
	EventScanComplete        EventKind = "scan_complete"
	EventScanRecovered       EventKind = "scan_recovered"
	EventFileDiscovered      EventKind = "file_discovered"
	EventFileChanged         EventKind = "file_changed"
	EventFileDeleted         EventKind = "file_deleted"
	EventFileMissing         EventKind = "file_missing"
	EventFingerprintUnchanged EventKind = "fingerprint_unchanged"
	EventFingerprintFailed   EventKind = "fingerprint_failed"
	EventUploadStarted       EventKind = "upload_started"
	EventUploadProgress      EventKind = "upload_progress"
	EventUploadComplete      EventKind = "upload_complete"
	EventUploadFailed        EventKind = "upload_failed"
	EventError               EventKind = "error"
)

// Root is a user-registered directory tree the daemon watches and scans.
type Root struct {
	ID            uint `gorm:"primaryKey"`
	Path          string `gorm:"uniqueIndex;not null"`
	Recursive     bool   `gorm:"default:true"`
	Enabled       bool   `gorm:"default:true"`
	LastScannedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Exclude is a glob-or-component rule suppressing file discovery under all roots.
type Exclude struct {
	ID        uint   `gorm:"primaryKey"`
	Pattern   string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

// Server is a remote putplace server the Uploader can target.
// At most one row may have IsDefault=true; that invariant is enforced
// transactionally in servers.go, not by a DB constraint.
type Server struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;not null"`
	BaseURL     string `gorm:"not null"`
	Username    string
	Secret      string
	IsDefault   bool
	Token       string
	TokenExpiry *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// File is one row per observed path. sha256 is always present once Status
// is at or beyond StatusReadyForUpload; a row sent back to discovered by a
// change keeps its previous sha256 until it is fingerprinted again.
// (Size, MtimeNs) is the change key the scanner re-tests on every
// scan/watch event.
type File struct {
	ID           uint       `gorm:"primaryKey"`
	Path         string     `gorm:"uniqueIndex;not null"`
	RootID       uint       `gorm:"index;not null"`
	Size         int64
	MtimeNs      int64
	Mode         uint32
	UID          uint32
	GID          uint32
	IsSymlink    bool
	LinkTarget   string
	SHA256       string `gorm:"index"`
	Status       FileStatus `gorm:"index;not null"`
	LastError    string
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// QueueEntry is a durable work item referencing a File row. It becomes
// visible again once NextVisibleAt elapses, whether because it was never
// claimed, its lease expired, or Fail() scheduled a retry.
type QueueEntry struct {
	ID            uint      `gorm:"primaryKey"`
	Kind          QueueKind `gorm:"index:idx_queue_claim;not null"`
	FileID        uint      `gorm:"index;not null"`
	EnqueuedAt    time.Time
	Attempts      int
	NextVisibleAt time.Time `gorm:"index:idx_queue_claim"`
	ClaimToken    string    `gorm:"index"`
	ClaimedAt     *time.Time
}

// ActivityEvent is an append-only, strictly-increasing-ID record used for
// UI display and SSE streaming.
type ActivityEvent struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	Kind      EventKind `gorm:"index;not null"`
	FilePath  string
	RootID    *uint
	Message   string
	Details   JSONMap `gorm:"type:text"`
}

// JSONMap persists an arbitrary JSON object in a single text column,
// matching the original source's "details(json)" activity field.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("JSONMap: unsupported scan type %T", value)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}
