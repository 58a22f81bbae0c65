package types

import (
	"time"

	"github.com/google/uuid"
)

// Platform selects which protocol adapter governs an upload session.
type Platform string

const (
	// PlatformResumablePut targets hosts speaking the single-URL resumable
	// PUT protocol (Content-Range continuation, 308 = keep going).
	PlatformResumablePut Platform = "resumable-put"

	// PlatformSegmented targets hosts speaking the INIT/APPEND/FINALIZE
	// command protocol with strictly ordered segment appends.
	PlatformSegmented Platform = "segmented"

	// PlatformMultipart targets hosts accepting multipart form chunk POSTs
	// against an upload id, with implicit completion.
	PlatformMultipart Platform = "multipart"

	// PlatformContainer targets hosts that pull the file from a public
	// source URL into a container which is then published.
	PlatformContainer Platform = "container"
)

// Platforms lists every supported platform.
func Platforms() []Platform {
	return []Platform{
		PlatformResumablePut,
		PlatformSegmented,
		PlatformMultipart,
		PlatformContainer,
	}
}

// Valid reports whether p names a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformResumablePut, PlatformSegmented, PlatformMultipart, PlatformContainer:
		return true
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}

// SessionStatus is the lifecycle state of an upload session.
type SessionStatus string

const (
	StatusInitialized SessionStatus = "initialized"
	StatusUploading   SessionStatus = "uploading"
	StatusProcessing  SessionStatus = "processing"
	StatusCompleted   SessionStatus = "completed"
	StatusFailed      SessionStatus = "failed"
	StatusCancelled   SessionStatus = "cancelled"
)

// Terminal reports whether the status permits no further mutation.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ChunkState tracks one planned byte range of a session's source file.
// ByteEnd is inclusive, matching Content-Range semantics.
// Uploaded only ever flips false -> true, after the remote side has
// acknowledged the range.
type ChunkState struct {
	Index     int    `json:"index"`
	ByteStart uint64 `json:"byte_start"`
	ByteEnd   uint64 `json:"byte_end"`
	Size      uint64 `json:"size"`
	Uploaded  bool   `json:"uploaded"`
}

// UploadSession is one file-transfer attempt to one platform.
//
// ID, OwnerID, Platform, FileName, TotalSize and Chunks (aside from the
// Uploaded flags) are immutable after initialization. RemoteHandle is set
// once by the adapter's open step. Terminal statuses freeze the record.
type UploadSession struct {
	ID       string   `json:"id"`
	OwnerID  string   `json:"owner_id"`
	Platform Platform `json:"platform"`

	FileName  string `json:"file_name"`
	MIMEType  string `json:"mime_type,omitempty"`
	TotalSize uint64 `json:"total_size"`
	ChunkSize uint64 `json:"chunk_size"`

	// Caption and Location are publish-time extras forwarded to the
	// platform's finalize step.
	Caption  string `json:"caption,omitempty"`
	Location string `json:"location,omitempty"`

	// RemoteHandle is the opaque upload address returned by the adapter's
	// open step (resumable session URL, media id, upload id, container id).
	RemoteHandle string `json:"remote_handle,omitempty"`

	// RemoteAssetID is the finalized asset identifier on the remote side.
	RemoteAssetID string `json:"remote_asset_id,omitempty"`

	Chunks []ChunkState  `json:"chunks"`
	Status SessionStatus `json:"status"`

	// LastError holds the most recent failure, human-readable, with
	// ErrorCategory carrying the machine-checkable classification.
	LastError     string `json:"last_error,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`

	CreatedAt      int64 `json:"created_at"`       // Unix nano
	LastActivityAt int64 `json:"last_activity_at"` // Unix nano, bumped on every chunk attempt
	CompletedAt    int64 `json:"completed_at,omitempty"`
}

// NewSessionID generates an opaque session identifier.
func NewSessionID() string {
	return uuid.New().String()
}

// UploadedChunks counts chunks acknowledged by the remote side.
func (s *UploadSession) UploadedChunks() int {
	n := 0
	for i := range s.Chunks {
		if s.Chunks[i].Uploaded {
			n++
		}
	}
	return n
}

// BytesUploaded sums the sizes of acknowledged chunks.
func (s *UploadSession) BytesUploaded() uint64 {
	var n uint64
	for i := range s.Chunks {
		if s.Chunks[i].Uploaded {
			n += s.Chunks[i].Size
		}
	}
	return n
}

// AllUploaded reports whether every planned chunk has been acknowledged.
func (s *UploadSession) AllUploaded() bool {
	for i := range s.Chunks {
		if !s.Chunks[i].Uploaded {
			return false
		}
	}
	return true
}

// MissingChunks returns the indices still awaiting acknowledgement,
// in increasing order. This is what a resuming client re-sends.
func (s *UploadSession) MissingChunks() []int {
	missing := make([]int, 0, len(s.Chunks))
	for i := range s.Chunks {
		if !s.Chunks[i].Uploaded {
			missing = append(missing, s.Chunks[i].Index)
		}
	}
	return missing
}

// Touch bumps LastActivityAt.
func (s *UploadSession) Touch(now time.Time) {
	s.LastActivityAt = now.UnixNano()
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state behind the store's back.
func (s *UploadSession) Clone() *UploadSession {
	out := *s
	out.Chunks = make([]ChunkState, len(s.Chunks))
	copy(out.Chunks, s.Chunks)
	return &out
}
