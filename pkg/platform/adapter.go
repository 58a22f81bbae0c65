// Package platform adapts four incompatible remote upload protocols behind
// one interface: open a channel, push byte ranges, finalize the asset.
// Adapters are stateless; everything a call needs travels in its arguments,
// so a transfer can resume on a fresh process with only the stored handle.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/types"
)

// FileMetadata describes the source file when a channel is opened.
type FileMetadata struct {
	Name        string
	MIMEType    string
	TotalSize   uint64
	Title       string
	Description string

	// SourceURL is required by the container platform: the file must be
	// publicly reachable before the remote side will pull it.
	SourceURL string

	// SourceURLs, when set with more than one entry, requests a carousel
	// (multi-item) post on the container platform.
	SourceURLs []string
}

// PublishOptions carries finalize-time extras.
type PublishOptions struct {
	Caption  string
	Location string
}

// SendResult reports the remote side's reaction to one chunk.
type SendResult struct {
	// Accepted means the byte range is durably held remotely.
	Accepted bool

	// Finished means the remote considers the whole transfer complete and
	// no explicit finalize call is needed.
	Finished bool

	// AssetID is the finalized asset identifier, set only with Finished.
	AssetID string
}

// Limits are the platform's file constraints, enforced at initialization.
type Limits struct {
	MaxFileSize uint64
	ChunkSize   uint64
	MIMETypes   []string // empty = anything
}

// AllowsMIME reports whether the platform accepts the given MIME type.
func (l Limits) AllowsMIME(mime string) bool {
	if len(l.MIMETypes) == 0 {
		return true
	}
	for _, m := range l.MIMETypes {
		if m == mime {
			return true
		}
	}
	return false
}

// Adapter is one platform's protocol implementation.
//
// Open returns an opaque handle addressing the remote upload channel.
// SendChunk transmits one planned byte range; it must be safe to re-send
// the identical range after a failure. Finalize converts uploaded bytes
// into a visible remote asset and returns its id.
type Adapter interface {
	Platform() types.Platform
	Limits() Limits
	Open(ctx context.Context, cred *oauth2.Token, meta FileMetadata) (string, error)
	SendChunk(ctx context.Context, cred *oauth2.Token, handle string, chunk types.ChunkState, data []byte, totalSize uint64) (SendResult, error)
	Finalize(ctx context.Context, cred *oauth2.Token, handle string, opts PublishOptions) (string, error)
}

// Registry maps platforms to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[types.Platform]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[types.Platform]Adapter)}
}

// Register adds an adapter, replacing any previous one for the platform.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

// Get returns the adapter for a platform.
func (r *Registry) Get(p types.Platform) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	return a, ok
}

// Platforms lists the registered platforms.
func (r *Registry) Platforms() []types.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}

// defaultHTTPClient is shared by adapters that are not handed one. Chunk
// PUTs of hundreds of megabytes need a generous timeout.
var defaultHTTPClient = &http.Client{Timeout: 10 * time.Minute}

func bearer(cred *oauth2.Token) string {
	if cred == nil {
		return ""
	}
	return fmt.Sprintf("Bearer %s", cred.AccessToken)
}
