// Package upload is the orchestration façade: it plans chunks, opens remote
// upload channels through the platform adapters, drives retryable chunk
// transmission, and keeps the session store as the single source of truth
// for transfer state. Nothing here caches session state between calls; a
// process restart loses only in-flight attempts, never acknowledged bytes.
package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/auth"
	"github.com/relaycast/relaycast/pkg/chunker"
	"github.com/relaycast/relaycast/pkg/events"
	"github.com/relaycast/relaycast/pkg/logger"
	"github.com/relaycast/relaycast/pkg/platform"
	"github.com/relaycast/relaycast/pkg/retry"
	"github.com/relaycast/relaycast/pkg/session"
	"github.com/relaycast/relaycast/pkg/types"
	"github.com/relaycast/relaycast/pkg/uperr"
)

// Config tunes the orchestrator.
type Config struct {
	// Retry bounds every adapter call (open, send, finalize).
	Retry retry.Config

	// MaxFileSize caps uploads across all platforms. 0 means only the
	// per-platform limit applies.
	MaxFileSize uint64
}

// InitRequest describes a new upload.
type InitRequest struct {
	OwnerID  string
	Platform types.Platform
	Meta     platform.FileMetadata

	// Caption and Location are forwarded to the platform's finalize step.
	Caption  string
	Location string
}

// Progress is a point-in-time view of a session, derived purely from stored
// state.
type Progress struct {
	SessionID      string              `json:"session_id"`
	Status         types.SessionStatus `json:"status"`
	UploadedChunks int                 `json:"uploaded_chunks"`
	TotalChunks    int                 `json:"total_chunks"`
	BytesUploaded  uint64              `json:"bytes_uploaded"`
	TotalSize      uint64              `json:"total_size"`
	ChunkSize      uint64              `json:"chunk_size"`
	Percent        float64             `json:"percent"`

	// EstimatedRemaining extrapolates from throughput so far. Zero until
	// the first chunk lands.
	EstimatedRemaining time.Duration `json:"estimated_remaining_ns,omitempty"`

	RemoteAssetID string `json:"remote_asset_id,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
}

// Orchestrator coordinates chunk planning, adapter calls, retries and
// session state transitions. Chunk calls for one session are serialized;
// different sessions proceed concurrently.
type Orchestrator struct {
	store    session.Store
	adapters *platform.Registry
	creds    auth.CredentialProvider
	emitter  *events.Emitter
	cfg      Config

	mu     sync.Mutex
	guards map[string]*sessionGuard
}

// errSessionTerminal aborts a store update that would touch a record after
// it reached a terminal state.
var errSessionTerminal = errors.New("session reached a terminal state")

// sessionGuard serializes chunk transmission within one session and carries
// the context that Cancel fires to interrupt an in-flight retry sleep.
type sessionGuard struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an orchestrator. A nil emitter disables event publishing.
func New(store session.Store, adapters *platform.Registry, creds auth.CredentialProvider, emitter *events.Emitter, cfg Config) *Orchestrator {
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	return &Orchestrator{
		store:    store,
		adapters: adapters,
		creds:    creds,
		emitter:  emitter,
		cfg:      cfg,
		guards:   make(map[string]*sessionGuard),
	}
}

// Initialize validates the file against the platform's limits, plans the
// chunk layout, opens the remote upload channel and persists the session.
// The returned session carries the chunk size the caller must slice with.
func (o *Orchestrator) Initialize(ctx context.Context, req InitRequest) (*types.UploadSession, error) {
	const op = "upload.initialize"

	if !req.Platform.Valid() {
		return nil, uperr.Validation(op, "unknown platform %q", req.Platform)
	}
	adapter, ok := o.adapters.Get(req.Platform)
	if !ok {
		return nil, uperr.Validation(op, "platform %s is not enabled", req.Platform)
	}
	if req.OwnerID == "" {
		return nil, uperr.Validation(op, "owner id is required")
	}
	if req.Meta.TotalSize == 0 {
		return nil, uperr.Validation(op, "total size must be > 0")
	}

	limits := adapter.Limits()
	if limits.MaxFileSize > 0 && req.Meta.TotalSize > limits.MaxFileSize {
		return nil, uperr.Validation(op, "file size %s exceeds the %s limit of %s",
			humanize.Bytes(req.Meta.TotalSize), req.Platform, humanize.Bytes(limits.MaxFileSize))
	}
	if o.cfg.MaxFileSize > 0 && req.Meta.TotalSize > o.cfg.MaxFileSize {
		return nil, uperr.Validation(op, "file size %s exceeds the service limit of %s",
			humanize.Bytes(req.Meta.TotalSize), humanize.Bytes(o.cfg.MaxFileSize))
	}
	if !limits.AllowsMIME(req.Meta.MIMEType) {
		return nil, uperr.Validation(op, "%s does not accept %q", req.Platform, req.Meta.MIMEType)
	}

	cred, err := o.creds.ValidCredential(ctx, req.OwnerID, req.Platform)
	if err != nil {
		return nil, uperr.Wrap(uperr.CategoryAuth, op, err)
	}
	if cred == nil {
		return nil, uperr.Auth(op, "owner %s has no credential for %s", req.OwnerID, req.Platform)
	}

	// ChunkSize 0 means the platform never sees the bytes (container pull):
	// plan one chunk spanning the whole file.
	chunkSize := limits.ChunkSize
	if chunkSize == 0 {
		chunkSize = req.Meta.TotalSize
	}

	var handle string
	err = retry.Do(ctx, o.cfg.Retry, func(ctx context.Context) error {
		h, err := adapter.Open(ctx, cred, req.Meta)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &types.UploadSession{
		ID:             types.NewSessionID(),
		OwnerID:        req.OwnerID,
		Platform:       req.Platform,
		FileName:       req.Meta.Name,
		MIMEType:       req.Meta.MIMEType,
		TotalSize:      req.Meta.TotalSize,
		ChunkSize:      chunkSize,
		Caption:        req.Caption,
		Location:       req.Location,
		RemoteHandle:   handle,
		Status:         types.StatusInitialized,
		CreatedAt:      now.UnixNano(),
		LastActivityAt: now.UnixNano(),
	}
	for _, r := range chunker.Plan(req.Meta.TotalSize, chunkSize) {
		s.Chunks = append(s.Chunks, types.ChunkState{
			Index:     r.Index,
			ByteStart: r.Start,
			ByteEnd:   r.End,
			Size:      r.Size,
		})
	}

	if err := o.store.Create(ctx, s); err != nil {
		return nil, uperr.Wrap(uperr.CategoryUnknown, op, err)
	}

	sessionsStarted.WithLabelValues(s.Platform.String()).Inc()
	logger.Ctx(ctx).Info().
		Str("session_id", s.ID).
		Str("owner_id", s.OwnerID).
		Str("platform", s.Platform.String()).
		Str("file_size", humanize.Bytes(s.TotalSize)).
		Int("chunks", len(s.Chunks)).
		Msg("upload session initialized")
	o.emitter.Emit(ctx, events.FromSession(s))

	return s.Clone(), nil
}

// UploadChunk transmits one planned byte range through the session's
// adapter, retrying transient failures. Re-sending an already-acknowledged
// index is a no-op success. When the last chunk lands (or the remote
// self-finishes), the session is finalized and completes.
func (o *Orchestrator) UploadChunk(ctx context.Context, sessionID string, index int, data []byte) (*types.UploadSession, error) {
	const op = "upload.chunk"

	g := o.guard(sessionID)
	g.mu.Lock()
	defer g.mu.Unlock()

	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Unknown or expired id: nothing will ever retire this guard,
			// so remove it here rather than grow the map per bad request.
			o.dropGuard(sessionID)
			return nil, uperr.NotFound(op, "session %s not found", sessionID)
		}
		return nil, uperr.Wrap(uperr.CategoryUnknown, op, err)
	}
	if s.Status.Terminal() {
		o.dropGuard(sessionID)
		return nil, uperr.Validation(op, "session %s is %s", sessionID, s.Status)
	}
	if index < 0 || index >= len(s.Chunks) {
		return nil, uperr.Validation(op, "chunk index %d out of range [0,%d)", index, len(s.Chunks))
	}
	chunk := s.Chunks[index]
	if uint64(len(data)) != chunk.Size {
		return nil, uperr.Validation(op, "chunk %d expects %d bytes, got %d", index, chunk.Size, len(data))
	}
	if chunk.Uploaded && s.Status != types.StatusProcessing {
		logger.Ctx(ctx).Debug().
			Str("session_id", sessionID).
			Int("chunk", index).
			Msg("duplicate chunk, already acknowledged")
		return s, nil
	}

	cred, err := o.creds.ValidCredential(ctx, s.OwnerID, s.Platform)
	if err != nil {
		return nil, o.recordFailure(ctx, sessionID, uperr.Wrap(uperr.CategoryAuth, op, err))
	}
	if cred == nil {
		return nil, o.recordFailure(ctx, sessionID,
			uperr.Auth(op, "owner %s has no credential for %s", s.OwnerID, s.Platform))
	}

	adapter, ok := o.adapters.Get(s.Platform)
	if !ok {
		return nil, uperr.Protocol(op, "no adapter registered for %s", s.Platform)
	}

	cctx, stop := guardContext(ctx, g)
	defer stop()

	// A processing session means every range is acknowledged but an earlier
	// finalize failed without failing the session (auth). Re-sending the
	// chunk re-drives the finalize instead of the transfer.
	if chunk.Uploaded {
		return o.finalize(ctx, cctx, s, adapter, cred)
	}

	var res platform.SendResult
	sendErr := retry.Do(cctx, o.cfg.Retry, func(ctx context.Context) error {
		r, err := adapter.SendChunk(ctx, cred, s.RemoteHandle, chunk, data, s.TotalSize)
		if err != nil {
			return err
		}
		if !r.Accepted {
			return uperr.Transient(op, "chunk %d not accepted", index)
		}
		res = r
		return nil
	})
	if sendErr != nil {
		return nil, o.recordFailure(ctx, sessionID, sendErr)
	}

	updated, err := o.store.Update(ctx, sessionID, func(s *types.UploadSession) error {
		if s.Status.Terminal() {
			return uperr.Validation(op, "session %s is %s", sessionID, s.Status)
		}
		s.Chunks[index].Uploaded = true
		s.LastError, s.ErrorCategory = "", ""
		switch {
		case res.Finished:
			s.Status = types.StatusCompleted
			s.RemoteAssetID = res.AssetID
			s.CompletedAt = time.Now().UnixNano()
		case s.AllUploaded():
			s.Status = types.StatusProcessing
		default:
			s.Status = types.StatusUploading
		}
		s.Touch(time.Now())
		return nil
	})
	if err != nil {
		return nil, uperr.Wrap(uperr.CategoryUnknown, op, err)
	}

	chunksSent.WithLabelValues(updated.Platform.String()).Inc()
	bytesSent.WithLabelValues(updated.Platform.String()).Add(float64(chunk.Size))
	o.emitter.Emit(ctx, events.FromSession(updated))

	switch updated.Status {
	case types.StatusCompleted:
		sessionsCompleted.WithLabelValues(updated.Platform.String()).Inc()
		o.dropGuard(sessionID)
		logger.Ctx(ctx).Info().
			Str("session_id", sessionID).
			Str("remote_asset_id", updated.RemoteAssetID).
			Msg("upload completed")
		return updated, nil
	case types.StatusProcessing:
		return o.finalize(ctx, cctx, updated, adapter, cred)
	default:
		return updated, nil
	}
}

// finalize converts uploaded bytes into a visible remote asset. Called with
// the session guard held, after the last chunk is acknowledged.
func (o *Orchestrator) finalize(ctx, cctx context.Context, s *types.UploadSession, adapter platform.Adapter, cred *oauth2.Token) (*types.UploadSession, error) {
	var assetID string
	ferr := retry.Do(cctx, o.cfg.Retry, func(ctx context.Context) error {
		id, err := adapter.Finalize(ctx, cred, s.RemoteHandle, platform.PublishOptions{
			Caption:  s.Caption,
			Location: s.Location,
		})
		if err != nil {
			return err
		}
		assetID = id
		return nil
	})
	if ferr != nil {
		return nil, o.recordFailure(ctx, s.ID, ferr)
	}

	updated, err := o.store.Update(ctx, s.ID, func(s *types.UploadSession) error {
		if s.Status.Terminal() {
			return errSessionTerminal
		}
		s.Status = types.StatusCompleted
		s.RemoteAssetID = assetID
		s.CompletedAt = time.Now().UnixNano()
		s.LastError, s.ErrorCategory = "", ""
		s.Touch(time.Now())
		return nil
	})
	if err != nil {
		return nil, uperr.Wrap(uperr.CategoryUnknown, "upload.finalize", err)
	}

	sessionsCompleted.WithLabelValues(updated.Platform.String()).Inc()
	o.dropGuard(s.ID)
	logger.Ctx(ctx).Info().
		Str("session_id", updated.ID).
		Str("remote_asset_id", assetID).
		Msg("upload finalized")
	o.emitter.Emit(ctx, events.FromSession(updated))
	return updated, nil
}

// recordFailure persists the outcome of a failed adapter call and returns
// the error the caller should surface. Auth failures leave the session in
// its current state so the owner can refresh credentials and resume;
// everything else that escapes the retry loop fails the session. A context
// cancellation is the cancel path's doing and is passed through untouched.
func (o *Orchestrator) recordFailure(ctx context.Context, sessionID string, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}

	failed := false
	cat := uperr.CategoryOf(cause)
	updated, err := o.store.Update(ctx, sessionID, func(s *types.UploadSession) error {
		if s.Status.Terminal() {
			return errSessionTerminal
		}
		s.LastError = cause.Error()
		s.ErrorCategory = cat.String()
		if cat != uperr.CategoryAuth {
			s.Status = types.StatusFailed
			failed = true
		}
		s.Touch(time.Now())
		return nil
	})
	if err != nil {
		// Session expired, was cancelled, or reached a terminal state
		// underneath us; terminal records stay frozen and the original
		// failure is still the story.
		return cause
	}

	if failed {
		sessionsFailed.WithLabelValues(updated.Platform.String()).Inc()
		o.dropGuard(sessionID)
	}
	logger.Ctx(ctx).Warn().
		Err(cause).
		Str("session_id", sessionID).
		Str("category", cat.String()).
		Bool("failed", failed).
		Msg("adapter call failed")
	o.emitter.Emit(ctx, events.FromSession(updated))
	return cause
}

// Progress derives a progress view from stored state. No side effects.
func (o *Orchestrator) Progress(ctx context.Context, sessionID string) (Progress, error) {
	const op = "upload.progress"

	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Progress{}, uperr.NotFound(op, "session %s not found", sessionID)
		}
		return Progress{}, uperr.Wrap(uperr.CategoryUnknown, op, err)
	}

	p := Progress{
		SessionID:      s.ID,
		Status:         s.Status,
		UploadedChunks: s.UploadedChunks(),
		TotalChunks:    len(s.Chunks),
		BytesUploaded:  s.BytesUploaded(),
		TotalSize:      s.TotalSize,
		ChunkSize:      s.ChunkSize,
		RemoteAssetID:  s.RemoteAssetID,
		LastError:      s.LastError,
		ErrorCategory:  s.ErrorCategory,
	}
	if s.TotalSize > 0 {
		p.Percent = float64(p.BytesUploaded) / float64(s.TotalSize) * 100
	}
	if p.BytesUploaded > 0 && p.BytesUploaded < s.TotalSize {
		elapsed := time.Duration(time.Now().UnixNano() - s.CreatedAt)
		remaining := s.TotalSize - p.BytesUploaded
		p.EstimatedRemaining = time.Duration(float64(elapsed) * float64(remaining) / float64(p.BytesUploaded))
	}
	return p, nil
}

// Resume returns the chunk indices still awaiting acknowledgement so a
// client can re-send only missing data. The chunk layout and remote handle
// are durable, so this works across process restarts.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) ([]int, error) {
	const op = "upload.resume"

	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, uperr.NotFound(op, "session %s not found", sessionID)
		}
		return nil, uperr.Wrap(uperr.CategoryUnknown, op, err)
	}
	if s.Status.Terminal() {
		return nil, uperr.Validation(op, "session %s is %s", sessionID, s.Status)
	}
	return s.MissingChunks(), nil
}

// Cancel marks the session cancelled and removes its record. An in-flight
// retry sleep is interrupted immediately. Remote platforms may retain
// partially uploaded bytes; no cleanup there is attempted.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	const op = "upload.cancel"

	// Fire the guard context first so a chunk call sleeping between retry
	// attempts wakes up without waiting out its backoff.
	o.mu.Lock()
	if g, ok := o.guards[sessionID]; ok {
		g.cancel()
	}
	o.mu.Unlock()

	s, err := o.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return uperr.NotFound(op, "session %s not found", sessionID)
		}
		return uperr.Wrap(uperr.CategoryUnknown, op, err)
	}
	if s.Status.Terminal() {
		return uperr.Validation(op, "session %s is already %s", sessionID, s.Status)
	}

	updated, err := o.store.Update(ctx, sessionID, func(s *types.UploadSession) error {
		s.Status = types.StatusCancelled
		s.Touch(time.Now())
		return nil
	})
	if err != nil {
		return uperr.Wrap(uperr.CategoryUnknown, op, err)
	}

	sessionsCancelled.WithLabelValues(updated.Platform.String()).Inc()
	logger.Ctx(ctx).Info().
		Str("session_id", sessionID).
		Str("owner_id", updated.OwnerID).
		Msg("upload cancelled")
	o.emitter.Emit(ctx, events.FromSession(updated))

	if err := o.store.Delete(ctx, sessionID); err != nil {
		return uperr.Wrap(uperr.CategoryUnknown, op, err)
	}
	o.dropGuard(sessionID)
	return nil
}

// Delete removes a session record at the owner's request, interrupting any
// in-flight transmission.
func (o *Orchestrator) Delete(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	if g, ok := o.guards[sessionID]; ok {
		g.cancel()
	}
	o.mu.Unlock()

	if err := o.store.Delete(ctx, sessionID); err != nil {
		return uperr.Wrap(uperr.CategoryUnknown, "upload.delete", err)
	}
	o.dropGuard(sessionID)
	return nil
}

// ListByOwner returns every live session owned by ownerID.
func (o *Orchestrator) ListByOwner(ctx context.Context, ownerID string) ([]*types.UploadSession, error) {
	sessions, err := o.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, uperr.Wrap(uperr.CategoryUnknown, "upload.list", err)
	}
	return sessions, nil
}

// Close interrupts all in-flight transmissions. Session records stay in the
// store for later resume.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, g := range o.guards {
		g.cancel()
		delete(o.guards, id)
	}
	return nil
}

func (o *Orchestrator) guard(sessionID string) *sessionGuard {
	o.mu.Lock()
	defer o.mu.Unlock()
	g, ok := o.guards[sessionID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		g = &sessionGuard{ctx: ctx, cancel: cancel}
		o.guards[sessionID] = g
	}
	return g
}

func (o *Orchestrator) dropGuard(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if g, ok := o.guards[sessionID]; ok {
		g.cancel()
		delete(o.guards, sessionID)
	}
}

// guardContext derives a context cancelled by either the caller or the
// session guard, so Cancel interrupts a retry sleep started by another
// goroutine's chunk call.
func guardContext(ctx context.Context, g *sessionGuard) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(g.ctx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}
