// Package events pushes session state transitions to external channels so
// downstream consumers (dashboards, the post-upload pipeline) do not have to
// poll progress. The upload core works identically with no publishers
// configured; delivery failures are logged, never propagated.
package events

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaycast/relaycast/pkg/debug"
	"github.com/relaycast/relaycast/pkg/logger"
	"github.com/relaycast/relaycast/pkg/types"
)

var eventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "relaycast",
	Subsystem: "events",
	Name:      "delivered_total",
	Help:      "Session events delivered, by publisher",
}, []string{"publisher"})

var eventsErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "relaycast",
	Subsystem: "events",
	Name:      "errors_total",
	Help:      "Session event delivery failures, by publisher",
}, []string{"publisher"})

func init() {
	debug.Registry().MustRegister(eventsDelivered, eventsErrors)
}

// SessionEvent is the payload published on every session state transition.
type SessionEvent struct {
	SessionID      string              `json:"session_id"`
	OwnerID        string              `json:"owner_id"`
	Platform       types.Platform      `json:"platform"`
	Status         types.SessionStatus `json:"status"`
	UploadedChunks int                 `json:"uploaded_chunks"`
	TotalChunks    int                 `json:"total_chunks"`
	BytesUploaded  uint64              `json:"bytes_uploaded"`
	TotalSize      uint64              `json:"total_size"`
	RemoteAssetID  string              `json:"remote_asset_id,omitempty"`
	Error          string              `json:"error,omitempty"`
	Timestamp      int64               `json:"timestamp"` // Unix milli
}

// FromSession builds the event payload for a session's current state.
func FromSession(s *types.UploadSession) SessionEvent {
	return SessionEvent{
		SessionID:      s.ID,
		OwnerID:        s.OwnerID,
		Platform:       s.Platform,
		Status:         s.Status,
		UploadedChunks: s.UploadedChunks(),
		TotalChunks:    len(s.Chunks),
		BytesUploaded:  s.BytesUploaded(),
		TotalSize:      s.TotalSize,
		RemoteAssetID:  s.RemoteAssetID,
		Error:          s.LastError,
		Timestamp:      time.Now().UnixMilli(),
	}
}

// Publisher delivers one event to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev SessionEvent) error
	Close() error
}

// Emitter fans events out to every configured publisher.
type Emitter struct {
	publishers []Publisher
}

// NewEmitter creates an emitter over the given publishers. Zero publishers
// yields a no-op emitter.
func NewEmitter(publishers ...Publisher) *Emitter {
	return &Emitter{publishers: publishers}
}

// Emit delivers ev to every publisher. Failures are logged and counted but
// never block or fail the upload path.
func (e *Emitter) Emit(ctx context.Context, ev SessionEvent) {
	for _, p := range e.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			eventsErrors.WithLabelValues(p.Name()).Inc()
			logger.Ctx(ctx).Warn().
				Err(err).
				Str("publisher", p.Name()).
				Str("session_id", ev.SessionID).
				Msg("event delivery failed")
			continue
		}
		eventsDelivered.WithLabelValues(p.Name()).Inc()
	}
}

// Close shuts down all publishers.
func (e *Emitter) Close() error {
	for _, p := range e.publishers {
		if err := p.Close(); err != nil {
			logger.Warn().Err(err).Str("publisher", p.Name()).Msg("publisher close failed")
		}
	}
	return nil
}
