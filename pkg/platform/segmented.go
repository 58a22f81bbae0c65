package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/types"
	"github.com/relaycast/relaycast/pkg/uperr"
)

// Segmented speaks the three-command media upload protocol used by
// microblogging hosts: INIT reserves a media id, APPEND pushes one ordered
// segment per call, FINALIZE publishes. APPEND never self-finishes.
type Segmented struct {
	endpoint string
	limits   Limits
	hc       *http.Client
}

// SegmentedConfig configures the adapter.
type SegmentedConfig struct {
	// Endpoint is the single command URL all three commands POST to.
	Endpoint string

	HTTPClient *http.Client
	Limits     *Limits
}

// NewSegmented creates the adapter.
func NewSegmented(cfg SegmentedConfig) *Segmented {
	limits := Limits{
		MaxFileSize: 512 << 20, // 512 MiB
		ChunkSize:   5 << 20,   // 5 MiB segments
		MIMETypes:   []string{"video/mp4", "image/gif", "image/png", "image/jpeg"},
	}
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient
	}
	return &Segmented{endpoint: cfg.Endpoint, limits: limits, hc: hc}
}

// Platform implements Adapter.
func (a *Segmented) Platform() types.Platform {
	return types.PlatformSegmented
}

// Limits implements Adapter.
func (a *Segmented) Limits() Limits {
	return a.limits
}

type segmentedMediaResponse struct {
	MediaID string `json:"media_id_string"`
}

// Open issues the INIT command and returns the media id as the handle.
func (a *Segmented) Open(ctx context.Context, cred *oauth2.Token, meta FileMetadata) (string, error) {
	const op = "segmented.init"

	form := url.Values{}
	form.Set("command", "INIT")
	form.Set("total_bytes", fmt.Sprintf("%d", meta.TotalSize))
	form.Set("media_type", meta.MIMEType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", bearer(cred))

	var out segmentedMediaResponse
	if err := doJSON(a.hc, op, req, &out); err != nil {
		return "", err
	}
	if out.MediaID == "" {
		return "", uperr.Protocol(op, "INIT response missing media id")
	}
	return out.MediaID, nil
}

// SendChunk issues one APPEND command carrying the segment index and the
// binary payload. Segments must arrive in increasing index order; the
// orchestrator serializes per-session sends to guarantee that.
func (a *Segmented) SendChunk(ctx context.Context, cred *oauth2.Token, handle string, chunk types.ChunkState, data []byte, _ uint64) (SendResult, error) {
	const op = "segmented.append"

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("command", "APPEND"); err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	if err := w.WriteField("media_id", handle); err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	if err := w.WriteField("segment_index", fmt.Sprintf("%d", chunk.Index)); err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	part, err := w.CreateFormFile("media", "segment")
	if err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	if _, err := part.Write(data); err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	if err := w.Close(); err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, &body)
	if err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", bearer(cred))

	resp, err := a.hc.Do(req)
	if err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryTransient, op, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, uperr.FromHTTPStatus(op, resp.StatusCode, readErrorBody(resp.Body))
	}
	// APPEND acknowledges the segment only; completion always needs
	// FINALIZE.
	return SendResult{Accepted: true}, nil
}

// Finalize issues the FINALIZE command keyed by the media id.
func (a *Segmented) Finalize(ctx context.Context, cred *oauth2.Token, handle string, _ PublishOptions) (string, error) {
	const op = "segmented.finalize"

	form := url.Values{}
	form.Set("command", "FINALIZE")
	form.Set("media_id", handle)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", bearer(cred))

	var out segmentedMediaResponse
	if err := doJSON(a.hc, op, req, &out); err != nil {
		return "", err
	}
	if out.MediaID == "" {
		return "", uperr.Protocol(op, "FINALIZE response missing media id")
	}
	return out.MediaID, nil
}
