package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/types"
	"github.com/relaycast/relaycast/pkg/uperr"
)

// ResumablePut speaks the single-URL resumable protocol used by large video
// hosts: a metadata POST yields a session URL, chunks go up as PUTs with
// Content-Range headers, 308 means "accepted, continue", and the final
// chunk's 200/201 response carries the finished asset, so there is no
// separate finalize step.
type ResumablePut struct {
	base   string
	limits Limits
	hc     *http.Client
}

// ResumablePutConfig configures the adapter.
type ResumablePutConfig struct {
	// BaseURL is the metadata-creation endpoint root.
	BaseURL string

	// HTTPClient overrides the default long-timeout client.
	HTTPClient *http.Client

	// Limits overrides the platform defaults.
	Limits *Limits
}

// NewResumablePut creates the adapter.
func NewResumablePut(cfg ResumablePutConfig) *ResumablePut {
	limits := Limits{
		MaxFileSize: 128 << 30, // 128 GiB
		ChunkSize:   256_000_000,
		MIMETypes:   []string{"video/mp4", "video/quicktime", "video/webm"},
	}
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient
	}
	return &ResumablePut{base: cfg.BaseURL, limits: limits, hc: hc}
}

// Platform implements Adapter.
func (a *ResumablePut) Platform() types.Platform {
	return types.PlatformResumablePut
}

// Limits implements Adapter.
func (a *ResumablePut) Limits() Limits {
	return a.limits
}

// Open creates the remote metadata record and extracts the upload session
// URL from the Location response header.
func (a *ResumablePut) Open(ctx context.Context, cred *oauth2.Token, meta FileMetadata) (string, error) {
	const op = "resumable-put.open"

	body := map[string]any{
		"file_name":   meta.Name,
		"title":       meta.Title,
		"description": meta.Description,
	}
	req, err := jsonRequest(ctx, http.MethodPost, a.base+"/uploads", cred, body)
	if err != nil {
		return "", uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	req.Header.Set("X-Upload-Content-Length", fmt.Sprintf("%d", meta.TotalSize))
	req.Header.Set("X-Upload-Content-Type", meta.MIMEType)

	resp, err := a.hc.Do(req)
	if err != nil {
		return "", uperr.Wrap(uperr.CategoryTransient, op, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", uperr.FromHTTPStatus(op, resp.StatusCode, readErrorBody(resp.Body))
	}

	sessionURL := resp.Header.Get("Location")
	if sessionURL == "" {
		return "", uperr.Protocol(op, "response missing Location header")
	}
	return sessionURL, nil
}

// SendChunk PUTs the byte range against the session URL. A 308 response
// acknowledges the range; 200/201 additionally carries the finished asset id.
func (a *ResumablePut) SendChunk(ctx context.Context, cred *oauth2.Token, handle string, chunk types.ChunkState, data []byte, totalSize uint64) (SendResult, error) {
	const op = "resumable-put.send"

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, handle, bytes.NewReader(data))
	if err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	req.Header.Set("Authorization", bearer(cred))
	req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", chunk.ByteStart, chunk.ByteEnd, totalSize))

	resp, err := a.hc.Do(req)
	if err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryTransient, op, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusPermanentRedirect:
		// 308: range held, keep sending.
		return SendResult{Accepted: true}, nil

	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, fmt.Errorf("decode final response: %w", err))
		}
		if out.ID == "" {
			return SendResult{}, uperr.Protocol(op, "final response missing asset id")
		}
		return SendResult{Accepted: true, Finished: true, AssetID: out.ID}, nil

	default:
		return SendResult{}, uperr.FromHTTPStatus(op, resp.StatusCode, readErrorBody(resp.Body))
	}
}

// Finalize is never reached for this platform: the final chunk's response
// completes the transfer.
func (a *ResumablePut) Finalize(_ context.Context, _ *oauth2.Token, _ string, _ PublishOptions) (string, error) {
	return "", uperr.Protocol("resumable-put.finalize", "transfer finishes on the last chunk; no finalize call exists")
}
