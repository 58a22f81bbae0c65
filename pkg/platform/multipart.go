package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/chunker"
	"github.com/relaycast/relaycast/pkg/types"
	"github.com/relaycast/relaycast/pkg/uperr"
)

// MultipartChunk speaks the init-then-POST protocol used by short-video
// hosts: an init call declaring size, chunk size and chunk count returns a
// dedicated upload URL plus an upload id, each chunk goes up as a multipart
// form POST, and completion is implicit once every chunk is accepted.
type MultipartChunk struct {
	base   string
	limits Limits
	hc     *http.Client
}

// MultipartChunkConfig configures the adapter.
type MultipartChunkConfig struct {
	// BaseURL is the init endpoint root.
	BaseURL string

	HTTPClient *http.Client
	Limits     *Limits
}

// NewMultipartChunk creates the adapter.
func NewMultipartChunk(cfg MultipartChunkConfig) *MultipartChunk {
	limits := Limits{
		MaxFileSize: 4 << 30,  // 4 GiB
		ChunkSize:   10 << 20, // 10 MiB
		MIMETypes:   []string{"video/mp4", "video/webm"},
	}
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient
	}
	return &MultipartChunk{base: cfg.BaseURL, limits: limits, hc: hc}
}

// Platform implements Adapter.
func (a *MultipartChunk) Platform() types.Platform {
	return types.PlatformMultipart
}

// Limits implements Adapter.
func (a *MultipartChunk) Limits() Limits {
	return a.limits
}

// multipartHandle is what the opaque handle string encodes for this
// platform: chunk calls need both the upload id and the per-upload URL.
type multipartHandle struct {
	UploadID  string `json:"upload_id"`
	UploadURL string `json:"upload_url"`
}

func encodeMultipartHandle(h multipartHandle) (string, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeMultipartHandle(handle string) (multipartHandle, error) {
	var h multipartHandle
	raw, err := base64.RawURLEncoding.DecodeString(handle)
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return h, err
	}
	return h, nil
}

// Open declares the upload's shape and returns an encoded handle carrying
// the upload id and upload URL the init call handed back.
func (a *MultipartChunk) Open(ctx context.Context, cred *oauth2.Token, meta FileMetadata) (string, error) {
	const op = "multipart.init"

	body := map[string]any{
		"file_name":         meta.Name,
		"file_size":         meta.TotalSize,
		"chunk_size":        a.limits.ChunkSize,
		"total_chunk_count": chunker.Count(meta.TotalSize, a.limits.ChunkSize),
	}
	req, err := jsonRequest(ctx, http.MethodPost, a.base+"/init", cred, body)
	if err != nil {
		return "", uperr.Wrap(uperr.CategoryProtocol, op, err)
	}

	var out multipartHandle
	if err := doJSON(a.hc, op, req, &out); err != nil {
		return "", err
	}
	if out.UploadID == "" || out.UploadURL == "" {
		return "", uperr.Protocol(op, "init response missing upload id or url")
	}

	handle, err := encodeMultipartHandle(out)
	if err != nil {
		return "", uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	return handle, nil
}

// SendChunk POSTs the chunk as multipart form data keyed by upload id and
// chunk index. The remote never self-finishes; completion is implicit once
// all declared chunks are accepted.
func (a *MultipartChunk) SendChunk(ctx context.Context, cred *oauth2.Token, handle string, chunk types.ChunkState, data []byte, _ uint64) (SendResult, error) {
	const op = "multipart.send"

	h, err := decodeMultipartHandle(handle)
	if err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, fmt.Errorf("bad handle: %w", err))
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("upload_id", h.UploadID); err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	if err := w.WriteField("chunk_index", fmt.Sprintf("%d", chunk.Index)); err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	part, err := w.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", chunk.Index))
	if err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	if _, err := part.Write(data); err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	if err := w.Close(); err != nil {
		return SendResult{}, uperr.Wrap(uperr.CategoryProtocol, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.UploadURL, &body)
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
	return SendResult{Accepted: true}, nil
}

// Finalize is a local no-op: once every declared chunk is accepted the
// remote assembles the file itself. The upload id doubles as the asset id.
func (a *MultipartChunk) Finalize(_ context.Context, _ *oauth2.Token, handle string, _ PublishOptions) (string, error) {
	h, err := decodeMultipartHandle(handle)
	if err != nil {
		return "", uperr.Wrap(uperr.CategoryProtocol, "multipart.finalize", fmt.Errorf("bad handle: %w", err))
	}
	return h.UploadID, nil
}
