package platform

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/types"
	"github.com/relaycast/relaycast/pkg/uperr"
)

// Container speaks the container-then-publish protocol used by photo and
// video sharing hosts. The remote pulls the file from a publicly reachable
// source URL, so no bytes stream through this adapter: Open creates the
// container (or a parent container over per-item children for carousels),
// SendChunk is a progress marker only, and Finalize publishes.
type Container struct {
	base   string
	limits Limits
	hc     *http.Client
}

// ContainerConfig configures the adapter.
type ContainerConfig struct {
	// BaseURL is the container API root.
	BaseURL string

	HTTPClient *http.Client
	Limits     *Limits
}

// NewContainer creates the adapter.
func NewContainer(cfg ContainerConfig) *Container {
	limits := Limits{
		MaxFileSize: 1 << 30, // 1 GiB
		// The remote pulls the whole file itself, so a session gets one
		// chunk spanning everything and the transfer is effectively
		// two-state: container created, then published.
		ChunkSize: 0,
		MIMETypes: []string{"video/mp4", "image/jpeg", "image/png"},
	}
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient
	}
	return &Container{base: cfg.BaseURL, limits: limits, hc: hc}
}

// Platform implements Adapter.
func (a *Container) Platform() types.Platform {
	return types.PlatformContainer
}

// Limits implements Adapter. ChunkSize 0 tells the orchestrator to plan a
// single whole-file chunk.
func (a *Container) Limits() Limits {
	return a.limits
}

type containerResponse struct {
	ContainerID string `json:"container_id"`
}

// Open creates the remote container. With multiple source URLs it creates
// one child container per item, then a parent carousel container
// referencing all children; the parent id becomes the handle.
func (a *Container) Open(ctx context.Context, cred *oauth2.Token, meta FileMetadata) (string, error) {
	const op = "container.open"

	urls := meta.SourceURLs
	if len(urls) == 0 {
		if meta.SourceURL == "" {
			return "", uperr.Validation(op, "source URL is required: the remote pulls the file itself")
		}
		urls = []string{meta.SourceURL}
	}

	if len(urls) == 1 {
		return a.createContainer(ctx, cred, map[string]any{
			"source_url": urls[0],
			"media_type": meta.MIMEType,
			"caption":    meta.Description,
		})
	}

	children := make([]string, 0, len(urls))
	for _, u := range urls {
		id, err := a.createContainer(ctx, cred, map[string]any{
			"source_url":       u,
			"is_carousel_item": true,
		})
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	return a.createContainer(ctx, cred, map[string]any{
		"media_type": "CAROUSEL",
		"children":   children,
		"caption":    meta.Description,
	})
}

func (a *Container) createContainer(ctx context.Context, cred *oauth2.Token, body map[string]any) (string, error) {
	const op = "container.create"

	req, err := jsonRequest(ctx, http.MethodPost, a.base+"/containers", cred, body)
	if err != nil {
		return "", uperr.Wrap(uperr.CategoryProtocol, op, err)
	}
	var out containerResponse
	if err := doJSON(a.hc, op, req, &out); err != nil {
		return "", err
	}
	if out.ContainerID == "" {
		return "", uperr.Protocol(op, "response missing container id")
	}
	return out.ContainerID, nil
}

// SendChunk is a no-op progress marker: the remote side pulls the file from
// the source URL on its own schedule.
func (a *Container) SendChunk(_ context.Context, _ *oauth2.Token, _ string, _ types.ChunkState, _ []byte, _ uint64) (SendResult, error) {
	return SendResult{Accepted: true}, nil
}

// Finalize publishes the container, optionally with caption and location,
// and returns the published asset id.
func (a *Container) Finalize(ctx context.Context, cred *oauth2.Token, handle string, opts PublishOptions) (string, error) {
	const op = "container.publish"

	body := map[string]any{}
	if opts.Caption != "" {
		body["caption"] = opts.Caption
	}
	if opts.Location != "" {
		body["location"] = opts.Location
	}
	req, err := jsonRequest(ctx, http.MethodPost, a.base+"/containers/"+handle+"/publish", cred, body)
	if err != nil {
		return "", uperr.Wrap(uperr.CategoryProtocol, op, err)
	}

	var out struct {
		AssetID string `json:"asset_id"`
	}
	if err := doJSON(a.hc, op, req, &out); err != nil {
		return "", err
	}
	if out.AssetID == "" {
		return "", uperr.Protocol(op, "publish response missing asset id")
	}
	return out.AssetID, nil
}
