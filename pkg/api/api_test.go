package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/auth"
	"github.com/relaycast/relaycast/pkg/platform"
	"github.com/relaycast/relaycast/pkg/retry"
	"github.com/relaycast/relaycast/pkg/session"
	"github.com/relaycast/relaycast/pkg/types"
	"github.com/relaycast/relaycast/pkg/upload"
)

const testOwner = "owner-1"

// stubAdapter accepts every chunk and finalizes to a fixed asset id.
type stubAdapter struct{}

func (stubAdapter) Platform() types.Platform { return types.PlatformSegmented }

func (stubAdapter) Limits() platform.Limits {
	return platform.Limits{MaxFileSize: 1 << 30, ChunkSize: 256}
}

func (stubAdapter) Open(context.Context, *oauth2.Token, platform.FileMetadata) (string, error) {
	return "media-1", nil
}

func (stubAdapter) SendChunk(context.Context, *oauth2.Token, string, types.ChunkState, []byte, uint64) (platform.SendResult, error) {
	return platform.SendResult{Accepted: true}, nil
}

func (stubAdapter) Finalize(context.Context, *oauth2.Token, string, platform.PublishOptions) (string, error) {
	return "asset-1", nil
}

func testServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	registry := platform.NewRegistry()
	registry.Register(stubAdapter{})
	creds := auth.NewStaticProvider()
	creds.Set(testOwner, types.PlatformSegmented, &oauth2.Token{AccessToken: "tok"})

	orch := upload.New(store, registry, creds, nil, upload.Config{
		Retry: retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})
	t.Cleanup(func() { _ = orch.Close() })

	srv := httptest.NewServer(NewHandler(orch, cfg))
	t.Cleanup(srv.Close)
	return srv
}

func initUpload(t *testing.T, srv *httptest.Server) initializeResponse {
	t.Helper()
	body, _ := json.Marshal(initializeRequest{
		OwnerID:   testOwner,
		Platform:  types.PlatformSegmented,
		FileName:  "clip.mp4",
		MIMEType:  "video/mp4",
		TotalSize: 600,
	})
	resp, err := http.Post(srv.URL+"/v1/uploads", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out initializeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func putChunk(t *testing.T, srv *httptest.Server, id string, index int, size int) *http.Response {
	t.Helper()
	url := fmt.Sprintf("%s/v1/uploads/%s/chunks/%d", srv.URL, id, index)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(make([]byte, size)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestUploadFlow(t *testing.T) {
	srv := testServer(t, Config{})

	created := initUpload(t, srv)
	assert.Equal(t, uint64(256), created.ChunkSize)
	assert.Equal(t, 3, created.ChunkCount)

	var last map[string]any
	for i, size := range []int{256, 256, 88} {
		resp := putChunk(t, srv, created.SessionID, i, size)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&last))
		resp.Body.Close()
	}

	assert.Equal(t, "completed", last["status"])
	assert.Equal(t, "asset-1", last["remote_asset_id"])

	resp, err := http.Get(srv.URL + "/v1/uploads/" + created.SessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p upload.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, types.StatusCompleted, p.Status)
	assert.InDelta(t, 100, p.Percent, 0.001)
}

func TestResumeReportsMissingChunks(t *testing.T) {
	srv := testServer(t, Config{})
	created := initUpload(t, srv)

	resp := putChunk(t, srv, created.SessionID, 0, 256)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rresp, err := http.Get(srv.URL + "/v1/uploads/" + created.SessionID + "/resume")
	require.NoError(t, err)
	defer rresp.Body.Close()
	require.Equal(t, http.StatusOK, rresp.StatusCode)

	var out resumeResponse
	require.NoError(t, json.NewDecoder(rresp.Body).Decode(&out))
	assert.Equal(t, []int{1, 2}, out.MissingChunks)
	assert.Equal(t, uint64(256), out.ChunkSize)
}

func TestCancelRemovesSession(t *testing.T) {
	srv := testServer(t, Config{})
	created := initUpload(t, srv)

	resp, err := http.Post(srv.URL+"/v1/uploads/"+created.SessionID+"/cancel", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	gresp, err := http.Get(srv.URL + "/v1/uploads/" + created.SessionID)
	require.NoError(t, err)
	defer gresp.Body.Close()
	assert.Equal(t, http.StatusNotFound, gresp.StatusCode)
}

func TestListByOwner(t *testing.T) {
	srv := testServer(t, Config{})
	initUpload(t, srv)
	initUpload(t, srv)

	resp, err := http.Get(srv.URL + "/v1/uploads?owner_id=" + testOwner)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Sessions []*types.UploadSession `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Sessions, 2)

	resp2, err := http.Get(srv.URL + "/v1/uploads")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	srv := testServer(t, Config{})
	created := initUpload(t, srv)

	// Unknown session -> 404 with the taxonomy category as the error code.
	resp, err := http.Get(srv.URL + "/v1/uploads/nope")
	require.NoError(t, err)
	var out errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", out.Error)

	// Wrong chunk length -> 400.
	cresp := putChunk(t, srv, created.SessionID, 0, 10)
	cresp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, cresp.StatusCode)

	// Unknown platform -> 400.
	body, _ := json.Marshal(initializeRequest{
		OwnerID: testOwner, Platform: "minidisc", FileName: "x", TotalSize: 10,
	})
	presp, err := http.Post(srv.URL+"/v1/uploads", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	presp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, presp.StatusCode)

	// Missing credential -> 401.
	body, _ = json.Marshal(initializeRequest{
		OwnerID: "stranger", Platform: types.PlatformSegmented,
		FileName: "x", MIMEType: "video/mp4", TotalSize: 10,
	})
	aresp, err := http.Post(srv.URL+"/v1/uploads", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	aresp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, aresp.StatusCode)

	// Non-integer chunk index -> 400.
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/v1/uploads/"+created.SessionID+"/chunks/zero", bytes.NewReader(nil))
	iresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	iresp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, iresp.StatusCode)
}

func TestChunkBodyCap(t *testing.T) {
	srv := testServer(t, Config{MaxChunkBytes: 64})
	created := initUpload(t, srv)

	resp := putChunk(t, srv, created.SessionID, 0, 256)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
