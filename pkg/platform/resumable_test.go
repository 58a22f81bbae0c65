package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/types"
	"github.com/relaycast/relaycast/pkg/uperr"
)

func testToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "test-token"}
}

func TestResumablePut_Open(t *testing.T) {
	var gotAuth, gotLength string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/uploads", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotLength = r.Header.Get("X-Upload-Content-Length")
		w.Header().Set("Location", "http://upload.example/session/abc")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewResumablePut(ResumablePutConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	handle, err := a.Open(context.Background(), testToken(), FileMetadata{
		Name:      "episode.mp4",
		MIMEType:  "video/mp4",
		TotalSize: 600_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, "http://upload.example/session/abc", handle)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "600000000", gotLength)
}

func TestResumablePut_Open_MissingLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewResumablePut(ResumablePutConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := a.Open(context.Background(), testToken(), FileMetadata{Name: "f", TotalSize: 1})
	assert.Equal(t, uperr.CategoryProtocol, uperr.CategoryOf(err))
}

func TestResumablePut_SendChunk(t *testing.T) {
	total := uint64(600)
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		body, _ := io.ReadAll(r.Body)
		ranges = append(ranges, r.Header.Get("Content-Range"))

		// 308 until the final byte arrives, then 200 with the asset id.
		if r.Header.Get("Content-Range") == fmt.Sprintf("bytes 512-599/%d", total) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"id":"vid-123"}`)
			return
		}
		require.NotEmpty(t, body)
		w.WriteHeader(http.StatusPermanentRedirect)
	}))
	defer srv.Close()

	a := NewResumablePut(ResumablePutConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	ctx := context.Background()

	res, err := a.SendChunk(ctx, testToken(), srv.URL, types.ChunkState{Index: 0, ByteStart: 0, ByteEnd: 255, Size: 256}, make([]byte, 256), total)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Finished)

	res, err = a.SendChunk(ctx, testToken(), srv.URL, types.ChunkState{Index: 2, ByteStart: 512, ByteEnd: 599, Size: 88}, make([]byte, 88), total)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Finished)
	assert.Equal(t, "vid-123", res.AssetID)

	assert.Equal(t, []string{"bytes 0-255/600", "bytes 512-599/600"}, ranges)
}

func TestResumablePut_SendChunk_ErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   uperr.Category
	}{
		{http.StatusServiceUnavailable, uperr.CategoryTransient},
		{http.StatusUnauthorized, uperr.CategoryAuth},
		{http.StatusBadRequest, uperr.CategoryProtocol},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		a := NewResumablePut(ResumablePutConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
		_, err := a.SendChunk(context.Background(), testToken(), srv.URL, types.ChunkState{Size: 4}, []byte("data"), 4)
		assert.Equal(t, tc.want, uperr.CategoryOf(err), "status %d", tc.status)
		srv.Close()
	}
}

func TestResumablePut_FinalizeUnsupported(t *testing.T) {
	a := NewResumablePut(ResumablePutConfig{BaseURL: "http://unused"})
	_, err := a.Finalize(context.Background(), testToken(), "h", PublishOptions{})
	assert.Equal(t, uperr.CategoryProtocol, uperr.CategoryOf(err))
}
