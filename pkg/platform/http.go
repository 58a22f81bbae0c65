package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/uperr"
)

// maxErrorBody bounds how much of a remote error response gets attached to
// the session's error record.
const maxErrorBody = 512

// doJSON sends req, classifies transport and status failures, and decodes a
// 2xx JSON body into out (when out is non-nil). The response body is always
// drained and closed.
func doJSON(hc *http.Client, op string, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return uperr.Wrap(uperr.CategoryTransient, op, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return uperr.FromHTTPStatus(op, resp.StatusCode, readErrorBody(resp.Body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return uperr.Wrap(uperr.CategoryProtocol, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}

// jsonRequest builds an authorized request with a JSON body.
func jsonRequest(ctx context.Context, method, url string, cred *oauth2.Token, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cred != nil {
		req.Header.Set("Authorization", bearer(cred))
	}
	return req, nil
}
