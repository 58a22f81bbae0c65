package uperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryValidation, CategoryOf(Validation("op", "bad chunk")))
	assert.Equal(t, CategoryAuth, CategoryOf(Auth("op", "no token")))
	assert.Equal(t, CategoryUnknown, CategoryOf(errors.New("plain")))
	assert.Equal(t, CategoryUnknown, CategoryOf(nil))

	// Category survives wrapping with %w.
	wrapped := fmt.Errorf("outer: %w", Transient("op", "reset"))
	assert.Equal(t, CategoryTransient, CategoryOf(wrapped))
}

func TestWrap_KeepsInnerCategory(t *testing.T) {
	inner := Auth("open", "expired token")
	outer := Wrap(CategoryTransient, "send", inner)
	assert.Equal(t, CategoryAuth, outer.Category)
	assert.True(t, errors.Is(outer, inner))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("op", "timeout")))
	assert.True(t, IsRetryable(errors.New("connection reset")), "uncategorized transport errors are retryable")
	assert.False(t, IsRetryable(Auth("op", "bad token")))
	assert.False(t, IsRetryable(Validation("op", "bad size")))
	assert.False(t, IsRetryable(Protocol("op", "invalid media id")))
	assert.False(t, IsRetryable(nil))
}

func TestMarkExhausted(t *testing.T) {
	err := MarkExhausted(Transient("send", "remote returned 503"))
	assert.True(t, IsExhausted(err))
	assert.Equal(t, CategoryTransient, CategoryOf(err))

	// Plain errors get wrapped as transient.
	err = MarkExhausted(errors.New("dial tcp: timeout"))
	assert.True(t, IsExhausted(err))
	assert.Equal(t, CategoryTransient, CategoryOf(err))

	// The original must not be mutated.
	orig := Transient("send", "x")
	_ = MarkExhausted(orig)
	assert.False(t, orig.Exhausted)

	assert.Nil(t, MarkExhausted(nil))
	assert.False(t, IsExhausted(nil))
}

func TestFromHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Category
	}{
		{http.StatusInternalServerError, CategoryTransient},
		{http.StatusBadGateway, CategoryTransient},
		{http.StatusServiceUnavailable, CategoryTransient},
		{http.StatusRequestTimeout, CategoryTransient},
		{http.StatusTooManyRequests, CategoryTransient},
		{http.StatusUnauthorized, CategoryAuth},
		{http.StatusForbidden, CategoryAuth},
		{http.StatusBadRequest, CategoryProtocol},
		{http.StatusNotFound, CategoryProtocol},
		{http.StatusConflict, CategoryProtocol},
	}
	for _, tc := range cases {
		err := FromHTTPStatus("send", tc.status, "")
		assert.Equal(t, tc.want, err.Category, "status %d", tc.status)
	}
}

func TestErrorString(t *testing.T) {
	err := New(CategoryProtocol, "finalize", "invalid media id %q", "abc")
	assert.Equal(t, `finalize: protocol: invalid media id "abc"`, err.Error())
}
