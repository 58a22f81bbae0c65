// Package auth defines how the orchestrator obtains platform credentials.
// Token issuance and refresh live in an external service; this package only
// consumes valid bearer credentials.
package auth

import (
	"context"
	"sync"

	"golang.org/x/oauth2"

	"github.com/relaycast/relaycast/pkg/types"
)

// CredentialProvider hands out a valid bearer credential for one owner on
// one platform. Implementations never return an expired token: refreshing
// is their problem, not the caller's.
type CredentialProvider interface {
	// ValidCredential returns a usable token, or nil when the owner has no
	// credential for the platform.
	ValidCredential(ctx context.Context, ownerID string, platform types.Platform) (*oauth2.Token, error)
}

// StaticProvider serves tokens from a fixed in-memory table. Used in tests
// and single-tenant deployments where tokens arrive via configuration.
type StaticProvider struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

// NewStaticProvider creates an empty provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{tokens: make(map[string]*oauth2.Token)}
}

// Set stores a token for the owner/platform pair.
func (p *StaticProvider) Set(ownerID string, platform types.Platform, tok *oauth2.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[ownerID+"/"+string(platform)] = tok
}

// ValidCredential implements CredentialProvider.
func (p *StaticProvider) ValidCredential(_ context.Context, ownerID string, platform types.Platform) (*oauth2.Token, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tokens[ownerID+"/"+string(platform)], nil
}
