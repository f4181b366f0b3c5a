// Package auth obtains, caches, and scrubs vault access tokens.
//
// One cache entry exists per scope. A token with more than the refresh
// margin remaining is served from cache without a network call;
// otherwise a refresh round-trip is issued, coalesced across concurrent
// callers so only one request reaches the identity endpoint. Cached
// token bytes live in protected memory and are wiped on invalidation
// and shutdown.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/awnumar/memguard"
	"golang.org/x/sync/singleflight"

	kverrors "github.com/kvstash/kvstash/internal/errors"
	"github.com/kvstash/kvstash/internal/logging"
	"github.com/kvstash/kvstash/internal/secure"
)

// DefaultScope is the audience for Key Vault data-plane calls.
const DefaultScope = "https://vault.azure.net/.default"

// defaultRefreshMargin is how long before expiry a cached token is
// treated as stale and refreshed.
const defaultRefreshMargin = 5 * time.Minute

// Token is a borrowed view of a cached access token. It is valid for
// the duration of one authenticated call; Close wipes the plaintext.
type Token struct {
	lb        *memguard.LockedBuffer
	expiresAt time.Time
}

// Bytes returns the raw token. The slice is owned by the Token and
// becomes invalid after Close.
func (t *Token) Bytes() []byte { return t.lb.Bytes() }

// ExpiresAt reports when the underlying token expires.
func (t *Token) ExpiresAt() time.Time { return t.expiresAt }

// Close wipes the plaintext buffer. Must be called once the
// authenticated call completes or fails terminally.
func (t *Token) Close() { t.lb.Destroy() }

type cacheEntry struct {
	sealed    *secure.Buffer
	expiresAt time.Time
}

// TokenSource caches access tokens per scope with single-flight
// refresh. It exclusively owns its cache; callers only ever borrow a
// Token for one call. Safe for concurrent use.
type TokenSource struct {
	cred   azcore.TokenCredential
	margin time.Duration
	logger *logging.Logger
	now    func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// Option configures a TokenSource.
type Option func(*TokenSource)

// WithRefreshMargin overrides the staleness margin.
func WithRefreshMargin(d time.Duration) Option {
	return func(s *TokenSource) { s.margin = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *TokenSource) { s.logger = l }
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(s *TokenSource) { s.now = now }
}

// NewTokenSource creates a token source over the given credential.
func NewTokenSource(cred azcore.TokenCredential, opts ...Option) *TokenSource {
	s := &TokenSource{
		cred:   cred,
		margin: defaultRefreshMargin,
		logger: logging.New(false, false),
		now:    time.Now,
		cache:  make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a valid token for the scope, refreshing it if the
// cached one is missing, expired, or inside the refresh margin.
// Concurrent callers for the same scope share a single refresh; all of
// them receive the same token or the same error.
func (s *TokenSource) Token(ctx context.Context, scope string) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e := s.freshEntry(scope); e != nil {
		return e.open()
	}

	v, err, shared := s.group.Do(scope, func() (interface{}, error) {
		// A follower may arrive after the leader already refreshed.
		if e := s.freshEntry(scope); e != nil {
			return e, nil
		}
		return s.refresh(ctx, scope)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("token refresh for scope %s shared across concurrent callers", scope)
	}
	return v.(*cacheEntry).open()
}

// refresh performs the identity round-trip. The stale cache entry is
// discarded before the call so a failed refresh never leaves an expired
// token behind.
func (s *TokenSource) refresh(ctx context.Context, scope string) (*cacheEntry, error) {
	s.evict(scope)

	s.logger.Debug("requesting access token for scope %s", scope)
	at, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return nil, kverrors.AuthError{
			Message: fmt.Sprintf("acquiring token for scope %s", scope),
			Err:     err,
		}
	}

	e := &cacheEntry{
		sealed:    secure.SealString(at.Token),
		expiresAt: at.ExpiresOn,
	}
	s.mu.Lock()
	s.cache[scope] = e
	s.mu.Unlock()
	return e, nil
}

// Invalidate discards the cached token for a scope, forcing the next
// call to refresh. Used after the backend rejects a token as expired.
func (s *TokenSource) Invalidate(scope string) {
	s.evict(scope)
}

// Close destroys every cached token. The source must not be used
// afterwards.
func (s *TokenSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for scope, e := range s.cache {
		e.sealed.Destroy()
		delete(s.cache, scope)
	}
}

func (s *TokenSource) freshEntry(scope string) *cacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.cache[scope]
	if e == nil || s.now().After(e.expiresAt.Add(-s.margin)) {
		return nil
	}
	return e
}

func (s *TokenSource) evict(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.cache[scope]; e != nil {
		e.sealed.Destroy()
		delete(s.cache, scope)
	}
}

func (e *cacheEntry) open() (*Token, error) {
	lb, err := e.sealed.Open()
	if err != nil {
		return nil, kverrors.AuthError{Message: "opening cached token", Err: err}
	}
	return &Token{lb: lb, expiresAt: e.expiresAt}, nil
}
