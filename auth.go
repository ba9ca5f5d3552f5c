package fishfish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fishfish-gg/fishfish-go/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// SessionToken is a short-lived credential derived from the API key. Its
// permission set is fixed at issuance.
type SessionToken struct {
	Value       string
	ExpiresAt   time.Time
	Permissions []Permission
}

// Has reports whether the token was granted p.
func (t *SessionToken) Has(p Permission) bool {
	for _, granted := range t.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}

func (t *SessionToken) valid() bool {
	return t != nil && time.Now().Before(t.ExpiresAt)
}

// tokenManager owns the API key and the single held session token. At most
// one token is valid per instance, and concurrent acquisition attempts are
// collapsed into one exchange request via singleflight: the first caller
// starts the exchange, later callers wait on the same in-flight result, and
// a failure propagates to every waiter.
type tokenManager struct {
	mu     sync.Mutex
	group  singleflight.Group
	apiKey string

	baseURL  string
	defaults []Permission
	http     Doer
	log      zerolog.Logger

	token  *SessionToken
	expiry *time.Timer
}

func newTokenManager(apiKey, baseURL string, defaults []Permission, doer Doer, log zerolog.Logger) *tokenManager {
	return &tokenManager{
		apiKey:   apiKey,
		baseURL:  baseURL,
		defaults: defaults,
		http:     doer,
		log:      log,
	}
}

// acquire returns the held token when it is still valid, without any
// network call. The requested permissions only apply when a fresh exchange
// is performed; a valid token is returned unchanged regardless of perms.
func (m *tokenManager) acquire(ctx context.Context, perms []Permission) (*SessionToken, error) {
	if t := m.current(); t != nil {
		return t, nil
	}
	v, err, _ := m.group.Do("exchange", func() (interface{}, error) {
		// Another waiter may have completed the exchange between the
		// validity check and joining the group.
		if t := m.current(); t != nil {
			return t, nil
		}
		return m.exchange(ctx, perms)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SessionToken), nil
}

// current returns the held token iff it has not expired.
func (m *tokenManager) current() *SessionToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.valid() {
		return m.token
	}
	return nil
}

func (m *tokenManager) hasValidToken() bool {
	return m.current() != nil
}

func (m *tokenManager) checkPermission(p Permission) bool {
	t := m.current()
	return t != nil && t.Has(p)
}

// exchange trades the API key for a session token scoped to perms
// (falling back to the configured defaults) and arms the expiry timer.
func (m *tokenManager) exchange(ctx context.Context, perms []Permission) (*SessionToken, error) {
	if len(perms) == 0 {
		perms = m.defaults
	}

	body, err := json.Marshal(map[string][]Permission{"permissions": perms})
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/users/@me/tokens", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", m.apiKey)

	resp, err := m.http.Do(req)
	if err != nil {
		metrics.TokenExchanges.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		metrics.TokenExchanges.WithLabelValues("unauthorized").Inc()
		return nil, &UnauthorizedError{Credential: CredentialAPIKey}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.TokenExchanges.WithLabelValues("error").Inc()
		return nil, &UnexpectedStatusError{Code: resp.StatusCode, Body: readBody(resp)}
	}

	var wire struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		metrics.TokenExchanges.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	metrics.TokenExchanges.WithLabelValues("success").Inc()

	granted := make([]Permission, len(perms))
	copy(granted, perms)
	tok := &SessionToken{
		Value:       wire.Token,
		ExpiresAt:   time.Unix(wire.Expires, 0),
		Permissions: granted,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiry != nil {
		m.expiry.Stop()
	}
	m.token = tok
	// Expiry is computed purely from the server-provided timestamp; no
	// clock skew compensation.
	m.expiry = time.AfterFunc(time.Until(tok.ExpiresAt), m.discard)
	m.log.Debug().Time("expires_at", tok.ExpiresAt).Msg("session token acquired")
	return tok, nil
}

// discard drops the held token unconditionally when the expiry timer fires.
// The next acquire triggers a fresh exchange.
func (m *tokenManager) discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
	m.log.Debug().Msg("session token expired")
}

// close stops the expiry timer and drops the token.
func (m *tokenManager) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	m.token = nil
}
