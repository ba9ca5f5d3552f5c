package fishfish

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// tokenHandler serves POST /users/@me/tokens, echoing the requested
// permissions and counting exchanges.
func tokenHandler(count *int32, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(count, 1)
		var body struct {
			Permissions []Permission `json:"permissions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"token":   fmt.Sprintf("tok-%d", n),
			"expires": time.Now().Add(ttl).Unix(),
		})
	}
}

// newTestClient builds a Client against a test server URL. mod may adjust
// the config before construction.
func newTestClient(t *testing.T, baseURL string, doer Doer, mod func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		APIKey:    "test-api-key",
		BaseURL:   baseURL,
		Transport: doer,
	}
	if mod != nil {
		mod(&cfg)
	}
	c, err := NewClient(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func strPtr(s string) *string          { return &s }
func catPtr(c Category) *Category      { return &c }
func tsPtr(t time.Time) *Timestamp     { return &Timestamp{t} }
func writeJSON(w http.ResponseWriter, v interface{}) { _ = json.NewEncoder(w).Encode(v) }
