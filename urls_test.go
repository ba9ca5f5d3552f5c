package fishfish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestURLIdentifierEscaping(t *testing.T) {
	const raw = "https://evil.example/kit?id=1&x=2"
	var exchanges int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/@me/tokens", tokenHandler(&exchanges, time.Hour))
	var gotPath string
	mux.HandleFunc("/urls/", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		writeJSON(w, map[string]interface{}{
			"url":      raw,
			"category": "phishing",
			"added":    1700000000,
			"checked":  1700000000,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.Client(), nil)
	defer c.Close()

	u, err := c.GetURL(context.Background(), raw, false)
	if err != nil {
		t.Fatal(err)
	}
	if u.URL != raw {
		t.Errorf("url = %q, want %q", u.URL, raw)
	}
	if want := "/urls/" + url.PathEscape(raw); gotPath != want {
		t.Errorf("request path = %q, want %q", gotPath, want)
	}
}

func TestPatchURLSendsOnlySetFields(t *testing.T) {
	var exchanges int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/@me/tokens", tokenHandler(&exchanges, time.Hour))
	var gotBody map[string]interface{}
	mux.HandleFunc("PATCH /urls/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, map[string]interface{}{
			"url":      "https://evil.example/kit",
			"category": "malware",
			"added":    1700000000,
			"checked":  1700000000,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL, srv.Client(), nil)
	defer c.Close()

	u, err := c.PatchURL(context.Background(), "https://evil.example/kit", URLPatch{
		Category: catPtr(CategoryMalware),
	})
	if err != nil {
		t.Fatal(err)
	}
	if u.Category != CategoryMalware {
		t.Errorf("category = %q, want malware", u.Category)
	}
	if gotBody["category"] != "malware" {
		t.Errorf("body category = %v, want malware", gotBody["category"])
	}
	if _, ok := gotBody["description"]; ok {
		t.Error("unset patch fields must be omitted from the body")
	}
	if _, ok := c.urls.get("https://evil.example/kit"); !ok {
		t.Error("patch must write through to the cache")
	}
}
