package fishfish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// URLPatch carries the mutable fields of a URL record. At least one field
// must be set.
type URLPatch struct {
	Category    *Category `json:"category,omitempty"`
	Description *string   `json:"description,omitempty"`
	Target      *string   `json:"target,omitempty"`
}

func (p URLPatch) empty() bool {
	return p.Category == nil && p.Description == nil && p.Target == nil
}

// GetURL fetches a single URL record, read-through like GetDomain. The
// identifier is percent-encoded on the wire.
func (c *Client) GetURL(ctx context.Context, raw string, force bool) (*URL, error) {
	if raw == "" {
		return nil, &InvalidInputError{Msg: "url must not be empty"}
	}
	if c.urls != nil && !force {
		if u, ok := c.urls.get(raw); ok {
			return &u, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/urls/"+url.PathEscape(raw), nil)
	if err != nil {
		return nil, err
	}
	tokenHeld := false
	if tok := c.auth.current(); tok != nil {
		req.Header.Set("Authorization", tok.Value)
		tokenHeld = true
	}

	resp, err := c.do(ctx, req, "get-url", tokenHeld)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var u URL
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode url: %w", err)
	}
	if u.URL == "" {
		u.URL = raw
	}
	if c.urls != nil {
		c.urls.set(u.URL, u)
	}
	return &u, nil
}

// GetAllURLs lists URL records, optionally filtered by category. Anonymous
// partial listing with full=false; full=true requires the urls permission.
func (c *Client) GetAllURLs(ctx context.Context, category Category, full bool) ([]URL, error) {
	if category != "" && !category.Valid() {
		return nil, &InvalidInputError{Msg: fmt.Sprintf("unknown category %q", category)}
	}

	var tok *SessionToken
	if full {
		var err error
		if tok, err = c.preflight(ctx, PermissionURLs); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("full", fmt.Sprintf("%t", full))
	if category != "" {
		q.Set("category", string(category))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/urls?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if tok != nil {
		req.Header.Set("Authorization", tok.Value)
	}

	resp, err := c.do(ctx, req, "list-urls", tok != nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var urls []URL
	if full {
		if err := json.NewDecoder(resp.Body).Decode(&urls); err != nil {
			return nil, fmt.Errorf("decode urls: %w", err)
		}
	} else {
		var raws []string
		if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
			return nil, fmt.Errorf("decode url identifiers: %w", err)
		}
		urls = make([]URL, 0, len(raws))
		for _, r := range raws {
			urls = append(urls, URL{URL: r})
		}
	}

	if c.urls != nil && (full || !c.cfg.DoNotCachePartial) {
		for _, u := range urls {
			c.urls.set(u.URL, u)
		}
	}
	return urls, nil
}

// InsertURL creates a URL record. Requires the urls permission; category
// and description are mandatory.
func (c *Client) InsertURL(ctx context.Context, raw string, category Category, description, target string) (*URL, error) {
	if raw == "" {
		return nil, &InvalidInputError{Msg: "url must not be empty"}
	}
	if !category.Valid() {
		return nil, &InvalidInputError{Msg: fmt.Sprintf("unknown category %q", category)}
	}
	if description == "" {
		return nil, &InvalidInputError{Msg: "description must not be empty"}
	}

	tok, err := c.preflight(ctx, PermissionURLs)
	if err != nil {
		return nil, err
	}

	payload := struct {
		Category    Category `json:"category"`
		Description string   `json:"description"`
		Target      string   `json:"target,omitempty"`
	}{category, description, target}

	u, err := c.sendURL(ctx, http.MethodPost, raw, "insert-url", tok, payload)
	if err != nil {
		return nil, err
	}
	if c.urls != nil {
		c.urls.set(u.URL, *u)
	}
	return u, nil
}

// PatchURL updates a URL record in place. At least one patch field is
// required; requires the urls permission.
func (c *Client) PatchURL(ctx context.Context, raw string, patch URLPatch) (*URL, error) {
	if raw == "" {
		return nil, &InvalidInputError{Msg: "url must not be empty"}
	}
	if patch.empty() {
		return nil, &InvalidInputError{Msg: "patch requires at least one of category, description, target"}
	}
	if patch.Category != nil && !patch.Category.Valid() {
		return nil, &InvalidInputError{Msg: fmt.Sprintf("unknown category %q", *patch.Category)}
	}

	tok, err := c.preflight(ctx, PermissionURLs)
	if err != nil {
		return nil, err
	}

	u, err := c.sendURL(ctx, http.MethodPatch, raw, "patch-url", tok, patch)
	if err != nil {
		return nil, err
	}
	if c.urls != nil {
		c.urls.set(u.URL, *u)
	}
	return u, nil
}

// DeleteURL removes a URL record. The cache entry is dropped whenever
// caching is enabled; the remote delete is idempotent.
func (c *Client) DeleteURL(ctx context.Context, raw string) error {
	if raw == "" {
		return &InvalidInputError{Msg: "url must not be empty"}
	}

	tok, err := c.preflight(ctx, PermissionURLs)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.cfg.BaseURL+"/urls/"+url.PathEscape(raw), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", tok.Value)

	resp, doErr := c.do(ctx, req, "delete-url", true)
	if doErr == nil {
		_ = resp.Body.Close()
	}
	if c.urls != nil {
		c.urls.delete(raw)
	}
	return doErr
}

func (c *Client) sendURL(ctx context.Context, method, raw, endpoint string, tok *SessionToken, payload interface{}) (*URL, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, method,
		c.cfg.BaseURL+"/urls/"+url.PathEscape(raw), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", tok.Value)

	resp, err := c.do(ctx, req, endpoint, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var u URL
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode url: %w", err)
	}
	if u.URL == "" {
		u.URL = raw
	}
	return &u, nil
}
