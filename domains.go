package fishfish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// DomainPatch carries the mutable fields of a domain record. At least one
// field must be set.
type DomainPatch struct {
	Category    *Category `json:"category,omitempty"`
	Description *string   `json:"description,omitempty"`
	Target      *string   `json:"target,omitempty"`
}

func (p DomainPatch) empty() bool {
	return p.Category == nil && p.Description == nil && p.Target == nil
}

// GetDomain fetches a single domain record, read-through: a cached entry is
// returned without a network call unless force is set. Force refetches and
// overwrites the cache entry. Public data; a session token is attached only
// when one is already held.
func (c *Client) GetDomain(ctx context.Context, name string, force bool) (*Domain, error) {
	if name == "" {
		return nil, &InvalidInputError{Msg: "domain name must not be empty"}
	}
	if c.domains != nil && !force {
		if d, ok := c.domains.get(name); ok {
			return &d, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/domains/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	tokenHeld := false
	if tok := c.auth.current(); tok != nil {
		req.Header.Set("Authorization", tok.Value)
		tokenHeld = true
	}

	resp, err := c.do(ctx, req, "get-domain", tokenHeld)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var d Domain
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode domain: %w", err)
	}
	if d.Name == "" {
		d.Name = name
	}
	if c.domains != nil {
		c.domains.set(d.Name, d)
	}
	return &d, nil
}

// GetAllDomains lists domain records, optionally filtered by category.
// With full=false the listing is anonymous and yields partial
// (identifier-only) records; full=true requires the domains permission.
// Partial results are cache-skipped when DoNotCachePartial is set.
func (c *Client) GetAllDomains(ctx context.Context, category Category, full bool) ([]Domain, error) {
	if category != "" && !category.Valid() {
		return nil, &InvalidInputError{Msg: fmt.Sprintf("unknown category %q", category)}
	}

	var tok *SessionToken
	if full {
		var err error
		if tok, err = c.preflight(ctx, PermissionDomains); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("full", fmt.Sprintf("%t", full))
	if category != "" {
		q.Set("category", string(category))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/domains?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if tok != nil {
		req.Header.Set("Authorization", tok.Value)
	}

	resp, err := c.do(ctx, req, "list-domains", tok != nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var domains []Domain
	if full {
		if err := json.NewDecoder(resp.Body).Decode(&domains); err != nil {
			return nil, fmt.Errorf("decode domains: %w", err)
		}
	} else {
		var names []string
		if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
			return nil, fmt.Errorf("decode domain names: %w", err)
		}
		domains = make([]Domain, 0, len(names))
		for _, n := range names {
			domains = append(domains, Domain{Name: n})
		}
	}

	if c.domains != nil && (full || !c.cfg.DoNotCachePartial) {
		for _, d := range domains {
			c.domains.set(d.Name, d)
		}
	}
	return domains, nil
}

// InsertDomain creates a domain record. Requires the domains permission;
// category and description are mandatory.
func (c *Client) InsertDomain(ctx context.Context, name string, category Category, description, target string) (*Domain, error) {
	if name == "" {
		return nil, &InvalidInputError{Msg: "domain name must not be empty"}
	}
	if !category.Valid() {
		return nil, &InvalidInputError{Msg: fmt.Sprintf("unknown category %q", category)}
	}
	if description == "" {
		return nil, &InvalidInputError{Msg: "description must not be empty"}
	}

	tok, err := c.preflight(ctx, PermissionDomains)
	if err != nil {
		return nil, err
	}

	payload := struct {
		Category    Category `json:"category"`
		Description string   `json:"description"`
		Target      string   `json:"target,omitempty"`
	}{category, description, target}

	d, err := c.sendDomain(ctx, http.MethodPost, name, "insert-domain", tok, payload)
	if err != nil {
		return nil, err
	}
	if c.domains != nil {
		c.domains.set(d.Name, *d)
	}
	return d, nil
}

// PatchDomain updates a domain record in place. At least one patch field is
// required; requires the domains permission.
func (c *Client) PatchDomain(ctx context.Context, name string, patch DomainPatch) (*Domain, error) {
	if name == "" {
		return nil, &InvalidInputError{Msg: "domain name must not be empty"}
	}
	if patch.empty() {
		return nil, &InvalidInputError{Msg: "patch requires at least one of category, description, target"}
	}
	if patch.Category != nil && !patch.Category.Valid() {
		return nil, &InvalidInputError{Msg: fmt.Sprintf("unknown category %q", *patch.Category)}
	}

	tok, err := c.preflight(ctx, PermissionDomains)
	if err != nil {
		return nil, err
	}

	d, err := c.sendDomain(ctx, http.MethodPatch, name, "patch-domain", tok, patch)
	if err != nil {
		return nil, err
	}
	if c.domains != nil {
		c.domains.set(d.Name, *d)
	}
	return d, nil
}

// DeleteDomain removes a domain record. The cache entry is dropped whenever
// caching is enabled; the remote delete is idempotent.
func (c *Client) DeleteDomain(ctx context.Context, name string) error {
	if name == "" {
		return &InvalidInputError{Msg: "domain name must not be empty"}
	}

	tok, err := c.preflight(ctx, PermissionDomains)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.cfg.BaseURL+"/domains/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", tok.Value)

	resp, doErr := c.do(ctx, req, "delete-domain", true)
	if doErr == nil {
		_ = resp.Body.Close()
	}
	if c.domains != nil {
		c.domains.delete(name)
	}
	return doErr
}

// sendDomain issues a JSON-body request against a single domain resource
// and decodes the resulting record.
func (c *Client) sendDomain(ctx context.Context, method, name, endpoint string, tok *SessionToken, payload interface{}) (*Domain, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, method,
		c.cfg.BaseURL+"/domains/"+url.PathEscape(name), bytes.NewReader(body))
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

	var d Domain
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode domain: %w", err)
	}
	if d.Name == "" {
		d.Name = name
	}
	return &d, nil
}
