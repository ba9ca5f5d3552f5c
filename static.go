package fishfish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Anonymous fetchers for public record data. These are stateless: the
// transport is an explicit parameter, no credentials are attached, and no
// cache is populated.

// FetchDomain retrieves a single public domain record.
func FetchDomain(ctx context.Context, doer Doer, baseURL, name string) (*Domain, error) {
	if name == "" {
		return nil, &InvalidInputError{Msg: "domain name must not be empty"}
	}
	var d Domain
	if err := fetchJSON(ctx, doer, baseURL+"/domains/"+url.PathEscape(name), &d); err != nil {
		return nil, err
	}
	if d.Name == "" {
		d.Name = name
	}
	return &d, nil
}

// FetchURL retrieves a single public URL record.
func FetchURL(ctx context.Context, doer Doer, baseURL, raw string) (*URL, error) {
	if raw == "" {
		return nil, &InvalidInputError{Msg: "url must not be empty"}
	}
	var u URL
	if err := fetchJSON(ctx, doer, baseURL+"/urls/"+url.PathEscape(raw), &u); err != nil {
		return nil, err
	}
	if u.URL == "" {
		u.URL = raw
	}
	return &u, nil
}

// FetchDomainNames lists domain identifiers for a category (the anonymous
// full=false listing).
func FetchDomainNames(ctx context.Context, doer Doer, baseURL string, category Category) ([]string, error) {
	return fetchNames(ctx, doer, baseURL+"/domains", category)
}

// FetchURLIdentifiers lists URL identifiers for a category (the anonymous
// full=false listing).
func FetchURLIdentifiers(ctx context.Context, doer Doer, baseURL string, category Category) ([]string, error) {
	return fetchNames(ctx, doer, baseURL+"/urls", category)
}

func fetchNames(ctx context.Context, doer Doer, endpoint string, category Category) ([]string, error) {
	if category != "" && !category.Valid() {
		return nil, &InvalidInputError{Msg: fmt.Sprintf("unknown category %q", category)}
	}
	q := url.Values{}
	q.Set("full", "false")
	if category != "" {
		q.Set("category", string(category))
	}
	var names []string
	if err := fetchJSON(ctx, doer, endpoint+"?"+q.Encode(), &names); err != nil {
		return nil, err
	}
	return names, nil
}

func fetchJSON(ctx context.Context, doer Doer, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := doer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, false); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
