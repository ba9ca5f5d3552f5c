package fishfish

import (
	"fmt"
	"strconv"
	"time"
)

// Category classifies a domain or URL record.
type Category string

const (
	CategorySafe     Category = "safe"
	CategoryMalware  Category = "malware"
	CategoryPhishing Category = "phishing"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySafe, CategoryMalware, CategoryPhishing:
		return true
	}
	return false
}

// Permission gates privileged API operations. A session token carries a
// fixed permission set granted at issuance.
type Permission string

const (
	PermissionDomains Permission = "domains"
	PermissionURLs    Permission = "urls"
	PermissionAdmin   Permission = "admin"
)

// Timestamp wraps time.Time and maps to the API's unix-second numeric
// timestamps on the wire.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts a unix-seconds number. Zero decodes to the zero time.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	if secs == 0 {
		t.Time = time.Time{}
		return nil
	}
	t.Time = time.Unix(int64(secs), 0).UTC()
	return nil
}

// MarshalJSON emits unix seconds. The zero time marshals to 0.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(t.Unix(), 10)), nil
}

// Domain is a flagged domain record. The cache may hold partial entries
// carrying only the Name, produced by non-full bulk listings.
type Domain struct {
	Name        string    `json:"name"`
	Category    Category  `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Target      string    `json:"target,omitempty"`
	Added       Timestamp `json:"added"`
	Checked     Timestamp `json:"checked"`
}

// Partial reports whether the record carries only its identifier.
func (d Domain) Partial() bool {
	return d.Category == ""
}

// URL is a flagged URL record, keyed by the full URL string.
type URL struct {
	URL         string    `json:"url"`
	Category    Category  `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Target      string    `json:"target,omitempty"`
	Added       Timestamp `json:"added"`
	Checked     Timestamp `json:"checked"`
}

// Partial reports whether the record carries only its identifier.
func (u URL) Partial() bool {
	return u.Category == ""
}
