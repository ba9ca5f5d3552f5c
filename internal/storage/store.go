package storage

import (
	"time"
)

// DomainRecord is the persisted mirror of a flagged domain.
type DomainRecord struct {
	Name        string
	Category    string
	Description string
	Target      string
	Added       time.Time
	Checked     time.Time
	MirroredAt  time.Time
}

// URLRecord is the persisted mirror of a flagged URL.
type URLRecord struct {
	URL         string
	Category    string
	Description string
	Target      string
	Added       time.Time
	Checked     time.Time
	MirroredAt  time.Time
}

// Store is the persistence interface for the mirror daemon.
type Store interface {
	// Domain mirror
	GetDomain(name string) (*DomainRecord, error)
	PutDomain(rec DomainRecord) error
	DeleteDomain(name string) error
	Domains() (map[string]DomainRecord, error)

	// URL mirror
	GetURL(raw string) (*URLRecord, error)
	PutURL(rec URLRecord) error
	DeleteURL(raw string) error
	URLs() (map[string]URLRecord, error)

	// Maintenance helpers
	Counts() (domains, urls int, err error)
	SizeBytes() (int64, error)
	Close() error
}
