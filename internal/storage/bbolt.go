package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketDomains = "domains"
	bucketURLs    = "urls"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/mirror.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "mirror.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketDomains, bucketURLs} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// ---- Domain mirror ----------------------------------------------------------

func (s *bboltStore) GetDomain(name string) (*DomainRecord, error) {
	var rec DomainRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketDomains)).Get([]byte(name))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *bboltStore) PutDomain(rec DomainRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("domain record without name")
	}
	if rec.MirroredAt.IsZero() {
		rec.MirroredAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal DomainRecord: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDomains)).Put([]byte(rec.Name), data)
	})
}

func (s *bboltStore) DeleteDomain(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDomains)).Delete([]byte(name))
	})
}

func (s *bboltStore) Domains() (map[string]DomainRecord, error) {
	result := make(map[string]DomainRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDomains)).ForEach(func(k, v []byte) error {
			var rec DomainRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal DomainRecord for %s: %w", k, err)
			}
			result[string(k)] = rec
			return nil
		})
	})
	return result, err
}

// ---- URL mirror -------------------------------------------------------------

func (s *bboltStore) GetURL(raw string) (*URLRecord, error) {
	var rec URLRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketURLs)).Get([]byte(raw))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *bboltStore) PutURL(rec URLRecord) error {
	if rec.URL == "" {
		return fmt.Errorf("url record without url")
	}
	if rec.MirroredAt.IsZero() {
		rec.MirroredAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal URLRecord: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketURLs)).Put([]byte(rec.URL), data)
	})
}

func (s *bboltStore) DeleteURL(raw string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketURLs)).Delete([]byte(raw))
	})
}

func (s *bboltStore) URLs() (map[string]URLRecord, error) {
	result := make(map[string]URLRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketURLs)).ForEach(func(k, v []byte) error {
			var rec URLRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal URLRecord for %s: %w", k, err)
			}
			result[string(k)] = rec
			return nil
		})
	})
	return result, err
}

// ---- Maintenance ------------------------------------------------------------

func (s *bboltStore) Counts() (int, int, error) {
	var domains, urls int
	err := s.db.View(func(tx *bolt.Tx) error {
		domains = tx.Bucket([]byte(bucketDomains)).Stats().KeyN
		urls = tx.Bucket([]byte(bucketURLs)).Stats().KeyN
		return nil
	})
	return domains, urls, err
}

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
