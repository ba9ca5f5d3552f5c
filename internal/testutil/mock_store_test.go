package testutil

import (
	"errors"
	"testing"

	"github.com/fishfish-gg/fishfish-go/internal/storage"
)

var _ storage.Store = (*MockStore)(nil)

func TestMockStoreRoundTrip(t *testing.T) {
	m := NewMockStore()

	if err := m.PutDomain(storage.DomainRecord{Name: "evil.example", Category: "phishing"}); err != nil {
		t.Fatal(err)
	}
	rec, err := m.GetDomain("evil.example")
	if err != nil || rec == nil {
		t.Fatalf("GetDomain: rec=%v err=%v", rec, err)
	}
	if rec.MirroredAt.IsZero() {
		t.Error("MirroredAt should be stamped on Put")
	}

	if err := m.DeleteDomain("evil.example"); err != nil {
		t.Fatal(err)
	}
	rec, err = m.GetDomain("evil.example")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("record should be gone after delete")
	}
}

func TestMockStoreErrorConsumedOnce(t *testing.T) {
	m := NewMockStore()
	injected := errors.New("boom")
	m.SetError("PutURL", injected)

	if err := m.PutURL(storage.URLRecord{URL: "https://a.example"}); !errors.Is(err, injected) {
		t.Fatalf("first call should return injected error, got %v", err)
	}
	if err := m.PutURL(storage.URLRecord{URL: "https://a.example"}); err != nil {
		t.Fatalf("second call should succeed, got %v", err)
	}
}

func TestMockStoreCountsAndSize(t *testing.T) {
	m := NewMockStore()
	m.Size = 99

	if err := m.PutDomain(storage.DomainRecord{Name: "a.example"}); err != nil {
		t.Fatal(err)
	}
	if err := m.PutURL(storage.URLRecord{URL: "https://a.example/x"}); err != nil {
		t.Fatal(err)
	}

	d, u, err := m.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if d != 1 || u != 1 {
		t.Errorf("Counts() = %d, %d; want 1, 1", d, u)
	}

	size, err := m.SizeBytes()
	if err != nil {
		t.Fatal(err)
	}
	if size != 99 {
		t.Errorf("SizeBytes() = %d; want 99", size)
	}
}
