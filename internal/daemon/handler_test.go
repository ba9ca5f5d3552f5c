package daemon

import (
	"context"
	"errors"
	"testing"

	"github.com/fishfish-gg/fishfish-go/internal/pool"
	"github.com/fishfish-gg/fishfish-go/internal/storage"
	"github.com/fishfish-gg/fishfish-go/internal/testutil"
	"github.com/rs/zerolog"
)

func TestJobHandlerPutDomain(t *testing.T) {
	store := testutil.NewMockStore()
	handler := makeJobHandler(store, zerolog.Nop())

	err := handler(context.Background(), pool.SyncJob{
		Action:     "put",
		Kind:       "domain",
		Identifier: "evil.example",
		Domain:     &storage.DomainRecord{Name: "evil.example", Category: "phishing"},
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec, err := store.GetDomain("evil.example")
	if err != nil || rec == nil {
		t.Fatalf("record not written: rec=%v err=%v", rec, err)
	}
	if rec.Category != "phishing" {
		t.Errorf("category = %q", rec.Category)
	}
}

func TestJobHandlerPutOverwrites(t *testing.T) {
	store := testutil.NewMockStore()
	handler := makeJobHandler(store, zerolog.Nop())

	for _, cat := range []string{"phishing", "safe"} {
		err := handler(context.Background(), pool.SyncJob{
			Action:     "put",
			Kind:       "url",
			Identifier: "https://evil.example/kit",
			URL:        &storage.URLRecord{URL: "https://evil.example/kit", Category: cat},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rec, _ := store.GetURL("https://evil.example/kit")
	if rec == nil || rec.Category != "safe" {
		t.Errorf("last write should win, got %+v", rec)
	}
}

func TestJobHandlerDeleteAbsentIsDropped(t *testing.T) {
	store := testutil.NewMockStore()
	handler := makeJobHandler(store, zerolog.Nop())

	// Absent record: drop, not retry.
	err := handler(context.Background(), pool.SyncJob{
		Action:     "delete",
		Kind:       "domain",
		Identifier: "never.example",
	})
	if err != nil {
		t.Errorf("delete of absent record must not error: %v", err)
	}
}

func TestJobHandlerDeleteRemovesRecord(t *testing.T) {
	store := testutil.NewMockStore()
	if err := store.PutDomain(storage.DomainRecord{Name: "evil.example", Category: "malware"}); err != nil {
		t.Fatal(err)
	}
	handler := makeJobHandler(store, zerolog.Nop())

	err := handler(context.Background(), pool.SyncJob{
		Action:     "delete",
		Kind:       "domain",
		Identifier: "evil.example",
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	rec, _ := store.GetDomain("evil.example")
	if rec != nil {
		t.Error("record should be gone")
	}
}

func TestJobHandlerStoreErrorTriggersRetry(t *testing.T) {
	store := testutil.NewMockStore()
	store.SetError("PutDomain", errors.New("disk full"))
	handler := makeJobHandler(store, zerolog.Nop())

	err := handler(context.Background(), pool.SyncJob{
		Action:     "put",
		Kind:       "domain",
		Identifier: "evil.example",
		Domain:     &storage.DomainRecord{Name: "evil.example", Category: "phishing"},
	})
	if err == nil {
		t.Fatal("store error must propagate so the pool retries")
	}

	// Injected error is consumed; the retry succeeds.
	if err := handler(context.Background(), pool.SyncJob{
		Action:     "put",
		Kind:       "domain",
		Identifier: "evil.example",
		Domain:     &storage.DomainRecord{Name: "evil.example", Category: "phishing"},
	}); err != nil {
		t.Fatalf("retry after injected error: %v", err)
	}
}

func TestJobHandlerUnknownActionDropped(t *testing.T) {
	store := testutil.NewMockStore()
	handler := makeJobHandler(store, zerolog.Nop())

	if err := handler(context.Background(), pool.SyncJob{Action: "explode", Kind: "domain", Identifier: "x"}); err != nil {
		t.Errorf("unknown action must be dropped, not retried: %v", err)
	}
}
