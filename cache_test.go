package fishfish

import (
	"sync"
	"testing"
)

func TestCacheMergeHoldsLockAcrossReadWrite(t *testing.T) {
	c := newEntityCache[Domain]()
	c.set("a.example", Domain{Name: "a.example"})

	// Many goroutines each merge one distinct field write; with the lock
	// held across read-merge-write none of them may be lost.
	const writers = 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.merge("a.example", func(cur Domain) Domain {
				cur.Description += "x"
				return cur
			})
		}()
	}
	wg.Wait()

	d, _ := c.get("a.example")
	if len(d.Description) != writers {
		t.Errorf("description length = %d, want %d (lost updates)", len(d.Description), writers)
	}
}

func TestCacheMergeCreatesAbsentEntry(t *testing.T) {
	c := newEntityCache[URL]()
	merged := c.merge("https://x.example", func(cur URL) URL {
		cur.URL = "https://x.example"
		cur.Category = CategoryMalware
		return cur
	})
	if merged.Category != CategoryMalware {
		t.Errorf("merged category = %q, want malware", merged.Category)
	}
	if got, ok := c.get("https://x.example"); !ok || got != merged {
		t.Error("merge must store the merged entry")
	}
}

func TestCacheDeleteAbsentIsNoop(t *testing.T) {
	c := newEntityCache[Domain]()
	c.delete("never.example")
	if c.len() != 0 {
		t.Errorf("len = %d, want 0", c.len())
	}
}
