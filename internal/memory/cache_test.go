package memory

import (
	"fmt"
	"sync"
	"testing"
)

func TestFIFOCacheEvictsFirstInserted(t *testing.T) {
	c := newFIFOCache[int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Access "a" repeatedly; insertion order must still decide eviction.
	for i := 0; i < 5; i++ {
		if _, ok := c.Get("a"); !ok {
			t.Fatal("a missing before eviction")
		}
	}

	c.Set("d", 4)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted as the first-inserted key")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s missing after eviction", k)
		}
	}
	if c.Len() != 3 {
		t.Errorf("len = %d, want 3", c.Len())
	}
}

func TestFIFOCacheReplaceKeepsPosition(t *testing.T) {
	c := newFIFOCache[int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // replace, not reinsert

	c.Set("c", 3)
	if _, ok := c.Get("a"); ok {
		t.Error("a should still be the eviction candidate after replace")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("b = %d,%v, want 2,true", v, ok)
	}
}

func TestFIFOCacheDeletePrefix(t *testing.T) {
	c := newFIFOCache[int](10)
	c.Set("s1:a", 1)
	c.Set("s1:b", 2)
	c.Set("s2:a", 3)

	c.DeletePrefix("s1:")
	if _, ok := c.Get("s1:a"); ok {
		t.Error("s1:a should be purged")
	}
	if _, ok := c.Get("s1:b"); ok {
		t.Error("s1:b should be purged")
	}
	if _, ok := c.Get("s2:a"); !ok {
		t.Error("s2:a should survive")
	}

	// Eviction order must stay consistent after a prefix purge.
	for i := 0; i < 9; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	c.Set("overflow", 99)
	if _, ok := c.Get("s2:a"); ok {
		t.Error("s2:a should be evicted first after the purge")
	}
}

func TestFIFOCacheConcurrentAccess(t *testing.T) {
	c := newFIFOCache[int](64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := fmt.Sprintf("k%d", (g*200+i)%100)
				c.Set(k, i)
				c.Get(k)
				if i%17 == 0 {
					c.Delete(k)
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 64 {
		t.Errorf("len = %d exceeds capacity", c.Len())
	}
}
