package engine

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestQueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewQueryCache(DefaultQueryCacheSize)
	for i := 0; i <= DefaultQueryCacheSize; i++ {
		c.Insert(fmt.Sprintf("select %d", i))
	}

	if c.Len() != DefaultQueryCacheSize {
		t.Fatalf("Len = %d, want %d", c.Len(), DefaultQueryCacheSize)
	}
	if c.Lookup("select 0") {
		t.Error("oldest query should have been evicted")
	}
	for i := 1; i <= DefaultQueryCacheSize; i++ {
		if !c.Lookup(fmt.Sprintf("select %d", i)) {
			t.Fatalf("select %d missing", i)
		}
	}
}

func TestQueryCache_LookupRefreshesRecency(t *testing.T) {
	c := NewQueryCache(3)
	c.Insert("a")
	c.Insert("b")
	c.Insert("c")

	if !c.Lookup("a") {
		t.Fatal("a should be cached")
	}
	c.Insert("d") // evicts b, the least recently used

	if got, want := c.Keys(), []string{"c", "a", "d"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
	if c.Hits("a") != 2 {
		t.Errorf("Hits(a) = %d, want 2", c.Hits("a"))
	}
}

func TestQueryCache_InsertExistingKeepsCounter(t *testing.T) {
	c := NewQueryCache(2)
	c.Insert("q")
	c.Lookup("q")
	c.Insert("q")
	if c.Hits("q") != 2 {
		t.Errorf("Hits = %d, want 2", c.Hits("q"))
	}
}

func TestQueryCache_Purge(t *testing.T) {
	c := NewQueryCache(0)
	c.Insert("q")
	c.Purge()
	if c.Len() != 0 || c.Lookup("q") {
		t.Error("Purge left entries behind")
	}
}

func TestQueryCache_NilIsDisabled(t *testing.T) {
	var c *QueryCache
	c.Insert("q")
	if c.Lookup("q") || c.Len() != 0 || c.Hits("q") != 0 || c.Keys() != nil {
		t.Error("nil cache should behave as empty")
	}
	c.Purge()
}

func TestQueryCache_Concurrent(t *testing.T) {
	c := NewQueryCache(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				q := fmt.Sprintf("select %d", (g*7+i)%120)
				if !c.Lookup(q) {
					c.Insert(q)
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 50 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}
