package storage

import "testing"

func newTestPage(id uint64, fill byte) *Page {
	p := NewPage(id, PageTypeLeaf)
	p.Region()[0] = fill
	return p
}

func TestCacheEvictsLRU(t *testing.T) {
	c := NewCache(2)
	c.Insert(1, newTestPage(1, 1), false)
	c.Insert(2, newTestPage(2, 2), false)

	if _, ok := c.Get(1); !ok {
		t.Fatal("page 1 should be cached")
	}
	// 1 is now MRU, 2 is LRU — inserting 3 should evict 2.
	c.Insert(3, newTestPage(3, 3), false)

	if c.Contains(2) {
		t.Error("clean page 2 should have been dropped on eviction")
	}
	if !c.Contains(1) || !c.Contains(3) {
		t.Error("pages 1 and 3 should remain cached")
	}
}

func TestCacheSpillsDirtyVictimsInsteadOfDropping(t *testing.T) {
	c := NewCache(1)
	c.Insert(1, newTestPage(1, 1), true) // dirty
	c.Insert(2, newTestPage(2, 2), false) // evicts 1, which is dirty

	if !c.Contains(1) {
		t.Fatal("dirty victim must not be dropped — should be retained in spill")
	}
	if c.SpillSize() != 1 {
		t.Errorf("spill size = %d, want 1", c.SpillSize())
	}
	ids := c.DirtyPageIDs()
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("dirty page ids = %v, want [1]", ids)
	}
}

func TestCacheTakeDirtyPageClearsBit(t *testing.T) {
	c := NewCache(4)
	c.Insert(5, newTestPage(5, 9), true)

	p, ok := c.TakeDirtyPage(5)
	if !ok {
		t.Fatal("expected dirty page")
	}
	if p.Region()[0] != 9 {
		t.Errorf("unexpected page contents")
	}
	if _, ok := c.TakeDirtyPage(5); ok {
		t.Error("dirty bit should have been cleared after TakeDirtyPage")
	}
}

func TestCacheClearDirtyEmptiesSpill(t *testing.T) {
	c := NewCache(1)
	c.Insert(1, newTestPage(1, 1), true)
	c.Insert(2, newTestPage(2, 2), true) // spills 1

	c.ClearDirty()

	if c.SpillSize() != 0 {
		t.Errorf("spill size after ClearDirty = %d, want 0", c.SpillSize())
	}
	if len(c.DirtyPageIDs()) != 0 {
		t.Error("no page should be dirty after ClearDirty")
	}
}

func TestCacheDirtyPageIDsSortedAscending(t *testing.T) {
	c := NewCache(8)
	for _, id := range []uint64{5, 1, 3} {
		c.Insert(id, newTestPage(id, byte(id)), true)
	}
	ids := c.DirtyPageIDs()
	want := []uint64{1, 3, 5}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}
