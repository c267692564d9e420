package cache

import (
	"testing"
	"time"

	"github.com/callwatch/backend/internal/clock"
	"github.com/callwatch/backend/internal/types"
)

func TestGetRespectsValidityWindow(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	c := NewAvailabilityCache(clk)

	c.Put(types.AvailabilityEntry{Extension: "1001", IsRegistered: true, Status: "Registered"})

	if _, ok := c.Get("1001"); !ok {
		t.Fatal("expected fresh entry immediately after Put")
	}

	clk.Advance(Validity)
	if _, ok := c.Get("1001"); !ok {
		t.Fatal("entry at exactly the validity boundary should still be fresh")
	}

	clk.Advance(time.Millisecond)
	if _, ok := c.Get("1001"); ok {
		t.Fatal("entry past the validity window should be a miss")
	}
}

func TestGetAllRequiresBulkFreshness(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	c := NewAvailabilityCache(clk)

	// Individual Puts never make the whole set fresh
	c.Put(types.AvailabilityEntry{Extension: "1001"})
	c.Put(types.AvailabilityEntry{Extension: "1002"})
	if _, ok := c.GetAll(); ok {
		t.Fatal("GetAll should miss without a PutAll")
	}

	c.PutAll([]types.AvailabilityEntry{
		{Extension: "1001", IsRegistered: true},
		{Extension: "1002"},
	})
	all, ok := c.GetAll()
	if !ok {
		t.Fatal("expected fresh set after PutAll")
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}

	clk.Advance(Validity + time.Second)
	if _, ok := c.GetAll(); ok {
		t.Fatal("stale set should be a miss")
	}
}

func TestInvalidateDropsSetFreshness(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	c := NewAvailabilityCache(clk)

	c.PutAll([]types.AvailabilityEntry{
		{Extension: "1001"},
		{Extension: "1002"},
	})
	c.Invalidate("1001")

	if _, ok := c.Get("1001"); ok {
		t.Fatal("invalidated extension should be a miss")
	}
	if _, ok := c.Get("1002"); !ok {
		t.Fatal("other extensions should survive a single invalidation")
	}
	if _, ok := c.GetAll(); ok {
		t.Fatal("single invalidation should drop whole-set freshness")
	}
	if c.Count() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", c.Count())
	}
}
