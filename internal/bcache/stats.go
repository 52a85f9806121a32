package bcache

// Stats counts what the cache has done since construction.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64 // occupied slots reclaimed for another block
	WriteBacks  int64 // device writes, eviction and sync alike
	RawReads    int64
	SyncEscapes int64 // victim searches that had to sync every slot
}

// HitRatio returns hits over total lookups, or 0 before the first access.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// SlotInfo is a point-in-time view of one slot.
type SlotInfo struct {
	Index      int
	BlockID    int64 // -1 when the slot is free
	Used       bool
	Referenced bool
	Dirty      bool
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Slots returns the state of every slot in table order.
func (c *Cache) Slots() []SlotInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SlotInfo, len(c.ids))
	for i := range c.ids {
		info := SlotInfo{
			Index:      i,
			BlockID:    -1,
			Used:       c.clock.Used(i),
			Referenced: c.clock.Ref(i),
			Dirty:      c.clock.Dirty(i),
		}
		if info.Used {
			info.BlockID = c.ids[i]
		}
		out[i] = info
	}
	return out
}

// Hand returns the clock position shared by all scans.
func (c *Cache) Hand() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Hand()
}
