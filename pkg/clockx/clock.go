package clockx

import "errors"

// ErrNoVictim is returned by Victim when the final pass still finds no clean,
// unreferenced slot. It can only happen if an invariant is broken.
var ErrNoVictim = errors.New("clockx: no victim slot found")

// Clock implements the enhanced second-chance (CLOCK) policy for a fixed
// number of slots. Each slot carries a used bit (occupied vs free), a
// reference bit and a dirty bit. All scans share one hand.
type Clock struct {
	used  []bool
	ref   []bool
	dirty []bool
	hand  int
}

func New(capacity int) *Clock {
	if capacity <= 0 {
		capacity = 1
	}
	return &Clock{
		used:  make([]bool, capacity),
		ref:   make([]bool, capacity),
		dirty: make([]bool, capacity),
		hand:  0,
	}
}

func (c *Clock) Capacity() int { return len(c.used) }

// Hand returns the current scan position.
func (c *Clock) Hand() int { return c.hand }

func (c *Clock) advance() {
	c.hand = (c.hand + 1) % len(c.used)
}

func (c *Clock) valid(id int) bool {
	return id >= 0 && id < len(c.used)
}

func (c *Clock) Used(id int) bool  { return c.valid(id) && c.used[id] }
func (c *Clock) Ref(id int) bool   { return c.valid(id) && c.ref[id] }
func (c *Clock) Dirty(id int) bool { return c.valid(id) && c.dirty[id] }

// Occupy marks slot as holding a block. The slot is referenced; dirty tells
// whether its content differs from the device.
func (c *Clock) Occupy(id int, dirty bool) {
	if !c.valid(id) {
		return
	}
	c.used[id] = true
	c.ref[id] = true
	c.dirty[id] = dirty
}

// Touch marks slot as recently accessed.
func (c *Clock) Touch(id int) {
	if !c.Used(id) {
		return
	}
	c.ref[id] = true
}

// SetDirty sets or clears the dirty bit. Free slots are never dirty.
func (c *Clock) SetDirty(id int, dirty bool) {
	if !c.Used(id) {
		return
	}
	c.dirty[id] = dirty
}

// Release returns slot to the free state with cleared bits.
func (c *Clock) Release(id int) {
	if !c.valid(id) {
		return
	}
	c.used[id] = false
	c.ref[id] = false
	c.dirty[id] = false
}

// Reset frees every slot. The hand keeps its position.
func (c *Clock) Reset() {
	for i := range c.used {
		c.Release(i)
	}
}

// FindFree scans from the hand for a free slot. The hand moves past every
// visited slot, the returned one included.
func (c *Clock) FindFree() (id int, ok bool) {
	for range len(c.used) {
		idx := c.hand
		c.advance()
		if !c.used[idx] {
			return idx, true
		}
	}
	return -1, false
}

// scanClean makes one full circle looking for a slot with both ref and dirty
// cleared. Every slot that does not match loses its reference bit.
func (c *Clock) scanClean() (id int, ok bool) {
	for range len(c.used) {
		idx := c.hand
		c.advance()
		if !c.ref[idx] && !c.dirty[idx] {
			return idx, true
		}
		// Second chance.
		c.ref[idx] = false
	}
	return -1, false
}

// Victim picks a slot to reclaim.
//
// Two passes look for an unreferenced clean slot; the first one demotes every
// referenced slot so the second reduces to "first clean slot". When every
// slot is dirty, writeBack is called to clean them and a third pass is
// guaranteed to stop at the hand.
func (c *Clock) Victim(writeBack func() error) (id int, err error) {
	for range 2 {
		if idx, ok := c.scanClean(); ok {
			return idx, nil
		}
	}

	if writeBack != nil {
		if err := writeBack(); err != nil {
			return -1, err
		}
	}

	if idx, ok := c.scanClean(); ok {
		return idx, nil
	}
	return -1, ErrNoVictim
}

// Len returns the number of occupied slots.
func (c *Clock) Len() int {
	n := 0
	for _, u := range c.used {
		if u {
			n++
		}
	}
	return n
}

// DirtyCount returns the number of dirty slots.
func (c *Clock) DirtyCount() int {
	n := 0
	for _, d := range c.dirty {
		if d {
			n++
		}
	}
	return n
}
