package broadcast

import "sync/atomic"

// Clock is the monotonic logical clock that stamps every published event.
// Seq values are strictly increasing and never reused, so they define the
// single global mutation order observers rely on.
type Clock struct {
	seq atomic.Uint64
}

func NewClock() *Clock {
	return &Clock{}
}

func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
