package domain

import (
	"fmt"
	"time"
)

// Stamp is a wall-clock instant at centisecond resolution.
type Stamp struct {
	Seconds      int64
	Centiseconds int // 0-99
}

// StampAt truncates t to centiseconds.
func StampAt(t time.Time) Stamp {
	return Stamp{
		Seconds:      t.Unix(),
		Centiseconds: t.Nanosecond() / int(10*time.Millisecond),
	}
}

// Next returns the stamp one centisecond later.
func (s Stamp) Next() Stamp {
	s.Centiseconds++
	if s.Centiseconds >= 100 {
		s.Centiseconds = 0
		s.Seconds++
	}
	return s
}

// Before reports whether s is strictly earlier than o.
func (s Stamp) Before(o Stamp) bool {
	if s.Seconds != o.Seconds {
		return s.Seconds < o.Seconds
	}
	return s.Centiseconds < o.Centiseconds
}

// Time converts the stamp back to a time.Time.
func (s Stamp) Time() time.Time {
	return time.Unix(s.Seconds, int64(s.Centiseconds)*int64(10*time.Millisecond))
}

func (s Stamp) String() string {
	return fmt.Sprintf("%d.%02d", s.Seconds, s.Centiseconds)
}

// Allocator hands out one stamp per batch of writes.
// Stamps it issues are strictly increasing.
type Allocator struct {
	now    func() time.Time
	last   Stamp
	issued bool
}

// NewAllocator creates an allocator reading time from now.
// A nil now uses time.Now.
func NewAllocator(now func() time.Time) *Allocator {
	if now == nil {
		now = time.Now
	}
	return &Allocator{now: now}
}

// Stamp captures the current wall-clock time.
func (a *Allocator) Stamp() Stamp {
	return a.issue(StampAt(a.now()))
}

// UniqueStamp is Stamp advanced by one centisecond, so it cannot equal a
// stamp another writer captured in the same tick.
func (a *Allocator) UniqueStamp() Stamp {
	return a.issue(StampAt(a.now()).Next())
}

func (a *Allocator) issue(s Stamp) Stamp {
	if a.issued && !a.last.Before(s) {
		s = a.last.Next()
	}
	a.last = s
	a.issued = true
	return s
}
