package clock

import "time"

// Clock abstracts time.Now so expiry logic can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func System() Clock { return systemClock{} }

// Fixed is a manually advanced clock for tests.
type Fixed struct {
	Current time.Time
}

func (f *Fixed) Now() time.Time { return f.Current }

func (f *Fixed) Advance(d time.Duration) { f.Current = f.Current.Add(d) }
