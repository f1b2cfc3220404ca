package connection

import (
	"time"
)

// Candidate sources.
const (
	SourceStatic    = "static"
	SourcePersisted = "persisted"
	SourceMDNS      = "mdns"
)

// Candidate is one address the supervisor may connect to. A zero
// LastFailure means the candidate has not failed.
type Candidate struct {
	Address     string
	Source      string
	LastFailure time.Time
}

// Eligible reports whether c may be tried at now.
func (c Candidate) Eligible(now time.Time, cooldown time.Duration) bool {
	return c.LastFailure.IsZero() || now.Sub(c.LastFailure) >= cooldown
}

// CooldownEnds returns when c becomes eligible again.
func (c Candidate) CooldownEnds(cooldown time.Duration) time.Time {
	if c.LastFailure.IsZero() {
		return time.Time{}
	}
	return c.LastFailure.Add(cooldown)
}

// candidateList is an ordered, duplicate-free set of candidates. It is
// only touched under the supervisor mutex.
type candidateList struct {
	items []Candidate
}

// add appends address unless it is already present.
func (l *candidateList) add(address, source string) bool {
	if address == "" || l.index(address) >= 0 {
		return false
	}
	l.items = append(l.items, Candidate{Address: address, Source: source})
	return true
}

// promote moves address to the front, adding it if needed.
func (l *candidateList) promote(address, source string) {
	if i := l.index(address); i >= 0 {
		c := l.items[i]
		copy(l.items[1:i+1], l.items[:i])
		l.items[0] = c
		return
	}
	l.items = append([]Candidate{{Address: address, Source: source}}, l.items...)
}

func (l *candidateList) index(address string) int {
	for i, c := range l.items {
		if c.Address == address {
			return i
		}
	}
	return -1
}

func (l *candidateList) markFailed(address string, at time.Time) {
	if i := l.index(address); i >= 0 {
		l.items[i].LastFailure = at
	}
}

func (l *candidateList) markOK(address string) {
	if i := l.index(address); i >= 0 {
		l.items[i].LastFailure = time.Time{}
	}
}

// eligible returns the candidates that may be tried at now, in order,
// and the earliest time a skipped one becomes eligible.
func (l *candidateList) eligible(now time.Time, cooldown time.Duration) ([]Candidate, time.Time) {
	var (
		out      []Candidate
		earliest time.Time
	)
	for _, c := range l.items {
		if c.Eligible(now, cooldown) {
			out = append(out, c)
			continue
		}
		if end := c.CooldownEnds(cooldown); earliest.IsZero() || end.Before(earliest) {
			earliest = end
		}
	}
	return out, earliest
}

func (l *candidateList) snapshot() []Candidate {
	return append([]Candidate(nil), l.items...)
}
