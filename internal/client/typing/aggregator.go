// Package typing tracks who is typing in a room and decides when the
// local user's own typing-start and typing-stop go out.
//
// Both types are owned by the session loop and are not safe for
// concurrent use.
package typing

import (
	"sort"
	"time"

	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
)

const DefaultTTL = 3 * time.Second

// Aggregator keeps one entry per typing participant. An entry that is
// not refreshed within the TTL is pruned, so a lost typing-stop cannot
// leave someone typing forever.
type Aggregator struct {
	clk     clock.Clock
	ttl     time.Duration
	entries map[string]time.Time
}

func NewAggregator(clk clock.Clock, ttl time.Duration) *Aggregator {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{clk: clk, ttl: ttl, entries: make(map[string]time.Time)}
}

// Mark inserts or refreshes username.
func (a *Aggregator) Mark(username string) {
	if username == "" {
		return
	}
	a.entries[username] = a.clk.Now().Add(a.ttl)
}

// Clear removes username immediately. Reports whether it was present.
func (a *Aggregator) Clear(username string) bool {
	if _, ok := a.entries[username]; !ok {
		return false
	}
	delete(a.entries, username)
	return true
}

// Sweep prunes expired entries and reports whether any were removed.
func (a *Aggregator) Sweep() bool {
	now := a.clk.Now()
	removed := false
	for name, expiresAt := range a.entries {
		if !now.Before(expiresAt) {
			delete(a.entries, name)
			removed = true
		}
	}
	return removed
}

// NextExpiry returns the earliest deadline, for scheduling a Sweep.
func (a *Aggregator) NextExpiry() (time.Time, bool) {
	var next time.Time
	for _, expiresAt := range a.entries {
		if next.IsZero() || expiresAt.Before(next) {
			next = expiresAt
		}
	}
	return next, !next.IsZero()
}

// Entries returns the live entries sorted by username. Expired entries
// are pruned first.
func (a *Aggregator) Entries() []domain.TypingEntry {
	a.Sweep()
	out := make([]domain.TypingEntry, 0, len(a.entries))
	for name, expiresAt := range a.entries {
		out = append(out, domain.TypingEntry{Username: name, ExpiresAt: expiresAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Names lists who is typing, leaving out self.
func (a *Aggregator) Names(self string) []string {
	entries := a.Entries()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Username != self {
			names = append(names, e.Username)
		}
	}
	return names
}

func (a *Aggregator) Reset() {
	clear(a.entries)
}
