package agion

import (
	"sync"
	"time"
)

// sameDay reports whether two instants fall on the same UTC calendar day.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// dayCounters returns the current-day usage counters as of now,
// accounting for a day rollover since the last recorded use. After a
// rollover the current-day figures read as zero; totals are unaffected.
func (u *Usage) dayCounters(now time.Time) (requests, tokens int64, cost float64) {
	if u.CurrentDayStart != nil && !sameDay(*u.CurrentDayStart, now) {
		return 0, 0, 0
	}
	return u.CurrentDayRequests, u.CurrentDayTokens, u.CurrentDayCostUSD
}

// Apply records consumption at now. If the calendar day has rolled over
// since CurrentDayStart, the current-day counters are reset before the
// new consumption is added.
func (u *Usage) Apply(now time.Time, requests, tokens int64, costUSD float64) {
	if u.CurrentDayStart == nil || !sameDay(*u.CurrentDayStart, now) {
		dayStart := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
		u.CurrentDayStart = &dayStart
		u.CurrentDayRequests = 0
		u.CurrentDayTokens = 0
		u.CurrentDayCostUSD = 0
	}

	u.CurrentDayRequests += requests
	u.CurrentDayTokens += tokens
	u.CurrentDayCostUSD += costUSD
	u.TotalRequests += requests
	u.TotalTokens += tokens
	u.TotalCostUSD += costUSD
	t := now
	u.LastUsedAt = &t
}

// usageEntry is the locally tracked usage for one permission. The mutex
// serializes updates per permission; different permissions proceed in
// parallel.
type usageEntry struct {
	mu sync.Mutex
	u  Usage
}

func (c *Client) usageEntryFor(permissionID string) *usageEntry {
	v, _ := c.usage.LoadOrStore(permissionID, &usageEntry{})
	return v.(*usageEntry)
}

// UpdateUsage records consumption against a permission. The local copy
// is updated synchronously so subsequent checks see the new counters;
// the report to the governance service happens in the background and a
// failure there is logged, not returned.
func (c *Client) UpdateUsage(permissionID string, requests, tokens int64, costUSD float64) {
	e := c.usageEntryFor(permissionID)
	e.mu.Lock()
	e.u.Apply(c.now(), requests, tokens, costUSD)
	e.mu.Unlock()

	go c.reportUsage(permissionID, requests, tokens, costUSD)
}

// localUsage returns a copy of the locally tracked usage for a
// permission, if any.
func (c *Client) localUsage(permissionID string) (Usage, bool) {
	v, ok := c.usage.Load(permissionID)
	if !ok {
		return Usage{}, false
	}
	e := v.(*usageEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.u, true
}

// seedUsage primes the local tracker with server-reported usage, unless
// local consumption has already been recorded for the permission.
func (c *Client) seedUsage(permissionID string, u Usage) {
	v, loaded := c.usage.LoadOrStore(permissionID, &usageEntry{u: u})
	if !loaded {
		return
	}
	e := v.(*usageEntry)
	e.mu.Lock()
	if e.u.LastUsedAt == nil && e.u.TotalRequests == 0 {
		e.u = u
	}
	e.mu.Unlock()
}
