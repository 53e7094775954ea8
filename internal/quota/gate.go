// Package quota implements the day-bucketed free message limit with a
// premium override.
package quota

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
	"github.com/gustawsonb-collab/gadugator/internal/kv"
	"github.com/tidwall/gjson"
)

// Storage keys.
const (
	KeyUsage   = "gadugator.usage.v1"
	KeyPremium = "gadugator.premium.v1"
)

// DefaultDailyLimit is the number of free messages per calendar day.
const DefaultDailyLimit = 15

// Decision is the outcome of CheckAndReserve.
type Decision int

const (
	// Allowed means the message may be sent.
	Allowed Decision = iota
	// Denied means the free limit for today is exhausted.
	Denied
)

func (d Decision) String() string {
	if d == Denied {
		return "denied"
	}
	return "allowed"
}

// Status is a read-only view of the gate.
type Status struct {
	Day       string `json:"day"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Premium   bool   `json:"premium"`
	Remaining int    `json:"remaining"`
}

// Gate decides whether another user turn may be sent today.
type Gate struct {
	mu     sync.Mutex
	store  *kv.Safe
	limit  int
	now    func() time.Time
	loc    *time.Location
	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLimit overrides the daily limit.
func WithLimit(limit int) Option {
	return func(g *Gate) {
		if limit > 0 {
			g.limit = limit
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLocation sets the zone used to compute calendar days.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// New returns a gate persisted through store.
func New(store *kv.Safe, opts ...Option) *Gate {
	g := &Gate{
		store:  store,
		limit:  DefaultDailyLimit,
		now:    time.Now,
		loc:    time.Local,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limit returns the daily limit.
func (g *Gate) Limit() int { return g.limit }

// DeniedNotice is the message shown when the limit is reached.
func (g *Gate) DeniedNotice() string {
	return fmt.Sprintf("Free limit reached (%d/day). Upgrade to Premium to continue.", g.limit)
}

// CheckAndReserve reports whether a message may be sent. It never mutates
// state; a stale record from a previous day counts as zero but is left as is.
func (g *Gate) CheckAndReserve() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.premiumLocked() {
		return Allowed
	}
	if g.todayCountLocked() >= g.limit {
		return Denied
	}
	return Allowed
}

// Increment records one sent message for today and returns the new record.
// Premium devices are not counted.
func (g *Gate) Increment() domain.UsageRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.today()
	if g.premiumLocked() {
		return domain.UsageRecord{Day: today, Count: g.todayCountLocked()}
	}
	next := domain.UsageRecord{Day: today, Count: g.todayCountLocked() + 1}
	data, err := json.Marshal(next)
	if err == nil {
		g.store.Set(KeyUsage, string(data))
	}
	return next
}

// Premium reports whether the premium override is set.
func (g *Gate) Premium() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.premiumLocked()
}

// ActivatePremium sets the premium override. There is no payment behind it.
func (g *Gate) ActivatePremium() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ok := g.store.Set(KeyPremium, "1")
	g.logger.Info("Premium activated", "persisted", ok)
	return ok
}

// Status returns the current counters.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := Status{
		Day:     g.today(),
		Count:   g.todayCountLocked(),
		Limit:   g.limit,
		Premium: g.premiumLocked(),
	}
	st.Remaining = max(0, st.Limit-st.Count)
	return st
}

func (g *Gate) today() string {
	return g.now().In(g.loc).Format(domain.DayLayout)
}

func (g *Gate) premiumLocked() bool {
	v, ok := g.store.Get(KeyPremium)
	return ok && v == "1"
}

// todayCountLocked returns the stored count when it belongs to today, else 0.
func (g *Gate) todayCountLocked() int {
	rec, ok := g.readLocked()
	if !ok || rec.Day != g.today() {
		return 0
	}
	return max(0, rec.Count)
}

func (g *Gate) readLocked() (domain.UsageRecord, bool) {
	raw, ok := g.store.Get(KeyUsage)
	if !ok || !gjson.Valid(raw) {
		return domain.UsageRecord{}, false
	}
	v := gjson.Parse(raw)
	day := v.Get("day")
	if day.Type != gjson.String {
		return domain.UsageRecord{}, false
	}
	rec := domain.UsageRecord{Day: day.Str}
	if c := v.Get("count"); c.Type == gjson.Number {
		rec.Count = int(c.Int())
	}
	return rec, true
}
