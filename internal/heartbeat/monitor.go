// ABOUTME: Heartbeat monitor tracking liveness of active reservations
// ABOUTME: Alive, at-risk and silent states driven by periodic Tick calls

package heartbeat

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Liveness is the heartbeat state of an active reservation.
type Liveness int32

const (
	Alive Liveness = iota
	AtRisk
	Silent
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "ALIVE"
	case AtRisk:
		return "AT_RISK"
	case Silent:
		return "SILENT"
	default:
		return "UNKNOWN"
	}
}

// DefaultMissThreshold is the number of missed intervals tolerated in AT_RISK
// before a reservation is considered silent.
const DefaultMissThreshold = 1

// Config holds monitor tunables.
type Config struct {
	Interval      time.Duration
	MissThreshold int
}

// Transition is a liveness change observed by Tick.
type Transition struct {
	ReservationID string
	From          Liveness
	To            Liveness
	Missed        int
	LastSeen      time.Time
}

// Status is a point-in-time view of one heartbeat record.
type Status struct {
	Liveness Liveness
	Missed   int
	LastSeen time.Time
}

// record is mutated lock-free: lastSeen only moves forward.
type record struct {
	lastSeen atomic.Int64 // unix nanos
	missed   atomic.Int32
	state    atomic.Int32
}

// Monitor tracks one heartbeat record per ACTIVE reservation.
type Monitor struct {
	cfg     Config
	mu      sync.RWMutex
	records map[string]*record
}

// NewMonitor creates a Monitor. A non-positive Interval panics since liveness
// could never be evaluated.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		panic("heartbeat: interval must be positive")
	}
	if cfg.MissThreshold < 0 {
		cfg.MissThreshold = DefaultMissThreshold
	}
	return &Monitor{
		cfg:     cfg,
		records: make(map[string]*record),
	}
}

// Track starts monitoring a reservation that just became ACTIVE. The
// activation time counts as the first heartbeat. Tracking an already tracked
// reservation resets it.
func (m *Monitor) Track(id string, now time.Time) {
	rec := &record{}
	rec.lastSeen.Store(now.UnixNano())

	m.mu.Lock()
	m.records[id] = rec
	m.mu.Unlock()
}

// Untrack discards the record of a reservation that left ACTIVE.
func (m *Monitor) Untrack(id string) {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
}

// Record registers a heartbeat at time t and returns false if the reservation
// is not tracked. last_seen only ever moves forward; a stale heartbeat is
// accepted but changes nothing.
func (m *Monitor) Record(id string, t time.Time) bool {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	ts := t.UnixNano()
	for {
		cur := rec.lastSeen.Load()
		if ts <= cur {
			return true
		}
		if rec.lastSeen.CompareAndSwap(cur, ts) {
			break
		}
	}
	rec.missed.Store(0)
	rec.state.Store(int32(Alive))
	return true
}

// Status returns the current record of a reservation.
func (m *Monitor) Status(id string) (Status, bool) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return Status{
		Liveness: Liveness(rec.state.Load()),
		Missed:   int(rec.missed.Load()),
		LastSeen: time.Unix(0, rec.lastSeen.Load()).UTC(),
	}, true
}

// Tick evaluates every record against now and returns the liveness changes,
// ordered by reservation ID. Calling Tick twice with the same now reports
// nothing the second time.
func (m *Monitor) Tick(now time.Time) []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Transition
	for id, rec := range m.records {
		old := Liveness(rec.state.Load())
		last := rec.lastSeen.Load()
		missed := MissedIntervals(now.Sub(time.Unix(0, last)), m.cfg.Interval)
		next := m.classify(missed)

		rec.missed.Store(int32(missed))
		if next == old {
			continue
		}
		if !rec.state.CompareAndSwap(int32(old), int32(next)) {
			continue
		}
		if rec.lastSeen.Load() != last {
			// a heartbeat landed while we were evaluating; it wins
			rec.state.CompareAndSwap(int32(next), int32(Alive))
			continue
		}
		out = append(out, Transition{
			ReservationID: id,
			From:          old,
			To:            next,
			Missed:        missed,
			LastSeen:      time.Unix(0, last).UTC(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ReservationID < out[j].ReservationID })
	return out
}

func (m *Monitor) classify(missed int) Liveness {
	switch {
	case missed == 0:
		return Alive
	case missed > m.cfg.MissThreshold:
		return Silent
	default:
		return AtRisk
	}
}

// Len returns the number of tracked reservations.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// MissedIntervals counts the whole intervals elapsed strictly beyond the last
// heartbeat: elapsed > k*interval for k = 1..n.
func MissedIntervals(elapsed, interval time.Duration) int {
	if elapsed <= 0 || interval <= 0 {
		return 0
	}
	return int((elapsed - 1) / interval)
}
