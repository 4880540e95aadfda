// ABOUTME: Preemption manager owning grace timers for preempted reservations
// ABOUTME: Deadlines are plain values checked by Expired; no callbacks or goroutines

package preempt

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// Grace is the grace timer of one preempted reservation. Additional
// preemptors queue behind the running timer instead of starting a new one.
type Grace struct {
	VictimID   string
	DeviceID   string
	StartedAt  time.Time
	Deadline   time.Time
	Preemptors []string
}

func (g *Grace) clone() *Grace {
	c := *g
	c.Preemptors = slices.Clone(g.Preemptors)
	return &c
}

// Manager tracks grace timers keyed by victim reservation ID.
type Manager struct {
	grace  time.Duration
	mu     sync.Mutex
	timers map[string]*Grace
}

// NewManager creates a Manager that grants victims the given grace time.
func NewManager(grace time.Duration) *Manager {
	return &Manager{
		grace:  grace,
		timers: make(map[string]*Grace),
	}
}

// GraceTime returns the configured grace period.
func (m *Manager) GraceTime() time.Duration {
	return m.grace
}

// Begin starts a grace timer for victim on behalf of preemptor. If the victim
// is already being preempted the preemptor is queued behind the running timer
// and started is false; the deadline is never extended or shortened.
func (m *Manager) Begin(victimID, deviceID, preemptorID string, now time.Time) (g *Grace, started bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.timers[victimID]; ok {
		if !slices.Contains(existing.Preemptors, preemptorID) {
			existing.Preemptors = append(existing.Preemptors, preemptorID)
		}
		return existing.clone(), false
	}

	g = &Grace{
		VictimID:   victimID,
		DeviceID:   deviceID,
		StartedAt:  now,
		Deadline:   now.Add(m.grace),
		Preemptors: []string{preemptorID},
	}
	m.timers[victimID] = g
	return g.clone(), true
}

// Get returns the grace timer of a victim.
func (m *Manager) Get(victimID string) (*Grace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.timers[victimID]
	if !ok {
		return nil, false
	}
	return g.clone(), true
}

// Release destroys the grace timer of a victim that gave up the device before
// its deadline (or whose reservation ended on its own).
func (m *Manager) Release(victimID string) (*Grace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.timers[victimID]
	if !ok {
		return nil, false
	}
	delete(m.timers, victimID)
	return g, true
}

// Withdraw removes a preemptor that no longer wants the window (it was
// cancelled, expired or itself preempted). Timers left without any preemptor
// are destroyed and returned: those preemptions are aborted and the victims
// keep the device.
func (m *Manager) Withdraw(preemptorID string) []*Grace {
	m.mu.Lock()
	defer m.mu.Unlock()

	var aborted []*Grace
	for id, g := range m.timers {
		idx := slices.Index(g.Preemptors, preemptorID)
		if idx < 0 {
			continue
		}
		g.Preemptors = slices.Delete(g.Preemptors, idx, idx+1)
		if len(g.Preemptors) == 0 {
			delete(m.timers, id)
			aborted = append(aborted, g)
		}
	}
	sortGrace(aborted)
	return aborted
}

// Expired removes and returns every timer whose deadline is at or before now,
// so a forced revocation never happens before the full grace time elapsed.
func (m *Manager) Expired(now time.Time) []*Grace {
	return m.expired("", now)
}

// ExpiredOn is Expired restricted to the timers of one device.
func (m *Manager) ExpiredOn(deviceID string, now time.Time) []*Grace {
	return m.expired(deviceID, now)
}

func (m *Manager) expired(deviceID string, now time.Time) []*Grace {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Grace
	for id, g := range m.timers {
		if deviceID != "" && g.DeviceID != deviceID {
			continue
		}
		if !g.Deadline.After(now) {
			delete(m.timers, id)
			out = append(out, g)
		}
	}
	sortGrace(out)
	return out
}

// Blocking returns the victims a preemptor is still waiting on.
func (m *Manager) Blocking(preemptorID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for id, g := range m.timers {
		if slices.Contains(g.Preemptors, preemptorID) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of running grace timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func sortGrace(gs []*Grace) {
	sort.Slice(gs, func(i, j int) bool {
		if !gs[i].Deadline.Equal(gs[j].Deadline) {
			return gs[i].Deadline.Before(gs[j].Deadline)
		}
		return gs[i].VictimID < gs[j].VictimID
	})
}
