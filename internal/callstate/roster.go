package callstate

import "time"

// RosterSource supplies the calls of other agents, in display order.
// Entries is called with the coordinator's lock held and must not call
// back into the coordinator.
type RosterSource interface {
	Entries(now time.Time) []ActiveCallEntry
}

// Ticker is implemented by roster sources that evolve on the coordinator's
// refresh interval, such as the demo simulator.
type Ticker interface {
	Tick(now time.Time)
}

// NameResolver maps a dialed number to a customer display name.
type NameResolver interface {
	CustomerName(number string) (string, bool)
}

const (
	defaultCustomerName = "Current Call"
	defaultAgentName    = "You"
)

func (c *Coordinator) rosterLocked(now time.Time) []ActiveCallEntry {
	var remote []ActiveCallEntry
	if c.source != nil {
		remote = c.source.Entries(now)
	}

	entries := make([]ActiveCallEntry, 0, len(remote)+1)
	if local, ok := c.localEntryLocked(now); ok {
		entries = append(entries, local)
	}
	for _, e := range remote {
		if e.ID == LocalEntryID {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func (c *Coordinator) localEntryLocked(now time.Time) (ActiveCallEntry, bool) {
	state := c.currentLocked()
	if state == StateIdle || c.activeNumber == "" {
		return ActiveCallEntry{}, false
	}

	agent := defaultAgentName
	if c.extension != "" {
		agent = "Ext " + c.extension
	}
	customer := defaultCustomerName
	if c.names != nil {
		if name, ok := c.names.CustomerName(c.activeNumber); ok {
			customer = name
		}
	}

	entry := ActiveCallEntry{
		ID:             LocalEntryID,
		AgentName:      agent,
		CustomerName:   customer,
		CustomerNumber: c.activeNumber,
		State:          state,
		StartTime:      now,
	}
	if !c.connectedAt.IsZero() {
		entry.StartTime = c.connectedAt
		entry.Duration = elapsedSeconds(c.connectedAt, now)
	}
	return entry, true
}

func elapsedSeconds(from, to time.Time) int {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
