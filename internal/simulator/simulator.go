// Package simulator produces synthetic calls for other agents so the
// monitoring roster has something to show when no PBX feed is configured.
package simulator

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/cloudconnect/internal/callstate"
)

// Options controls how often synthetic calls start and end.
type Options struct {
	MaxCalls         int
	StartProbability float64
	EndProbability   float64
	// Seed makes the sequence of calls reproducible. Zero picks a random seed.
	Seed uint64
}

// DefaultOptions returns the demo defaults.
func DefaultOptions() Options {
	return Options{
		MaxCalls:         5,
		StartProbability: 0.3,
		EndProbability:   0.1,
	}
}

// Simulator is a callstate.RosterSource whose calls arrive and depart at
// random on every tick.
type Simulator struct {
	opts Options

	mu    sync.Mutex
	rng   *rand.Rand
	calls []callstate.ActiveCallEntry
}

// New creates a Simulator.
func New(opts Options) *Simulator {
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		opts: opts,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Tick possibly starts one call and ends each existing call with the
// configured probabilities.
func (s *Simulator) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.calls) < s.opts.MaxCalls && s.rng.Float64() < s.opts.StartProbability {
		s.calls = append(s.calls, callstate.ActiveCallEntry{
			ID:             uuid.NewString(),
			AgentName:      fmt.Sprintf("Agent %d", 100+s.rng.IntN(10)),
			CustomerName:   "Simulated Customer",
			CustomerNumber: fmt.Sprintf("+15550%d", 100+s.rng.IntN(900)),
			State:          callstate.StateConnected,
			StartTime:      now,
		})
	}

	kept := s.calls[:0]
	for _, call := range s.calls {
		if s.rng.Float64() < s.opts.EndProbability {
			continue
		}
		kept = append(kept, call)
	}
	s.calls = kept
}

// Entries returns the simulated calls with durations measured at now.
func (s *Simulator) Entries(now time.Time) []callstate.ActiveCallEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]callstate.ActiveCallEntry, len(s.calls))
	for i, call := range s.calls {
		call.Duration = int(now.Sub(call.StartTime) / time.Second)
		if call.Duration < 0 {
			call.Duration = 0
		}
		out[i] = call
	}
	return out
}

// Len returns the number of simulated calls in progress.
func (s *Simulator) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
