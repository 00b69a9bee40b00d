package pipeline

import (
	"fmt"
	"sync"

	"github.com/zen-systems/viewforge/pkg/artifact"
)

// Listener receives a snapshot after every accepted change.
type Listener func(Snapshot)

// Store holds the state of every step for the active run. Observers read it
// through Snapshot and Subscribe; only the Runner mutates it.
type Store struct {
	mu         sync.RWMutex
	steps      []StepState
	index      map[int]int
	generation uint64
	runID      string

	// notifyMu serializes mutation+notification so listeners see changes in order.
	notifyMu  sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewStore creates a store with every step pending.
func NewStore(defs []StepDefinition) *Store {
	s := &Store{
		steps:     make([]StepState, len(defs)),
		index:     make(map[int]int, len(defs)),
		listeners: make(map[int]Listener),
	}
	for i, def := range defs {
		s.steps[i] = StepState{Step: def, Status: StatusPending}
		s.index[def.ID] = i
	}
	return s
}

// Snapshot returns an ordered copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Generation returns the current run generation token.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Subscribe registers fn for every future change. Listeners run synchronously
// on the mutating goroutine and must not block for long or call back into
// unsubscribe.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.register(fn)
}

// Watch is Subscribe that also returns the state fn starts from. Every
// notification fn receives is newer than the returned snapshot.
func (s *Store) Watch(fn Listener) (Snapshot, func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.Snapshot(), s.register(fn)
}

// register must be called with notifyMu held.
func (s *Store) register(fn Listener) func() {
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			delete(s.listeners, id)
			s.notifyMu.Unlock()
		})
	}
}

// begin starts a new generation, resetting every step to pending.
func (s *Store) begin(runID string) (uint64, Snapshot) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.generation++
	s.runID = runID
	for i := range s.steps {
		s.steps[i] = StepState{Step: s.steps[i].Step, Status: StatusPending}
	}
	gen := s.generation
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyLocked(snap)
	return gen, snap
}

// transition moves one step, tagged with the generation that requested it.
func (s *Store) transition(gen uint64, id int, to Status, result *artifact.Artifact, errMsg string) (Snapshot, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return Snapshot{}, ErrStaleRun
	}
	idx, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnknownStep, id)
	}

	current := s.steps[idx]
	if !allowed(current.Status, to) {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: step %d %s -> %s", ErrInvalidTransition, id, current.Status, to)
	}
	if to == StatusGenerating && s.countLocked(StatusGenerating) > 0 {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: another step is generating", ErrInvalidTransition)
	}

	next := StepState{Step: current.Step, Status: to}
	switch to {
	case StatusCompleted:
		if result == nil {
			s.mu.Unlock()
			return Snapshot{}, fmt.Errorf("%w: completed step %d without a result", ErrInvalidTransition, id)
		}
		next.Result = result
	case StatusError:
		if errMsg == "" {
			errMsg = "An unknown error occurred."
		}
		next.Error = errMsg
	}
	s.steps[idx] = next
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyLocked(snap)
	return snap, nil
}

func allowed(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusGenerating
	case StatusGenerating:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}

func (s *Store) countLocked(status Status) int {
	n := 0
	for _, st := range s.steps {
		if st.Status == status {
			n++
		}
	}
	return n
}

func (s *Store) snapshotLocked() Snapshot {
	steps := make([]StepState, len(s.steps))
	copy(steps, s.steps)
	return Snapshot{RunID: s.runID, Generation: s.generation, Steps: steps}
}

// notifyLocked must be called with notifyMu held.
func (s *Store) notifyLocked(snap Snapshot) {
	for _, fn := range s.listeners {
		fn(snap)
	}
}
