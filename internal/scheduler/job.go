package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a conversion job.
type State string

const (
	StatePending    State = "pending"
	StateExtracting State = "extracting"
	StateResolving  State = "resolving"
	StatePlanning   State = "planning"
	StateBuilding   State = "building"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// States lists every state in lifecycle order.
var States = []State{StatePending, StateExtracting, StateResolving, StatePlanning, StateBuilding, StateDone, StateFailed}

func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// next is the forward successor of each non-terminal state.
var next = map[State]State{
	StatePending:    StateExtracting,
	StateExtracting: StateResolving,
	StateResolving:  StatePlanning,
	StatePlanning:   StateBuilding,
	StateBuilding:   StateDone,
}

// Transition is one entry of a job's history.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Job tracks one input through the pipeline. Its state only moves
// forward.
type Job struct {
	ID    string
	Index int
	Name  string

	mu       sync.Mutex
	state    State
	history  []Transition
	observer func(from, to State)
}

func newJob(index int, name string, observer func(from, to State)) *Job {
	return &Job{ID: uuid.NewString(), Index: index, Name: name, state: StatePending, observer: observer}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) History() []Transition {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Transition(nil), j.history...)
}

// Advance moves the job to state to. Allowed moves are the next state in
// the lifecycle, Planning to Done for plan-only jobs, and any
// non-terminal state to Failed.
func (j *Job) Advance(to State) error {
	j.mu.Lock()
	from := j.state
	ok := !from.Terminal() && (next[from] == to || to == StateFailed || (from == StatePlanning && to == StateDone))
	if !ok {
		j.mu.Unlock()
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.Name, from, to)
	}
	j.state = to
	j.history = append(j.history, Transition{From: from, To: to, At: time.Now()})
	obs := j.observer
	j.mu.Unlock()
	if obs != nil {
		obs(from, to)
	}
	return nil
}
