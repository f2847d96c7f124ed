package pipeline

// State is a pipeline controller state
type State string

const (
	StatePlanning   State = "planning"
	StateRetrieving State = "retrieving"
	StateGenerating State = "generating"
	StateVerifying  State = "verifying"
	StateDone       State = "done"
	StateEscalated  State = "escalated"
	StateFailed     State = "failed"
)

// next lists the legal forward transitions
var next = map[State][]State{
	StatePlanning:   {StateRetrieving, StateFailed},
	StateRetrieving: {StateGenerating, StateFailed},
	StateGenerating: {StateVerifying, StateFailed},
	StateVerifying:  {StateDone, StateEscalated, StateFailed},
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return len(next[s]) == 0
}

// machine tracks one run's state and history
type machine struct {
	current State
	history []State
}

func newMachine() *machine {
	return &machine{current: StatePlanning, history: []State{StatePlanning}}
}

// advance moves to s and reports whether the move was legal. Illegal moves
// leave the machine unchanged.
func (m *machine) advance(s State) bool {
	for _, allowed := range next[m.current] {
		if allowed == s {
			m.current = s
			m.history = append(m.history, s)
			return true
		}
	}
	return false
}

func (m *machine) states() []State {
	out := make([]State, len(m.history))
	copy(out, m.history)
	return out
}
