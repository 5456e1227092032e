package engine

import (
	"sync"

	"github.com/rendis/cortex/pkg/schema"
)

// ChainState is the invocation engine's position in a tool chain.
type ChainState string

const (
	// ChainPending: about to invoke the current tool.
	ChainPending ChainState = "pending"
	// ChainRetrying: the current tool failed retryably and will be re-attempted.
	ChainRetrying ChainState = "retrying"
	// ChainAdvancing: the current tool succeeded and a next tool exists.
	ChainAdvancing ChainState = "advancing"
	// ChainSucceeded: the last tool in the chain succeeded. Terminal.
	ChainSucceeded ChainState = "succeeded"
	// ChainExhausted: a tool failed after all permitted attempts. Terminal.
	ChainExhausted ChainState = "exhausted"
)

// ValidChainTransitions defines the allowed state transitions for a chain.
var ValidChainTransitions = map[ChainState][]ChainState{
	ChainPending:   {ChainRetrying, ChainAdvancing, ChainSucceeded},
	ChainRetrying:  {ChainPending, ChainExhausted},
	ChainAdvancing: {ChainPending},
	ChainSucceeded: {},
	ChainExhausted: {},
}

// TransitionHook is called after a chain state transition.
type TransitionHook func(from, to ChainState) error

type chainHookKey struct {
	from, to ChainState
}

// ChainFSM tracks and validates the invocation engine's progress through a
// tool chain. One instance per turn; not shared across turns.
type ChainFSM struct {
	mu    sync.Mutex
	state ChainState
	after map[chainHookKey][]TransitionHook
}

// NewChainFSM creates a chain FSM positioned at pending.
func NewChainFSM() *ChainFSM {
	return &ChainFSM{
		state: ChainPending,
		after: make(map[chainHookKey][]TransitionHook),
	}
}

// State returns the current chain state.
func (f *ChainFSM) State() ChainState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// OnAfter registers a hook called after the given transition commits.
func (f *ChainFSM) OnAfter(from, to ChainState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chainHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a chain state transition.
func (f *ChainFSM) Transition(to ChainState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.state
	if !isValidChainTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid chain transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	f.state = to

	for _, hook := range f.after[chainHookKey{from, to}] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// Terminal reports whether the chain has reached a terminal state.
func (f *ChainFSM) Terminal() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == ChainSucceeded || f.state == ChainExhausted
}

func isValidChainTransition(from, to ChainState) bool {
	allowed, ok := ValidChainTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}
