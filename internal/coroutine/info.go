// Package coroutine holds the data model shared by the coroutine stack
// reconstruction components: identities, lifecycle states, per-pause
// coroutine info and the frame variants of a logical stack.
//
// Values of this package are produced during one debugger pause and must be
// discarded when the process resumes: every remote.Ref they carry becomes
// stale at that point.
package coroutine

import "github.com/coral-mesh/corostack/pkg/remote"

const (
	// DefaultName is used when a coroutine has no name.
	DefaultName = "coroutine"
	// UnknownID is used when neither a sequence number nor an address is known.
	UnknownID = "-1"
)

// Identity identifies a coroutine. Dispatcher is empty when unknown.
type Identity struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	State      State  `json:"state"`
	Dispatcher string `json:"dispatcher,omitempty"`
}

// UnknownIdentity is the identity used when nothing can be learned.
func UnknownIdentity() Identity {
	return Identity{Name: DefaultName, ID: UnknownID, State: StateUnknown}
}

// Info aggregates what is known about one coroutine during one pause.
type Info struct {
	Identity Identity `json:"identity"`
	// Restored is the stack recovered from the continuation chain,
	// innermost first.
	Restored []Frame `json:"restored,omitempty"`
	// Creation is the trace recorded at launch, innermost first.
	Creation []Frame `json:"creation,omitempty"`
	// ActiveThread is set only for running coroutines.
	ActiveThread *remote.Thread `json:"active_thread,omitempty"`
	// LastObservedFrame is kept for diagnostics only.
	LastObservedFrame remote.Ref `json:"last_observed_frame,omitempty"`
}

// NewInfo builds an Info, dropping the thread unless the coroutine is running.
func NewInfo(id Identity, restored, creation []Frame, thread *remote.Thread) *Info {
	if id.State != StateRunning {
		thread = nil
	}
	return &Info{
		Identity:     id,
		Restored:     restored,
		Creation:     creation,
		ActiveThread: thread,
	}
}

// IsRunning reports whether the coroutine occupies a thread.
func (i *Info) IsRunning() bool { return i.Identity.State == StateRunning }

// IsSuspended reports whether the coroutine is parked on the heap.
func (i *Info) IsSuspended() bool { return i.Identity.State == StateSuspended }

// TopRestored returns the innermost restored frame.
func (i *Info) TopRestored() (Frame, bool) {
	if len(i.Restored) == 0 {
		return Frame{}, false
	}
	return i.Restored[0], true
}

// BottomRestored returns the outermost restored frame.
func (i *Info) BottomRestored() (Frame, bool) {
	if len(i.Restored) == 0 {
		return Frame{}, false
	}
	return i.Restored[len(i.Restored)-1], true
}
