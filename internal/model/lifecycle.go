// Package model holds the shared data types passed between the dispatcher,
// workers, processors, index, registry, and store.
package model

// Lifecycle is the coarse state of a SubscriptionRecord.
type Lifecycle int

const (
	LifecyclePending Lifecycle = iota
	LifecycleActive
	LifecycleTerminating
	LifecycleTerminated
)

func (l Lifecycle) String() string {
	switch l {
	case LifecyclePending:
		return "Pending"
	case LifecycleActive:
		return "Active"
	case LifecycleTerminating:
		return "Terminating"
	case LifecycleTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ParseLifecycle parses the store's on-disk lifecycle string.
func ParseLifecycle(s string) Lifecycle {
	switch s {
	case "Active":
		return LifecycleActive
	case "Terminating":
		return LifecycleTerminating
	case "Terminated":
		return LifecycleTerminated
	default:
		return LifecyclePending
	}
}

// validTransitions mirrors the dialog state machine's transition table: the
// lifecycle is monotonic except that Pending may jump directly to
// Terminated (an immediate unsubscribe before the dialog ever activates).
var validTransitions = map[Lifecycle][]Lifecycle{
	LifecyclePending:     {LifecycleActive, LifecycleTerminated},
	LifecycleActive:      {LifecycleTerminating, LifecycleTerminated},
	LifecycleTerminating: {LifecycleTerminated},
	LifecycleTerminated:  {},
}

// CanTransitionTo reports whether moving from l to next is a legal
// lifecycle transition.
func (l Lifecycle) CanTransitionTo(next Lifecycle) bool {
	if l == next {
		return true
	}
	for _, candidate := range validTransitions[l] {
		if candidate == next {
			return true
		}
	}
	return false
}

// SubscriptionType identifies the SIP event package a dialog subscribes to.
type SubscriptionType int

const (
	SubscriptionUnknown SubscriptionType = iota
	SubscriptionBLF
	SubscriptionMWI
)

func (t SubscriptionType) String() string {
	switch t {
	case SubscriptionBLF:
		return "BLF"
	case SubscriptionMWI:
		return "MWI"
	default:
		return "Unknown"
	}
}
