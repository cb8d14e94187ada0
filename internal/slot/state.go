// Package slot implements the per-connector state machine: the slot
// supervisor owns the lifecycle of one physical hub position, reconciles
// OS hotplug events with client-requested operations, and detects/
// recovers from USB-level flapping.
package slot

// State is one of the slot supervisor's six states (spec §4.1).
type State int

const (
	Absent State = iota
	Idle
	Monitoring
	Resetting
	Flashing
	Flapping
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Idle:
		return "idle"
	case Monitoring:
		return "monitoring"
	case Resetting:
		return "resetting"
	case Flashing:
		return "flashing"
	case Flapping:
		return "flapping"
	default:
		return "unknown"
	}
}

// Recovering is a rendered sub-state of Flapping: a slot whose recovery
// sequence (unbind/cooldown/boot-select/rebind) is actively running,
// versus one that has quiesced waiting for manual intervention. It is
// not a distinct value in State — transitions and invariants only care
// about Flapping — but Snapshot surfaces it for the dashboard.
type RecoveryPhase int

const (
	NotRecovering RecoveryPhase = iota
	Recovering
	NeedsManualIntervention
)

func (r RecoveryPhase) String() string {
	switch r {
	case Recovering:
		return "recovering"
	case NeedsManualIntervention:
		return "needs_manual_intervention"
	default:
		return ""
	}
}
