package domain

type SignalKind string

const (
	SignalNone        SignalKind = "NO_ACTION"
	SignalTimeForced  SignalKind = "TIME_FORCED"
	SignalThetaBomb   SignalKind = "THETA_BOMB"
	SignalReversal    SignalKind = "REVERSAL"
	SignalExhaustion  SignalKind = "EXHAUSTION"
	SignalPartialExit SignalKind = "PARTIAL_EXIT"
	SignalTrailingSL  SignalKind = "TRAILING_SL"
	SignalKillSwitch  SignalKind = "KILL_SWITCH"
)

// ExitSignal is the result of a single detector evaluation.
// A zero value means "no signal"; detector faults are returned as errors,
// never encoded into the signal itself.
type ExitSignal struct {
	Kind       SignalKind
	Confidence float64
	Reason     string
	ShouldExit bool
}

// ExitSignalSummary is the arbitrated per-tick result. Produced fresh on
// every evaluation, never persisted.
type ExitSignalSummary struct {
	Kind             SignalKind
	Confidence       float64
	PrimaryReason    string
	SecondaryReasons []string
	ShouldExit       bool
}
