// Package outcome describes how a pipeline step ended. Steps return an
// Outcome instead of an error so that a failure after authentication never
// turns into a failed webhook response.
package outcome

// Status is the coarse result of a step.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Kind classifies a failure.
type Kind string

const (
	SignatureInvalid      Kind = "signature_invalid"
	DuplicateEvent        Kind = "duplicate_event"
	UnknownAccount        Kind = "unknown_account"
	DownstreamUnavailable Kind = "downstream_unavailable"
	PersistenceConflict   Kind = "persistence_conflict"
	Internal              Kind = "internal"
)

// Outcome is the result of one step. Reason is set for skips; Kind and Err
// for failures.
type Outcome struct {
	Status Status
	Reason string
	Kind   Kind
	Err    error
}

// OK returns a successful outcome.
func OK() Outcome { return Outcome{Status: StatusOK} }

// Skipped returns an outcome for a step that intentionally did nothing.
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

// Failed returns a failure outcome.
func Failed(kind Kind, err error) Outcome {
	return Outcome{Status: StatusFailed, Kind: kind, Err: err}
}

// IsOK reports whether the step succeeded.
func (o Outcome) IsOK() bool { return o.Status == StatusOK }

// String renders the outcome as stored on the webhook event row, e.g.
// "ok", "skipped:paused" or "failed:downstream_unavailable".
func (o Outcome) String() string {
	switch o.Status {
	case StatusSkipped:
		return string(o.Status) + ":" + o.Reason
	case StatusFailed:
		return string(o.Status) + ":" + string(o.Kind)
	default:
		return string(o.Status)
	}
}
