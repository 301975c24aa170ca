package pipeline

import "github.com/zulandar/signalbox/internal/outcome"

// Result is the per-event status object returned to the platform. OK is
// always true once the signature has been verified.
type Result struct {
	OK      bool   `json:"ok"`
	Deduped bool   `json:"deduped,omitempty"`
	Skipped string `json:"skipped,omitempty"`
	Echo    bool   `json:"echo,omitempty"`
	Human   *bool  `json:"human,omitempty"`
	Paused  bool   `json:"paused,omitempty"`
	Replied bool   `json:"replied,omitempty"`
	Updated int64  `json:"updated,omitempty"`
	Error   string `json:"error,omitempty"`

	Outcome outcome.Outcome `json:"-"`
}

// Response collects the results of one webhook delivery.
type Response struct {
	Results []Result
}

// Body returns the JSON body for the delivery: the single event's status
// object, or a batch object when the delivery carried several events.
func (r Response) Body() any {
	switch len(r.Results) {
	case 0:
		return Result{OK: true, Skipped: "no_events"}
	case 1:
		return r.Results[0]
	default:
		return struct {
			OK      bool     `json:"ok"`
			Results []Result `json:"results"`
		}{OK: true, Results: r.Results}
	}
}

func skipped(reason string) Result {
	return Result{OK: true, Skipped: reason, Outcome: outcome.Skipped(reason)}
}

func failed(kind outcome.Kind, err error) Result {
	return Result{OK: true, Error: string(kind), Outcome: outcome.Failed(kind, err)}
}
