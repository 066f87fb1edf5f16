package fulfillment

import (
	"errors"
	"fmt"
	"time"
)

// Result is the disposition of a single item in a run.
type Result string

const (
	ResultSubmitted Result = "submitted"
	ResultShipped   Result = "shipped"
	ResultCanceled  Result = "canceled"
	ResultStockSet  Result = "stock_set"
	ResultSkipped   Result = "skipped"
	ResultFailed    Result = "failed"
)

// Outcome records what happened to one shipment or SKU.
type Outcome struct {
	Subject string `json:"subject"`
	Number  string `json:"number,omitempty"`
	Result  Result `json:"result"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

func failed(subject, number string, err error) Outcome {
	return Outcome{Subject: subject, Number: number, Result: ResultFailed, Err: err}
}

func skipped(subject, number, reason string) Outcome {
	return Outcome{Subject: subject, Number: number, Result: ResultSkipped, Reason: reason}
}

// Report aggregates the outcomes of one run of a stage.
type Report struct {
	Stage      Stage     `json:"stage"`
	Adapter    string    `json:"adapter,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Skipped    string    `json:"skipped,omitempty"`
	Outcomes   []Outcome `json:"outcomes"`
}

func (r *Report) add(o Outcome) {
	if o.Err != nil && o.Error == "" {
		o.Error = o.Err.Error()
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Duration returns the wall time of the run.
func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Counts tallies outcomes by result.
func (r Report) Counts() map[Result]int {
	counts := make(map[Result]int)
	for _, o := range r.Outcomes {
		counts[o.Result]++
	}
	return counts
}

// Failures returns the failed outcomes in processing order.
func (r Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Result == ResultFailed {
			out = append(out, o)
		}
	}
	return out
}

// Err joins all item failures, or returns nil when every item succeeded or was skipped.
func (r Report) Err() error {
	var joined error
	for _, o := range r.Failures() {
		err := o.Err
		if err == nil {
			err = errors.New(o.Error)
		}
		joined = errors.Join(joined, fmt.Errorf("%s: %w", o.Subject, err))
	}
	return joined
}
