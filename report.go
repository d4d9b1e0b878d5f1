package symcheck

import (
	"encoding/gob"
	"fmt"
	"strings"

	"github.com/symcheck/symcheck/attacker"
	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/query"
	"github.com/symcheck/symcheck/trace"
)

type Result = query.Outcome

const (
	Verified = query.Verified
	Violated = query.Violated
	Unknown  = query.Unknown
)

type QueryResult struct {
	Query  model.Query
	Result Result
	// Trace is empty unless Result is Violated.
	Trace trace.Trace
}

type Report struct {
	Results     []QueryResult
	Diagnostics []*model.Diagnostic
	// Complete is set when exploration reached a fixpoint, so that every
	// query that is not Violated is Verified.
	Complete bool
	// Stop says why exploration ended early. It wraps ErrBoundExceeded, or
	// is the context's error when Verify was cancelled.
	Stop     error
	Depth    int
	Branches int
}

func init() {
	// cached reports carry their stop reason
	gob.Register(&attacker.BoundError{})
}

func (r Report) String() string {
	var b strings.Builder
	for _, d := range r.Diagnostics {
		fmt.Fprintf(&b, "error: %v\n", d)
	}
	for _, res := range r.Results {
		fmt.Fprintf(&b, "%v: %v\n", res.Query, res.Result)
		if len(res.Trace) > 0 {
			for _, line := range strings.Split(strings.TrimRight(res.Trace.String(), "\n"), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	if !r.Complete && len(r.Results) > 0 {
		fmt.Fprintf(&b, "exploration stopped at depth %d after %d branches", r.Depth, r.Branches)
		if r.Stop != nil {
			fmt.Fprintf(&b, ": %v", r.Stop)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Violations returns the results whose query was violated.
func (r Report) Violations() []QueryResult {
	var out []QueryResult
	for _, res := range r.Results {
		if res.Result == Violated {
			out = append(out, res)
		}
	}
	return out
}
