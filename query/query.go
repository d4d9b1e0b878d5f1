// Package query decides confidentiality, authentication, freshness and
// unlinkability queries against a finished simulation. Checks only read the simulation
// result, so any number of them may run at once.
package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/symcheck/symcheck/attacker"
	"github.com/symcheck/symcheck/knowledge"
	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/term"
	"github.com/symcheck/symcheck/trace"
)

type Outcome uint8

const (
	Verified Outcome = iota
	Violated
	// Unknown means no violation was found before exploration stopped on a
	// bound.
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case Violated:
		return "violated"
	}
	return "unknown"
}

type Result struct {
	Query   model.Query
	Outcome Outcome
	// Trace justifies a violation: the fewest attacker actions found.
	Trace trace.Trace
	// Run is the simulation run the trace was taken from, or -1 when the
	// trace comes from the merged attacker knowledge.
	Run int
	// Err is a model error only the simulation revealed, such as a subject
	// the honest run never defines.
	Err error
}

// Check decides one query.
func Check(res *attacker.Result, q model.Query) Result {
	switch q.Kind {
	case model.Confidentiality:
		return confidentiality(res, q)
	case model.Authentication:
		return authentication(res, q)
	case model.Freshness:
		return freshness(res, q)
	case model.Unlinkability:
		return unlinkability(res, q)
	}
	panic(fmt.Errorf("%w: unknown query kind %d", knowledge.ErrInternalInvariant, q.Kind))
}

// CheckAll decides queries on a pool of workers. Results are in query order.
// Queries not started before ctx is done are Unknown.
func CheckAll(ctx context.Context, res *attacker.Result, queries []model.Query, workers int) ([]Result, error) {
	results := make([]Result, len(queries))
	group := new(errgroup.Group)
	if workers > 0 {
		group.SetLimit(workers)
	}
	for i, q := range queries {
		i, q := i, q
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: checking %v: %v", knowledge.ErrInternalInvariant, q, r)
				}
			}()
			if ctx.Err() != nil {
				results[i] = Result{Query: q, Outcome: Unknown, Run: -1}
				return nil
			}
			results[i] = Check(res, q)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func undecided(res *attacker.Result, q model.Query) Result {
	if res.Complete {
		return Result{Query: q, Outcome: Verified, Run: -1}
	}
	return Result{Query: q, Outcome: Unknown, Run: -1}
}

// definer is the first principal that introduces name itself rather than
// receiving it.
func definer(m *model.Model, name string) (int, bool) {
	for i, p := range m.Principals {
		for _, s := range p.Statements {
			switch s.Kind {
			case model.Knows, model.Generates, model.Assign:
				for _, c := range s.Constants {
					if c == name {
						return i, true
					}
				}
			}
		}
	}
	return -1, false
}

func honestValue(res *attacker.Result, q model.Query) (term.Value, int, error) {
	name := q.Subject()
	p, ok := definer(res.Model, name)
	if !ok {
		return term.Value{}, -1, model.Errorf(q.Pos, "", "query on undeclared value %s", name)
	}
	v, ok := res.Honest().States[p].Lookup(name)
	if !ok {
		return term.Value{}, p, model.Errorf(q.Pos, res.Model.Principals[p].Name,
			"%s is never defined in the honest run", name)
	}
	return v, p, nil
}

func confidentiality(res *attacker.Result, q model.Query) Result {
	v, _, err := honestValue(res, q)
	if err != nil {
		return Result{Query: q, Outcome: Unknown, Run: -1, Err: err}
	}
	if !res.Attacker.Constructible(v) {
		return undecided(res, q)
	}
	found := res.Attacker.Actions(res.Attacker.Support(v))
	run := -1
	if !hasSubstitutions(found) {
		run = 0
	}
	return Result{Query: q, Outcome: Violated, Trace: found, Run: run}
}

func hasSubstitutions(t trace.Trace) bool {
	for _, a := range t {
		if a.Kind == trace.Substitute || a.Kind == trace.Inject {
			return true
		}
	}
	return false
}

func authentication(res *attacker.Result, q model.Query) Result {
	msg := q.Message
	r := res.PrincipalIndex(msg.Recipient)
	if r < 0 {
		err := model.Errorf(q.Pos, "", "unknown principal %s", msg.Recipient)
		return Result{Query: q, Outcome: Unknown, Run: -1, Err: err}
	}
	checks := dependentChecks(&res.Model.Principals[r], msg.Constant)
	best := -1
	for i, run := range res.Runs {
		if best >= 0 && run.Actions() >= res.Runs[best].Actions() {
			continue
		}
		if forged(res, run, msg, q.Options.Replayable) && accepted(run, r, checks) &&
			preconditionsHold(res, run, q.Options.Preconditions) {
			best = i
		}
	}
	if best < 0 {
		return undecided(res, q)
	}
	return Result{Query: q, Outcome: Violated, Trace: res.Runs[best].Substitutions, Run: best}
}

// forged reports whether the recipient of msg got a value the sender never
// sent for it: in this run up to the phase of the receipt or, if replays are
// acceptable, in any run at all.
func forged(res *attacker.Result, run *attacker.Run, msg model.Message, replayable bool) bool {
	for _, d := range run.Deliveries {
		if d.Recipient != msg.Recipient || d.Sender != msg.Sender || d.Constant != msg.Constant {
			continue
		}
		if !sentBy(res, run, msg, d, replayable) {
			return true
		}
	}
	return false
}

// preconditionsHold reports whether every precondition message reached its
// recipient in run exactly as its sender sent it.
func preconditionsHold(res *attacker.Result, run *attacker.Run, preconditions []model.Message) bool {
	for _, pre := range preconditions {
		if !delivered(run, pre) || forged(res, run, pre, false) {
			return false
		}
	}
	return true
}

func delivered(run *attacker.Run, msg model.Message) bool {
	for _, d := range run.Deliveries {
		if d.Recipient == msg.Recipient && d.Sender == msg.Sender && d.Constant == msg.Constant {
			return true
		}
	}
	return false
}

func sentBy(res *attacker.Result, run *attacker.Run, msg model.Message, d attacker.Delivery, replayable bool) bool {
	runs := []*attacker.Run{run}
	if replayable {
		runs = res.Runs
	}
	for _, r := range runs {
		for _, s := range r.Sends {
			if s.Sender != msg.Sender || s.Constant != msg.Constant {
				continue
			}
			if !replayable && s.Phase > d.Phase {
				continue
			}
			if s.Value.Equal(d.Value) {
				return true
			}
		}
	}
	return false
}

// dependentChecks lists the checked assignments of p whose expression
// depends, directly or through earlier assignments, on name.
func dependentChecks(p *model.Principal, name string) []int {
	deps := map[string]bool{name: true}
	var checks []int
	for i, s := range p.Statements {
		if s.Kind != model.Assign {
			continue
		}
		uses := false
		for _, c := range term.Constants(s.Expr) {
			if deps[c.Name()] {
				uses = true
				break
			}
		}
		if !uses {
			continue
		}
		if checked(s.Expr) {
			checks = append(checks, i)
		}
		for _, c := range s.Constants {
			deps[c] = true
		}
	}
	return checks
}

func checked(v term.Value) bool {
	if v.IsPrimitive() && v.Check() {
		return true
	}
	for _, child := range term.Children(v) {
		if checked(child) {
			return true
		}
	}
	return false
}

// accepted reports whether principal r got past every check in checks.
func accepted(run *attacker.Run, r int, checks []int) bool {
	for _, idx := range checks {
		if idx >= run.Executed[r] {
			return false
		}
	}
	return true
}

func freshness(res *attacker.Result, q model.Query) Result {
	_, p, err := honestValue(res, q)
	if err != nil {
		return Result{Query: q, Outcome: Unknown, Run: -1, Err: err}
	}
	if best := staleRun(res, p, q.Constant); best >= 0 {
		return Result{Query: q, Outcome: Violated, Trace: res.Runs[best].Substitutions, Run: best}
	}
	return undecided(res, q)
}

// staleRun returns the run with the fewest actions in which principal p binds
// name to a value that is the same in every session, or -1.
func staleRun(res *attacker.Result, p int, name string) int {
	generated := map[string]bool{}
	for _, g := range res.Model.Generated() {
		generated[g] = true
	}
	best := -1
	for i, run := range res.Runs {
		if best >= 0 && run.Actions() >= res.Runs[best].Actions() {
			continue
		}
		v, ok := run.States[p].Lookup(name)
		if ok && !fresh(v, generated) {
			best = i
		}
	}
	return best
}

// unlinkability requires every value to be fresh and no two of them to be a
// value the attacker holds twice over.
func unlinkability(res *attacker.Result, q model.Query) Result {
	values := make([]term.Value, len(q.Constants))
	for i, name := range q.Constants {
		single := q
		single.Kind = model.Freshness
		single.Constant = name
		v, p, err := honestValue(res, single)
		if err != nil {
			return Result{Query: q, Outcome: Unknown, Run: -1, Err: err}
		}
		if best := staleRun(res, p, name); best >= 0 {
			return Result{Query: q, Outcome: Violated, Trace: res.Runs[best].Substitutions, Run: best}
		}
		values[i] = v
	}
	for i := range values {
		for j := i + 1; j < len(values); j++ {
			if !values[i].Equal(values[j]) || !res.Attacker.Constructible(values[i]) {
				continue
			}
			found := res.Attacker.Actions(res.Attacker.Support(values[i]))
			run := -1
			if !hasSubstitutions(found) {
				run = 0
			}
			return Result{Query: q, Outcome: Violated, Trace: found, Run: run}
		}
	}
	return undecided(res, q)
}

// fresh instantiates v for two sessions, renaming generated constants apart,
// and reports whether the instances differ.
func fresh(v term.Value, generated map[string]bool) bool {
	session := func(n int) func(string) string {
		return func(name string) string {
			if generated[name] {
				return fmt.Sprintf("%s#%d", name, n)
			}
			return name
		}
	}
	return !term.Rename(v, session(1)).Equal(term.Rename(v, session(2)))
}
