// Package attacker simulates a protocol model under a network attacker.
//
// The honest run executes every principal once with all messages delivered
// untouched; it fixes the slots, the unguarded receives the attacker can
// tamper with. An active attacker then explores substitutions at those slots
// by iterative deepening: at depth d, every branch substitutes at most d
// slots, and injected values nest at most d levels. Branches of one depth run
// on a worker pool over a shared, persistent copy of the attacker's
// knowledge; their knowledge is merged in branch order before the next depth
// starts.
package attacker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/symcheck/symcheck/knowledge"
	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/sanity"
	"github.com/symcheck/symcheck/term"
)

// ErrBoundExceeded is reported when exploration stops on a bound before
// reaching a fixpoint.
var ErrBoundExceeded = errors.New("exploration bound exceeded")

// BoundError names the bound that stopped exploration. It wraps
// ErrBoundExceeded.
type BoundError struct {
	// Bound is one of "depth", "branches", "knowledge" or "candidates".
	Bound string
	Limit int
}

func (e *BoundError) Error() string {
	return fmt.Sprintf("%v: %s limit %d reached", ErrBoundExceeded, e.Bound, e.Limit)
}

func (e *BoundError) Unwrap() error {
	return ErrBoundExceeded
}

// Own is the attacker's own constant; G^Own is its public key.
var Own = term.MakeConstant(sanity.AttackerPrefix)

type Config struct {
	MaxDepth     int
	MaxBranches  int
	MaxKnowledge int
	Workers      int
	Logger       *log.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxDepth:     6,
		MaxBranches:  20000,
		MaxKnowledge: 20000,
		Workers:      runtime.NumCPU(),
		Logger:       log.New(io.Discard, "", 0),
	}
}

func (cfg Config) withDefaults() Config {
	defaults := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaults.MaxDepth
	}
	if cfg.MaxBranches <= 0 {
		cfg.MaxBranches = defaults.MaxBranches
	}
	if cfg.MaxKnowledge <= 0 {
		cfg.MaxKnowledge = defaults.MaxKnowledge
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	return cfg
}

// Result is everything a simulation found. It is not modified after Simulate
// returns and may be read concurrently.
type Result struct {
	Model *model.Model
	Slots []Slot
	// Runs[0] is the honest run; branches follow in execution order.
	Runs []*Run
	// Attacker is the merged attacker knowledge at the end of the last phase.
	Attacker knowledge.Map
	// Phases[p] is the merged attacker knowledge at the end of phase p.
	Phases   []knowledge.Map
	Complete bool
	Depth    int
	// Stop says why exploration ended before a fixpoint: a *BoundError or a
	// context error.
	Stop error
}

func (r *Result) Honest() *Run {
	return r.Runs[0]
}

// Branches counts the runs explored besides the honest one.
func (r *Result) Branches() int {
	return len(r.Runs) - 1
}

func (r *Result) PrincipalIndex(name string) int {
	for i := range r.Model.Principals {
		if r.Model.Principals[i].Name == name {
			return i
		}
	}
	return -1
}

func phaseCount(m *model.Model) int {
	last := 0
	for _, p := range m.Principals {
		for _, s := range p.Statements {
			if s.Kind == model.PhaseChange && s.Phase > last {
				last = s.Phase
			}
		}
	}
	return last + 1
}

// initialKnowledge is what the attacker holds before anything is sent: G,
// nil, its own constant and public key, and every public constant.
func initialKnowledge(m *model.Model) knowledge.Map {
	var passwords, public []term.Value
	for _, p := range m.Principals {
		for _, s := range p.Statements {
			if s.Kind != model.Knows {
				continue
			}
			for _, name := range s.Constants {
				c := term.MakeConstant(name)
				switch s.Qualifier {
				case model.Password:
					if term.IndexOf(passwords, c) < 0 {
						passwords = append(passwords, c)
					}
				case model.Public:
					if term.IndexOf(public, c) < 0 {
						public = append(public, c)
					}
				}
			}
		}
	}
	km := knowledge.NewMap(passwords...).
		Extend(term.G, knowledge.Initial, nil, nil).
		Extend(term.Nil, knowledge.Initial, nil, nil).
		Extend(Own, knowledge.Initial, nil, nil).
		Extend(term.MakeEquation(term.G, Own), knowledge.Derived, []term.Value{term.G, Own}, nil)
	for _, c := range public {
		km = km.Extend(c, knowledge.Initial, nil, nil)
	}
	return km
}

// Simulate runs the honest run and, for an active attacker, explores
// substitutions until a fixpoint or a bound. Reaching a bound or a cancelled
// ctx is not an error; it leaves Complete unset and Stop explaining why.
// Errors are internal invariant violations, including merged knowledge that
// fails its audit.
func Simulate(ctx context.Context, m *model.Model, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	phases := phaseCount(m)
	initial := initialKnowledge(m)
	bases := make([]knowledge.Map, phases)
	for p := range bases {
		bases[p] = initial
	}

	honestExec := &executor{m: m, phases: phases, bases: bases, collecting: true}
	honest := honestExec.execute()
	copy(bases, honest.snapshots)
	honest.snapshots = nil
	if err := audit(bases); err != nil {
		return nil, fmt.Errorf("after the honest run: %w", err)
	}

	res := &Result{
		Model:    m,
		Runs:     []*Run{honest},
		Attacker: bases[phases-1],
	}
	defer func() {
		res.Phases = append([]knowledge.Map(nil), bases...)
	}()
	cfg.Logger.Printf("honest run: %d messages, attacker holds %d values", len(honest.Sends), res.Attacker.Len())
	if m.Attacker == model.Passive {
		res.Complete = true
		return res, nil
	}

	res.Slots = honestExec.found
	slotIndex := make(map[slotKey]int, len(res.Slots))
	for _, s := range res.Slots {
		key := slotKey{principal: res.PrincipalIndex(s.Recipient), statement: s.Statement, constant: s.Position}
		slotIndex[key] = s.Index
	}
	seen := map[string]bool{}
	computeCandidates := func(depth int) ([][]term.Value, bool) {
		out := make([][]term.Value, len(res.Slots))
		truncated := false
		for i, s := range res.Slots {
			var cut bool
			out[i], cut = candidates(s.Honest, bases[s.Phase], depth, cfg.MaxBranches)
			truncated = truncated || cut
		}
		return out, truncated
	}

	cands, candsCut := computeCandidates(1)
	for depth := 1; ; depth++ {
		if err := ctx.Err(); err != nil {
			res.Stop = err
			break
		}
		if depth > cfg.MaxDepth {
			res.Stop = &BoundError{Bound: "depth", Limit: cfg.MaxDepth}
			break
		}
		res.Depth = depth

		maxSubs := depth
		if maxSubs > len(res.Slots) {
			maxSubs = len(res.Slots)
		}
		plans, truncated := enumerate(cands, maxSubs, seen, cfg.MaxBranches-res.Branches())
		proto := executor{m: m, phases: phases, bases: append([]knowledge.Map(nil), bases...), slots: slotIndex}
		runs, err := runBranches(ctx, cfg, proto, plans, depth, len(res.Runs))
		if err != nil {
			return nil, err
		}

		before := res.Attacker.Len()
		cancelled := false
		for _, run := range runs {
			if run == nil {
				cancelled = true
				continue
			}
			for p := range bases {
				bases[p] = bases[p].Merge(run.snapshots[p], run.Substitutions)
			}
			run.snapshots = nil
			res.Runs = append(res.Runs, run)
		}
		if err := audit(bases); err != nil {
			return nil, fmt.Errorf("after depth %d: %w", depth, err)
		}
		res.Attacker = bases[phases-1]
		cfg.Logger.Printf("depth %d: %d slots, %d new branches, attacker holds %d values",
			depth, len(res.Slots), len(plans), res.Attacker.Len())

		if cancelled || ctx.Err() != nil {
			res.Stop = ctx.Err()
			break
		}
		if truncated {
			res.Stop = &BoundError{Bound: "branches", Limit: cfg.MaxBranches}
			break
		}
		if candsCut {
			res.Stop = &BoundError{Bound: "candidates", Limit: cfg.MaxBranches}
			break
		}
		if res.Attacker.Len() > cfg.MaxKnowledge {
			res.Stop = &BoundError{Bound: "knowledge", Limit: cfg.MaxKnowledge}
			break
		}
		next, nextCut := computeCandidates(depth + 1)
		if res.Attacker.Len() == before && depth >= len(res.Slots) && !nextCut && sameCandidates(cands, next) {
			res.Complete = true
			break
		}
		cands, candsCut = next, nextCut
	}
	return res, nil
}

// audit checks every phase's attacker knowledge for entries that earlier
// entries do not justify.
func audit(bases []knowledge.Map) error {
	for p := range bases {
		if err := bases[p].Audit(); err != nil {
			return fmt.Errorf("phase %d: %w", p, err)
		}
	}
	return nil
}

// enumerate lists the substitution plans substituting between 1 and maxSubs
// slots, skipping plans already in seen. At most budget plans are returned;
// truncated reports that more were left.
func enumerate(cands [][]term.Value, maxSubs int, seen map[string]bool, budget int) (plans []map[int]term.Value, truncated bool) {
	for k := 1; k <= maxSubs; k++ {
		cont := subsets(len(cands), k, func(chosen []int) bool {
			ceilings := make([]int, k)
			for i, s := range chosen {
				ceilings[i] = len(cands[s]) - 1
				if ceilings[i] == 0 {
					return true
				}
			}
			for cnt := makeBranchCounter(ceilings); !cnt.Done(); cnt.Next() {
				plan := make(map[int]term.Value, k)
				key := strings.Builder{}
				for i, s := range chosen {
					v := cands[s][cnt.Digits()[i]+1]
					plan[s] = v
					fmt.Fprintf(&key, "%d=%v;", s, v)
				}
				if seen[key.String()] {
					continue
				}
				if len(plans) >= budget {
					truncated = true
					return false
				}
				seen[key.String()] = true
				plans = append(plans, plan)
			}
			return true
		})
		if !cont {
			break
		}
	}
	return plans, truncated
}

func runBranches(ctx context.Context, cfg Config, proto executor, plans []map[int]term.Value, depth, offset int) ([]*Run, error) {
	runs := make([]*Run, len(plans))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Workers)
	for i, plan := range plans {
		if groupCtx.Err() != nil {
			break
		}
		i, plan := i, plan
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = invariantError(r)
				}
			}()
			if groupCtx.Err() != nil {
				return nil
			}
			e := proto
			e.plan = plan
			run := e.execute()
			run.Index = offset + i
			run.Depth = depth
			runs[i] = run
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

func invariantError(r interface{}) error {
	if err, ok := r.(error); ok {
		if errors.Is(err, knowledge.ErrInternalInvariant) {
			return err
		}
		return fmt.Errorf("%w: %v", knowledge.ErrInternalInvariant, err)
	}
	return fmt.Errorf("%w: %v", knowledge.ErrInternalInvariant, r)
}
