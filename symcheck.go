// Package symcheck verifies symbolic models of cryptographic protocols against
// a Dolev-Yao network attacker.
//
// Verify checks a model statically, simulates it under the model's attacker,
// and decides each query as Verified, Violated (with an attack trace) or
// Unknown, the last when exploration stopped on a bound before reaching a
// fixpoint.
package symcheck

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/symcheck/symcheck/attacker"
	"github.com/symcheck/symcheck/knowledge"
	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/query"
	"github.com/symcheck/symcheck/sanity"
	"github.com/symcheck/symcheck/store"
	"github.com/symcheck/symcheck/trace"
)

var (
	// ErrModel wraps every diagnostic about an ill-formed model.
	ErrModel = model.ErrModel
	// ErrBoundExceeded explains why a report is not Complete.
	ErrBoundExceeded = attacker.ErrBoundExceeded
	// ErrInternalInvariant is a defect in the verifier itself.
	ErrInternalInvariant = knowledge.ErrInternalInvariant
)

func defaultConfig() config {
	return config{attacker: attacker.DefaultConfig()}
}

// Verify decides the queries of m. An ill-formed model returns an error
// wrapping ErrModel, with every diagnostic also listed in the report; nothing
// is simulated then. Reaching a bound or a cancelled ctx is not an error: the
// report is not Complete and undecided queries are Unknown.
func Verify(ctx context.Context, m *model.Model, configFns ...ConfigFn) (report Report, err error) {
	cfg := defaultConfig()
	for _, fn := range configFns {
		fn(&cfg)
	}
	logger := cfg.attacker.Logger
	defer func() {
		if r := recover(); r != nil {
			report = Report{}
			if rErr, ok := r.(error); ok && errors.Is(rErr, ErrInternalInvariant) {
				err = rErr
			} else {
				err = fmt.Errorf("%w: %v", ErrInternalInvariant, r)
			}
		}
	}()

	if err := sanity.Check(m); err != nil {
		return Report{Diagnostics: sanity.Diagnostics(err)}, err
	}
	queries, err := selectQueries(m, cfg.queries)
	if err != nil {
		return Report{}, err
	}

	var key store.Key
	if cfg.cache != nil {
		key, err = cacheKey(m, cfg)
		if err != nil {
			return Report{}, err
		}
		found, err := cfg.cache.Get(key, &report)
		if err != nil {
			return Report{}, err
		}
		if found {
			if logger != nil {
				logger.Printf("cache hit for %016x", key.Fingerprint)
			}
			return report, record(cfg.recorder, report)
		}
	}

	res, err := attacker.Simulate(ctx, m, cfg.attacker)
	if err != nil {
		return Report{}, err
	}
	results, err := query.CheckAll(ctx, res, queries, cfg.attacker.Workers)
	if err != nil {
		return Report{}, err
	}

	report = Report{
		Complete: res.Complete,
		Stop:     res.Stop,
		Depth:    res.Depth,
		Branches: res.Branches(),
	}
	// a principal stopped by a model error leaves its later values undefined;
	// only queries on those values are affected
	if errs := res.Honest().Errors; len(errs) > 0 {
		report.Diagnostics = diagnostics(errs)
		if logger != nil {
			logger.Printf("honest run: %v", multierr.Combine(errs...))
		}
	}
	for _, r := range results {
		if r.Err != nil {
			report.Diagnostics = append(report.Diagnostics, diagnostics([]error{r.Err})...)
		}
		report.Results = append(report.Results, QueryResult{Query: r.Query, Result: r.Outcome, Trace: r.Trace})
	}
	if err := record(cfg.recorder, report); err != nil {
		return report, err
	}

	// a report cut short by ctx depends on timing, so it is not cached
	if cfg.cache != nil && ctx.Err() == nil {
		if err := cfg.cache.Put(key, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func selectQueries(m *model.Model, indices []int) ([]model.Query, error) {
	if indices == nil {
		return m.Queries, nil
	}
	out := make([]model.Query, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(m.Queries) {
			return nil, fmt.Errorf("%w: no query %d, the model has %d", ErrModel, i, len(m.Queries))
		}
		out = append(out, m.Queries[i])
	}
	return out, nil
}

func cacheKey(m *model.Model, cfg config) (store.Key, error) {
	fingerprint, err := m.Fingerprint()
	if err != nil {
		return store.Key{}, fmt.Errorf("fingerprinting model: %w", err)
	}
	bounds := cfg.attacker
	defaults := attacker.DefaultConfig()
	if bounds.MaxDepth <= 0 {
		bounds.MaxDepth = defaults.MaxDepth
	}
	if bounds.MaxBranches <= 0 {
		bounds.MaxBranches = defaults.MaxBranches
	}
	if bounds.MaxKnowledge <= 0 {
		bounds.MaxKnowledge = defaults.MaxKnowledge
	}
	return store.Key{
		Fingerprint:  fingerprint,
		MaxDepth:     bounds.MaxDepth,
		MaxBranches:  bounds.MaxBranches,
		MaxKnowledge: bounds.MaxKnowledge,
		Queries:      cfg.queries,
	}, nil
}

func diagnostics(errs []error) []*model.Diagnostic {
	var out []*model.Diagnostic
	for _, err := range errs {
		var d *model.Diagnostic
		if errors.As(err, &d) {
			out = append(out, d)
		}
	}
	return out
}

func record(recorder trace.Recorder, report Report) error {
	if recorder == nil {
		return nil
	}
	for _, r := range report.Results {
		err := recorder.RecordEvent(trace.Event{
			Query:  r.Query.String(),
			Result: r.Result.String(),
			Trace:  r.Trace,
		})
		if err != nil {
			return fmt.Errorf("recording %v: %w", r.Query, err)
		}
	}
	return nil
}
