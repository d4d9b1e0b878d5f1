package symcheck

import (
	"log"

	"github.com/symcheck/symcheck/attacker"
	"github.com/symcheck/symcheck/store"
	"github.com/symcheck/symcheck/trace"
)

type config struct {
	attacker attacker.Config
	// queries are indices into the model's queries; nil selects all
	queries  []int
	recorder trace.Recorder
	cache    *store.Cache
}

// ConfigFn configures one call to Verify.
type ConfigFn func(cfg *config)

// SetMaxDepth bounds iterative deepening: at depth d a branch substitutes at
// most d messages and injects values nested at most d levels.
func SetMaxDepth(depth int) ConfigFn {
	return func(cfg *config) {
		cfg.attacker.MaxDepth = depth
	}
}

// SetMaxBranches bounds the number of branches explored over all depths.
func SetMaxBranches(branches int) ConfigFn {
	return func(cfg *config) {
		cfg.attacker.MaxBranches = branches
	}
}

// SetMaxKnowledge bounds how many values the attacker may hold.
func SetMaxKnowledge(values int) ConfigFn {
	return func(cfg *config) {
		cfg.attacker.MaxKnowledge = values
	}
}

func SetWorkers(workers int) ConfigFn {
	return func(cfg *config) {
		cfg.attacker.Workers = workers
	}
}

// SelectQueries restricts checking to the queries at the given indices.
func SelectQueries(indices ...int) ConfigFn {
	return func(cfg *config) {
		cfg.queries = append([]int(nil), indices...)
	}
}

func SetLogger(logger *log.Logger) ConfigFn {
	return func(cfg *config) {
		cfg.attacker.Logger = logger
	}
}

// SetTraceRecorder receives one event per checked query.
func SetTraceRecorder(recorder trace.Recorder) ConfigFn {
	return func(cfg *config) {
		cfg.recorder = recorder
	}
}

// SetCache reuses reports for models already verified under the same bounds.
func SetCache(cache *store.Cache) ConfigFn {
	return func(cfg *config) {
		cfg.cache = cache
	}
}
