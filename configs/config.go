// Package configs reads run configurations for the symcheck command.
package configs

import (
	"time"

	"github.com/spf13/viper"

	"github.com/symcheck/symcheck"
)

type Root struct {
	MaxDepth     int
	MaxBranches  int
	MaxKnowledge int
	Workers      int

	// Queries selects queries by index; empty checks them all.
	Queries []int

	// Timeout cancels exploration after this long; zero never does.
	Timeout time.Duration

	CacheDir  string
	TraceFile string
}

func ReadConfig(path string) (Root, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Root{}, err
	}
	var c Root
	err := v.Unmarshal(&c)
	return c, err
}

// Options turns the exploration settings into Verify options. Zero settings
// keep Verify's defaults.
func (c Root) Options() []symcheck.ConfigFn {
	var fns []symcheck.ConfigFn
	if c.MaxDepth > 0 {
		fns = append(fns, symcheck.SetMaxDepth(c.MaxDepth))
	}
	if c.MaxBranches > 0 {
		fns = append(fns, symcheck.SetMaxBranches(c.MaxBranches))
	}
	if c.MaxKnowledge > 0 {
		fns = append(fns, symcheck.SetMaxKnowledge(c.MaxKnowledge))
	}
	if c.Workers > 0 {
		fns = append(fns, symcheck.SetWorkers(c.Workers))
	}
	if len(c.Queries) > 0 {
		fns = append(fns, symcheck.SelectQueries(c.Queries...))
	}
	return fns
}
